package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

func TestTrialLifecycle_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	trial := models.Trial{
		ID:        uuid.New(),
		UserUID:   "user-trial",
		StartTime: now,
		EndTime:   now.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, storage.CreateTrial(ctx, trial))

	got, err := storage.ReadLatestTrial(ctx, "user-trial")
	require.NoError(t, err)
	assert.Equal(t, trial.ID, got.ID)
	assert.False(t, got.IsUsed)
	assert.WithinDuration(t, trial.EndTime, got.EndTime, time.Second)

	_, err = storage.ReadLatestTrial(ctx, "user-unknown")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// Два триала у одного пользователя: читается самый свежий
	later := models.Trial{
		ID:        uuid.New(),
		UserUID:   "user-trial",
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(time.Hour + 7*24*time.Hour),
	}
	require.NoError(t, storage.CreateTrial(ctx, later))
	got, err = storage.ReadLatestTrial(ctx, "user-trial")
	require.NoError(t, err)
	assert.Equal(t, later.ID, got.ID)

	// Первая отметка трогает одну строку, повторная — ноль
	count, err := storage.MarkTrialUsed(ctx, "user-trial")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = storage.MarkTrialUsed(ctx, "user-trial")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSweepExpiredTrials_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	expired := models.Trial{
		ID:        uuid.New(),
		UserUID:   "user-expired",
		StartTime: now.Add(-8 * 24 * time.Hour),
		EndTime:   now.Add(-24 * time.Hour),
	}
	active := models.Trial{
		ID:        uuid.New(),
		UserUID:   "user-active",
		StartTime: now,
		EndTime:   now.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, storage.CreateTrial(ctx, expired))
	require.NoError(t, storage.CreateTrial(ctx, active))

	swept, err := storage.SweepExpiredTrials(ctx, now)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, "user-expired", swept[0].UserUID)
	assert.True(t, swept[0].IsUsed)

	// Повторный проход ничего не находит: отметка is_used терминальна
	swept, err = storage.SweepExpiredTrials(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, swept)
}

func TestSubscriptionOneActivePerUser_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	planID := seedPlan(t, storage, "monthly", 30, 499, true)
	now := time.Now().UTC()

	first := models.Subscription{
		ID:          uuid.New(),
		UserUID:     "user-sub",
		PlanID:      planID,
		Status:      models.StatusActive,
		PeriodStart: now,
		PeriodEnd:   now.Add(30 * 24 * time.Hour),
		Metadata:    map[string]string{"payment_ref": "pay-1"},
	}
	require.NoError(t, storage.CreateSubscription(ctx, first))

	// Вторая active-строка упирается в частичный уникальный индекс
	second := first
	second.ID = uuid.New()
	second.Metadata = map[string]string{"payment_ref": "pay-2"}
	err := storage.CreateSubscription(ctx, second)
	assert.ErrorIs(t, err, apperr.ErrStoreConflict)

	// После архивации старой строки вставка проходит
	count, err := storage.ArchiveActiveSubscription(ctx, "user-sub")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NoError(t, storage.CreateSubscription(ctx, second))

	got, err := storage.ReadActiveSubscription(ctx, "user-sub")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, "pay-2", got.Metadata["payment_ref"])
}

func TestExpireStaleSubscriptions_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	planID := seedPlan(t, storage, "monthly", 30, 499, true)
	now := time.Now().UTC()
	seedSubscription(t, storage, "user-stale", planID, models.StatusActive,
		now.Add(-31*24*time.Hour), now.Add(-24*time.Hour))

	count, err := storage.ExpireStaleSubscriptions(ctx, "user-stale", now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = storage.ReadActiveSubscription(ctx, "user-stale")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// Действующая подписка не задевается
	seedSubscription(t, storage, "user-live", planID, models.StatusActive,
		now, now.Add(30*24*time.Hour))
	count, err = storage.ExpireStaleSubscriptions(ctx, "user-live", now)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSweepExpiredSubscriptions_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	planID := seedPlan(t, storage, "monthly", 30, 499, true)
	now := time.Now().UTC()
	seedSubscription(t, storage, "user-a", planID, models.StatusActive,
		now.Add(-61*24*time.Hour), now.Add(-31*24*time.Hour))
	seedSubscription(t, storage, "user-b", planID, models.StatusActive,
		now, now.Add(30*24*time.Hour))

	swept, err := storage.SweepExpiredSubscriptions(ctx, now)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, "user-a", swept[0].UserUID)
	assert.Equal(t, models.StatusExpired, swept[0].Status)

	swept, err = storage.SweepExpiredSubscriptions(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, swept)
}

func TestSetCancelAtPeriodEnd_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	planID := seedPlan(t, storage, "monthly", 30, 499, true)
	now := time.Now().UTC()
	seedSubscription(t, storage, "user-cancel", planID, models.StatusActive,
		now, now.Add(30*24*time.Hour))

	count, err := storage.SetCancelAtPeriodEnd(ctx, "user-cancel")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := storage.ReadActiveSubscription(ctx, "user-cancel")
	require.NoError(t, err)
	assert.True(t, got.CancelAtPeriodEnd)
	assert.Equal(t, models.StatusActive, got.Status)

	count, err = storage.SetCancelAtPeriodEnd(ctx, "user-none")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUsageCounters_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	const period = "2026-08"

	sum, err := storage.SumUsage(ctx, "user-usage", "meal_plans", period)
	require.NoError(t, err)
	assert.Equal(t, 0, sum)

	require.NoError(t, storage.IncrementUsage(ctx, "user-usage", "meal_plans", period, 1))
	require.NoError(t, storage.IncrementUsage(ctx, "user-usage", "meal_plans", period, 2))

	sum, err = storage.SumUsage(ctx, "user-usage", "meal_plans", period)
	require.NoError(t, err)
	assert.Equal(t, 3, sum)

	// Другая фича и другой период считаются отдельно
	require.NoError(t, storage.IncrementUsage(ctx, "user-usage", "recipes", period, 5))
	require.NoError(t, storage.IncrementUsage(ctx, "user-usage", "meal_plans", "2026-09", 1))

	sum, err = storage.SumUsage(ctx, "user-usage", "meal_plans", period)
	require.NoError(t, err)
	assert.Equal(t, 3, sum)

	sum, err = storage.SumUsage(ctx, "user-usage", "meal_plans", "2026-09")
	require.NoError(t, err)
	assert.Equal(t, 1, sum)
}

func TestPaymentClaimIdempotency_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	planID := seedPlan(t, storage, "monthly", 30, 499, true)
	tx := models.PaymentTransaction{
		ID:               uuid.New(),
		UserUID:          "user-pay",
		PlanID:           planID,
		GatewayReference: "gw-ref-1",
		Amount:           499,
		Currency:         "RUB",
		Status:           models.PaymentPending,
		Metadata:         map[string]string{"source": "webhook"},
	}

	claimed, err := storage.ClaimPaymentTransaction(ctx, tx)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Повторная доставка с той же ссылкой не создаёт вторую строку
	replay := tx
	replay.ID = uuid.New()
	claimed, err = storage.ClaimPaymentTransaction(ctx, replay)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := storage.ReadPaymentTransaction(ctx, "gw-ref-1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, models.PaymentPending, got.Status)
	assert.InDelta(t, 499, got.Amount, 0.001)

	// Перевод в completed срабатывает ровно один раз
	count, err := storage.CompletePaymentTransaction(ctx, "gw-ref-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = storage.CompletePaymentTransaction(ctx, "gw-ref-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err = storage.ReadPaymentTransaction(ctx, "gw-ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, got.Status)

	// failed из completed недостижим
	count, err = storage.FailPaymentTransaction(ctx, "gw-ref-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// Сорванная после захвата активация оставляет строку в failed. Возврат её в
// pending открывает повторной сверке путь до completed.
func TestReopenFailedPayment_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	planID := seedPlan(t, storage, "monthly", 30, 499, true)
	tx := models.PaymentTransaction{
		ID:               uuid.New(),
		UserUID:          "user-retry",
		PlanID:           planID,
		GatewayReference: "gw-ref-2",
		Amount:           499,
		Currency:         "RUB",
		Status:           models.PaymentPending,
	}

	claimed, err := storage.ClaimPaymentTransaction(ctx, tx)
	require.NoError(t, err)
	require.True(t, claimed)

	count, err := storage.FailPaymentTransaction(ctx, "gw-ref-2")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// completed из failed напрямую недостижим
	count, err = storage.CompletePaymentTransaction(ctx, "gw-ref-2")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = storage.ReopenPaymentTransaction(ctx, "gw-ref-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// повторный возврат — no-op, строка уже pending
	count, err = storage.ReopenPaymentTransaction(ctx, "gw-ref-2")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = storage.CompletePaymentTransaction(ctx, "gw-ref-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := storage.ReadPaymentTransaction(ctx, "gw-ref-2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, got.Status)
}

func TestWebhookEventDedupe_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	event := models.WebhookEvent{
		ID:             uuid.New(),
		GatewayEventID: "evt-1",
		EventType:      "payment.succeeded",
		RawPayload:     []byte(`{"event":"payment.succeeded"}`),
		SignatureValid: true,
	}

	created, err := storage.InsertWebhookEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, created)

	redelivery := event
	redelivery.ID = uuid.New()
	created, err = storage.InsertWebhookEvent(ctx, redelivery)
	require.NoError(t, err)
	assert.False(t, created)

	count, err := storage.MarkWebhookProcessed(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = storage.MarkWebhookProcessed(ctx, redelivery.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Повторная доставка читает исходную запись по идентификатору шлюза
	stored, err := storage.ReadWebhookEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, event.ID, stored.ID)
	assert.True(t, stored.Processed)
	assert.True(t, stored.SignatureValid)

	_, err = storage.ReadWebhookEvent(ctx, "evt-unknown")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPlanCatalog_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	cheapID := seedPlan(t, storage, "monthly-basic", 30, 299, true)
	seedPlan(t, storage, "monthly-premium", 30, 799, true)
	seedPlan(t, storage, "yearly-draft", 365, 0, false)

	got, err := storage.ReadPlanByDuration(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, cheapID, got.ID)

	_, err = storage.ReadPlanByDuration(ctx, 90)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	plans, err := storage.ListActivePlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "monthly-basic", plans[0].Name)
	assert.Equal(t, "monthly-premium", plans[1].Name)
	assert.Equal(t, 30, plans[0].FeatureLimit("meal_plans"))
}

func TestRefinePlanPrice_Integration(t *testing.T) {
	storage, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	draftID := seedPlan(t, storage, "custom-14", 14, 0, false)
	pricedID := seedPlan(t, storage, "monthly", 30, 499, true)

	// Нулевой план уточняется и активируется
	count, err := storage.RefinePlanPrice(ctx, draftID, 349)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := storage.ReadPlanByID(ctx, draftID)
	require.NoError(t, err)
	assert.InDelta(t, 349, got.Price, 0.001)
	assert.True(t, got.IsActive)

	// План с установленной ценой не перезаписывается
	count, err = storage.RefinePlanPrice(ctx, pricedID, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err = storage.ReadPlanByID(ctx, pricedID)
	require.NoError(t, err)
	assert.InDelta(t, 499, got.Price, 0.001)
}
