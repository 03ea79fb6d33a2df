package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

type WebhookRepoMock struct{ mock.Mock }

func (m *WebhookRepoMock) InsertWebhookEvent(ctx context.Context, event models.WebhookEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}
func (m *WebhookRepoMock) ReadWebhookEvent(ctx context.Context, gatewayEventID string) (*models.WebhookEvent, error) {
	args := m.Called(ctx, gatewayEventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WebhookEvent), args.Error(1)
}
func (m *WebhookRepoMock) MarkWebhookProcessed(ctx context.Context, id uuid.UUID) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

const testSecret = "webhook-secret"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func succeededEvent(eventID, ref string) []byte {
	return fmt.Appendf(nil, `{
		"id": %q,
		"event": "payment.succeeded",
		"object": {
			"id": %q,
			"status": "succeeded",
			"amount": {"value": "499.00", "currency": "RUB"},
			"metadata": {"user_uid": "user-1", "duration": "30"}
		}
	}`, eventID, ref)
}

func newProcessor(whRepo *WebhookRepoMock, payments *Service) *WebhookProcessor {
	return NewWebhookProcessor(whRepo, payments, testSecret, newNoopLogger())
}

func TestWebhookProcessor_Process_PaymentSucceeded(t *testing.T) {
	body := succeededEvent("evt-1", "pay-1")
	planID := uuid.New()

	whRepo := new(WebhookRepoMock)
	whRepo.On("InsertWebhookEvent", mock.Anything, mock.MatchedBy(func(e models.WebhookEvent) bool {
		return e.GatewayEventID == "evt-1" && e.SignatureValid
	})).Return(true, nil).Once()
	whRepo.On("MarkWebhookProcessed", mock.Anything, mock.Anything).Return(1, nil).Once()

	repo := new(RepoMock)
	repo.On("ReadPaymentTransaction", mock.Anything, "pay-1").
		Return(nil, apperr.ErrNotFound).Once()
	gateway := new(GatewayMock)
	gateway.On("GetPayment", mock.Anything, "pay-1").Return(succeededPayment("pay-1"), nil).Once()
	catalog := new(CatalogMock)
	catalog.On("GetOrCreateByDuration", mock.Anything, 30).
		Return(&models.Plan{ID: planID, Duration: 30}, nil).Once()
	repo.On("ClaimPaymentTransaction", mock.Anything, mock.Anything).Return(true, nil).Once()
	activator := new(ActivatorMock)
	activator.On("Activate", mock.Anything, "user-1", 30, "pay-1").
		Return(activeSubscription(planID), nil).Once()
	catalog.On("RefinePrice", mock.Anything, planID, 499.00).Return(nil).Once()
	repo.On("CompletePaymentTransaction", mock.Anything, "pay-1").Return(1, nil).Once()

	payments := New(repo, gateway, activator, catalog, newNoopLogger())
	outcome, err := newProcessor(whRepo, payments).Process(context.Background(), body, sign(body))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	whRepo.AssertExpectations(t)
	repo.AssertExpectations(t)
}

// Невалидная подпись — не ошибка: событие записывается для аудита с
// signature_valid=false и не обрабатывается.
func TestWebhookProcessor_Process_InvalidSignatureRecorded(t *testing.T) {
	body := succeededEvent("evt-1", "pay-1")

	whRepo := new(WebhookRepoMock)
	whRepo.On("InsertWebhookEvent", mock.Anything, mock.MatchedBy(func(e models.WebhookEvent) bool {
		return e.GatewayEventID == "evt-1" && !e.SignatureValid
	})).Return(true, nil).Once()

	activator := new(ActivatorMock)
	payments := New(new(RepoMock), new(GatewayMock), activator, new(CatalogMock), newNoopLogger())
	outcome, err := newProcessor(whRepo, payments).Process(context.Background(), body, "bogus")

	assert.NoError(t, err)
	assert.Equal(t, OutcomeInvalidSignature, outcome)
	activator.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	whRepo.AssertExpectations(t)
}

func TestWebhookProcessor_Process_DuplicateDelivery(t *testing.T) {
	body := succeededEvent("evt-1", "pay-1")

	whRepo := new(WebhookRepoMock)
	whRepo.On("InsertWebhookEvent", mock.Anything, mock.Anything).Return(false, nil).Once()
	whRepo.On("ReadWebhookEvent", mock.Anything, "evt-1").Return(&models.WebhookEvent{
		ID:             uuid.New(),
		GatewayEventID: "evt-1",
		SignatureValid: true,
		Processed:      true,
	}, nil).Once()

	activator := new(ActivatorMock)
	payments := New(new(RepoMock), new(GatewayMock), activator, new(CatalogMock), newNoopLogger())
	outcome, err := newProcessor(whRepo, payments).Process(context.Background(), body, sign(body))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	activator.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	whRepo.AssertExpectations(t)
}

// Первая доставка записала событие, но упала до активации. Повторная доставка
// находит необработанное событие с валидной подписью и доводит его до конца:
// журнал платежей делает повторный прогон безопасным.
func TestWebhookProcessor_Process_RedeliveryResumesUnprocessed(t *testing.T) {
	body := succeededEvent("evt-1", "pay-1")
	planID := uuid.New()
	storedID := uuid.New()

	whRepo := new(WebhookRepoMock)
	whRepo.On("InsertWebhookEvent", mock.Anything, mock.Anything).Return(false, nil).Once()
	whRepo.On("ReadWebhookEvent", mock.Anything, "evt-1").Return(&models.WebhookEvent{
		ID:             storedID,
		GatewayEventID: "evt-1",
		EventType:      "payment.succeeded",
		SignatureValid: true,
		Processed:      false,
	}, nil).Once()
	whRepo.On("MarkWebhookProcessed", mock.Anything, storedID).Return(1, nil).Once()

	repo := new(RepoMock)
	repo.On("ReadPaymentTransaction", mock.Anything, "pay-1").
		Return(nil, apperr.ErrNotFound).Once()
	gateway := new(GatewayMock)
	gateway.On("GetPayment", mock.Anything, "pay-1").Return(succeededPayment("pay-1"), nil).Once()
	catalog := new(CatalogMock)
	catalog.On("GetOrCreateByDuration", mock.Anything, 30).
		Return(&models.Plan{ID: planID, Duration: 30}, nil).Once()
	repo.On("ClaimPaymentTransaction", mock.Anything, mock.Anything).Return(true, nil).Once()
	activator := new(ActivatorMock)
	activator.On("Activate", mock.Anything, "user-1", 30, "pay-1").
		Return(activeSubscription(planID), nil).Once()
	catalog.On("RefinePrice", mock.Anything, planID, 499.00).Return(nil).Once()
	repo.On("CompletePaymentTransaction", mock.Anything, "pay-1").Return(1, nil).Once()

	payments := New(repo, gateway, activator, catalog, newNoopLogger())
	outcome, err := newProcessor(whRepo, payments).Process(context.Background(), body, sign(body))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	whRepo.AssertExpectations(t)
	activator.AssertExpectations(t)
}

// Повтор доставки события, записанного с невалидной подписью, не
// обрабатывается: аудиторская запись уже есть, активации не будет.
func TestWebhookProcessor_Process_RedeliveryOfInvalidSignatureStaysDuplicate(t *testing.T) {
	body := succeededEvent("evt-1", "pay-1")

	whRepo := new(WebhookRepoMock)
	whRepo.On("InsertWebhookEvent", mock.Anything, mock.Anything).Return(false, nil).Once()
	whRepo.On("ReadWebhookEvent", mock.Anything, "evt-1").Return(&models.WebhookEvent{
		ID:             uuid.New(),
		GatewayEventID: "evt-1",
		SignatureValid: false,
		Processed:      false,
	}, nil).Once()

	activator := new(ActivatorMock)
	payments := New(new(RepoMock), new(GatewayMock), activator, new(CatalogMock), newNoopLogger())
	outcome, err := newProcessor(whRepo, payments).Process(context.Background(), body, sign(body))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	activator.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookProcessor_Process_UnknownEventType(t *testing.T) {
	body := []byte(`{"id": "evt-2", "event": "refund.succeeded", "object": {"id": "pay-9"}}`)

	whRepo := new(WebhookRepoMock)
	whRepo.On("InsertWebhookEvent", mock.Anything, mock.Anything).Return(true, nil).Once()

	payments := New(new(RepoMock), new(GatewayMock), new(ActivatorMock), new(CatalogMock), newNoopLogger())
	outcome, err := newProcessor(whRepo, payments).Process(context.Background(), body, sign(body))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestWebhookProcessor_Process_IncompleteMetadata(t *testing.T) {
	body := []byte(`{
		"id": "evt-3",
		"event": "payment.succeeded",
		"object": {"id": "pay-9", "status": "succeeded", "metadata": {}}
	}`)

	whRepo := new(WebhookRepoMock)
	whRepo.On("InsertWebhookEvent", mock.Anything, mock.Anything).Return(true, nil).Once()

	activator := new(ActivatorMock)
	payments := New(new(RepoMock), new(GatewayMock), activator, new(CatalogMock), newNoopLogger())
	outcome, err := newProcessor(whRepo, payments).Process(context.Background(), body, sign(body))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	activator.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookProcessor_Process_MalformedPayload(t *testing.T) {
	body := []byte(`{not json`)

	payments := New(new(RepoMock), new(GatewayMock), new(ActivatorMock), new(CatalogMock), newNoopLogger())
	_, err := newProcessor(new(WebhookRepoMock), payments).Process(context.Background(), body, sign(body))

	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestWebhookProcessor_VerifySignature(t *testing.T) {
	body := []byte(`{"id": "evt-1"}`)
	p := newProcessor(new(WebhookRepoMock), nil)

	assert.True(t, p.VerifySignature(body, sign(body)))
	assert.False(t, p.VerifySignature(body, "deadbeef"))
	assert.False(t, p.VerifySignature([]byte(`{"id": "evt-2"}`), sign(body)))
}
