// Package subscription содержит бизнес-логику платных окон доступа.
//
// Машина состояний на пользователя:
//
//	(none) --Activate--> active --(период прошёл: sweep или ленивое чтение)--> expired
//	active --CancelAtPeriodEnd--> active (cancel_at_period_end) --период прошёл--> expired
//	expired --Activate--> active (продление)
//
// Фоновых таймеров нет: истёкшая подписка остаётся active в хранилище, пока её
// не тронет GetActive (ленивая коррекция) или SweepExpired. Любое чтение
// подписки обязано идти через GetActive — второй, несогласованный путь чтения
// недопустим.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/clockpolicy"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// maxActivateAttempts — предел повторов вставки при конфликте уникальности.
const maxActivateAttempts = 3

// SubscriptionRepository определяет методы для работы с подписками в хранилище.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub models.Subscription) error
	ReadActiveSubscription(ctx context.Context, userUID string) (*models.Subscription, error)
	ExpireStaleSubscriptions(ctx context.Context, userUID string, now time.Time) (int, error)
	ArchiveActiveSubscription(ctx context.Context, userUID string) (int, error)
	MarkSubscriptionExpired(ctx context.Context, userUID string) (int, error)
	SetCancelAtPeriodEnd(ctx context.Context, userUID string) (int, error)
	SweepExpiredSubscriptions(ctx context.Context, now time.Time) ([]*models.Subscription, error)
}

// PlanCatalog описывает интерфейс каталога планов.
type PlanCatalog interface {
	GetOrCreateByDuration(ctx context.Context, duration int) (*models.Plan, error)
}

// TrialMarker описывает интерфейс пометки триала потраченным.
type TrialMarker interface {
	MarkUsed(ctx context.Context, userUID string) error
}

// StatusInvalidator сбрасывает кешированный статус пользователя после перехода.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, key string) error
}

// Service реализует бизнес-логику подписок.
type Service struct {
	repo    SubscriptionRepository
	catalog PlanCatalog
	trials  TrialMarker
	cache   StatusInvalidator
	clock   *clockpolicy.Policy
	log     *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo SubscriptionRepository, catalog PlanCatalog, trials TrialMarker,
	cache StatusInvalidator, clock *clockpolicy.Policy, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		trials:  trials,
		cache:   cache,
		clock:   clock,
		log:     log,
	}
}

// Activate создаёт пользователю активное окно подписки на duration номинальных
// единиц. План разрешается через каталог (при необходимости синтезируется).
//
// Перед вставкой нейтрализуются конфликтующие строки: залежавшиеся active-строки
// с прошедшим периодом лениво переводятся в expired; если вставка всё равно
// упирается в уникальный индекс (непросроченная active-строка — продление или
// конкурентная активация), прежняя строка архивируется и вставка повторяется.
// Не более maxActivateAttempts попыток, затем apperr.ErrStoreConflict.
//
// Побочный эффект успешной активации — пометка триала потраченным.
func (s *Service) Activate(ctx context.Context, userUID string, duration int, paymentRef string) (*models.Subscription, error) {
	const op = "services.subscription.Activate"
	if userUID == "" {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}

	plan, err := s.catalog.GetOrCreateByDuration(ctx, duration)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for attempt := 1; attempt <= maxActivateAttempts; attempt++ {
		now := time.Now()
		if _, err := s.repo.ExpireStaleSubscriptions(ctx, userUID, now); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if attempt > 1 {
			if _, err := s.repo.ArchiveActiveSubscription(ctx, userUID); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}

		sub := models.Subscription{
			ID:          uuid.New(),
			UserUID:     userUID,
			PlanID:      plan.ID,
			Status:      models.StatusActive,
			PeriodStart: now,
			PeriodEnd:   s.clock.ResolveWindow(now, duration),
			Metadata:    map[string]string{"payment_ref": paymentRef},
		}
		err = s.repo.CreateSubscription(ctx, sub)
		if err == nil {
			if err := s.trials.MarkUsed(ctx, userUID); err != nil {
				s.log.Warn("failed to mark trial used after activation", sl.Err(err), sl.UID(userUID))
			}
			s.invalidateStatus(ctx, userUID)
			s.log.Info("subscription activated", sl.UID(userUID),
				slog.String("plan", plan.Name), slog.Time("period_end", sub.PeriodEnd))
			return &sub, nil
		}
		if errors.Is(err, apperr.ErrStoreConflict) {
			s.log.Warn("activation conflict, retrying after neutralization",
				sl.UID(userUID), slog.Int("attempt", attempt))
			continue
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return nil, fmt.Errorf("%s: %w", op, apperr.ErrStoreConflict)
}

// GetActive возвращает действующую подписку пользователя.
//
// Единственный путь чтения подписок: active-строка с прошедшим периодом здесь
// же лениво переводится в expired, и вызывающему возвращается apperr.ErrNotFound.
func (s *Service) GetActive(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "services.subscription.GetActive"
	if userUID == "" {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}

	sub, err := s.repo.ReadActiveSubscription(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()
	if !sub.PeriodEnd.After(now) {
		if _, err := s.repo.ExpireStaleSubscriptions(ctx, userUID, now); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.log.Info("stale subscription lazily expired", sl.UID(userUID))
		s.invalidateStatus(ctx, userUID)
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	return sub, nil
}

// MarkExpired явно переводит подписку пользователя в expired.
// Идемпотентен; используется внешним sweep-заданием и админскими вызовами.
func (s *Service) MarkExpired(ctx context.Context, userUID string) error {
	const op = "services.subscription.MarkExpired"
	if userUID == "" {
		return fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}
	count, err := s.repo.MarkSubscriptionExpired(ctx, userUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count > 0 {
		s.invalidateStatus(ctx, userUID)
		s.log.Info("subscription marked expired", sl.UID(userUID))
	}
	return nil
}

// CancelAtPeriodEnd выставляет флаг отмены: статус не меняется, доступ
// сохраняется до period_end. Без действующей подписки — apperr.ErrNotFound.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, userUID string) error {
	const op = "services.subscription.CancelAtPeriodEnd"
	if userUID == "" {
		return fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}
	count, err := s.repo.SetCancelAtPeriodEnd(ctx, userUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count == 0 {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	s.invalidateStatus(ctx, userUID)
	s.log.Info("subscription cancellation scheduled", sl.UID(userUID))
	return nil
}

// SweepExpired переводит в expired все active-строки с прошедшим периодом и
// возвращает затронутые подписки. Безопасен при конкурентном запуске.
func (s *Service) SweepExpired(ctx context.Context) ([]*models.Subscription, error) {
	const op = "services.subscription.SweepExpired"
	expired, err := s.repo.SweepExpiredSubscriptions(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, sub := range expired {
		s.invalidateStatus(ctx, sub.UserUID)
	}
	if len(expired) > 0 {
		s.log.Info("expired subscriptions swept", slog.Int("count", len(expired)))
	}
	return expired, nil
}

func (s *Service) invalidateStatus(ctx context.Context, userUID string) {
	if err := s.cache.Invalidate(ctx, "status:"+userUID); err != nil {
		s.log.Warn("failed to invalidate status cache", sl.Err(err), sl.UID(userUID))
	}
}
