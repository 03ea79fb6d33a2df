// Package usage содержит бизнес-логику учёта потребления фич по месячным периодам.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// UsageRepository определяет методы для работы со счётчиками потребления.
type UsageRepository interface {
	IncrementUsage(ctx context.Context, userUID, feature, period string, count int) error
	SumUsage(ctx context.Context, userUID, feature, period string) (int, error)
}

// EntitlementReader отдаёт действующие подписку и триал пользователя.
type EntitlementReader interface {
	GetActiveSubscription(ctx context.Context, userUID string) (*models.Subscription, error)
	GetTrial(ctx context.Context, userUID string) (*models.Trial, error)
}

// PlanResolver разрешает план по идентификатору и триальный план.
type PlanResolver interface {
	GetByID(ctx context.Context, planID uuid.UUID) (*models.Plan, error)
	GetTrialPlan(ctx context.Context) (*models.Plan, error)
}

// Service реализует бизнес-логику квот.
type Service struct {
	repo         UsageRepository
	entitlements EntitlementReader
	plans        PlanResolver
	log          *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo UsageRepository, entitlements EntitlementReader, plans PlanResolver, log *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		entitlements: entitlements,
		plans:        plans,
		log:          log,
	}
}

// CurrentPeriod возвращает ключ текущего месячного периода в формате YYYY-MM.
// Счётчики обнуляются сменой ключа, без заданий на сброс.
func CurrentPeriod(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// CanUse проверяет, укладывается ли пользователь в квоту фичи на текущий период.
//
// Проверка и последующая запись через RecordUsage не атомарны: конкурентные
// запросы могут проскочить порог, квота мягкая.
func (s *Service) CanUse(ctx context.Context, userUID, feature string) (*models.UsageCheck, error) {
	const op = "services.usage.CanUse"
	if userUID == "" {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}

	plan, err := s.resolvePlan(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if plan == nil {
		return &models.UsageCheck{Allowed: false, Feature: feature}, nil
	}

	limit := plan.FeatureLimit(feature)
	if limit <= 0 {
		return &models.UsageCheck{Allowed: false, Feature: feature, Limit: limit}, nil
	}

	current, err := s.repo.SumUsage(ctx, userUID, feature, CurrentPeriod(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return &models.UsageCheck{
		Allowed:   current < limit,
		Feature:   feature,
		Current:   current,
		Limit:     limit,
		Remaining: remaining,
	}, nil
}

// RecordUsage увеличивает счётчик фичи на count (по умолчанию 1) в текущем периоде.
// Квоту не проверяет: порог — забота CanUse, запись фиксирует уже совершённое.
func (s *Service) RecordUsage(ctx context.Context, userUID, feature string, count int) error {
	const op = "services.usage.RecordUsage"
	if userUID == "" {
		return fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}
	if count <= 0 {
		count = 1
	}

	if err := s.repo.IncrementUsage(ctx, userUID, feature, CurrentPeriod(time.Now()), count); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Debug("usage recorded", sl.UID(userUID),
		slog.String("feature", feature), slog.Int("count", count))
	return nil
}

// resolvePlan определяет план, по которому меряется квота: план действующей
// подписки, иначе триальный план при активном триале, иначе nil (доступа нет).
func (s *Service) resolvePlan(ctx context.Context, userUID string) (*models.Plan, error) {
	sub, err := s.entitlements.GetActiveSubscription(ctx, userUID)
	if err == nil {
		return s.plans.GetByID(ctx, sub.PlanID)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	trial, err := s.entitlements.GetTrial(ctx, userUID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !trial.IsActive(time.Now()) {
		return nil, nil
	}
	return s.plans.GetTrialPlan(ctx)
}
