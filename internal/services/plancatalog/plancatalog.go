// Package plancatalog содержит бизнес-логику каталога тарифных планов,
// включая кеширование списка активных планов.
package plancatalog

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

// TrialPlanName — имя засеянного плана, по которому метрятся квоты триала.
const TrialPlanName = "trial"

const activePlansCacheKey = "plans:active"

// PlanRepository определяет методы для работы с каталогом планов в хранилище.
type PlanRepository interface {
	CreatePlan(ctx context.Context, plan models.Plan) error
	ReadPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	ReadPlanByName(ctx context.Context, name string) (*models.Plan, error)
	ReadPlanByDuration(ctx context.Context, duration int) (*models.Plan, error)
	ListActivePlans(ctx context.Context) ([]*models.Plan, error)
	RefinePlanPrice(ctx context.Context, id uuid.UUID, price float64) (int, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Service реализует бизнес-логику каталога планов.
type Service struct {
	repo  PlanRepository
	cache Cache
	log   *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo PlanRepository, cache Cache, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetOrCreateByDuration возвращает план каталога с заданной длительностью.
// Если подходящего плана нет, синтезирует и сохраняет неактивный план с нулевой
// ценой: цена уточняется позже по данным реального платежа (RefinePrice).
func (s *Service) GetOrCreateByDuration(ctx context.Context, duration int) (*models.Plan, error) {
	const op = "services.plancatalog.GetOrCreateByDuration"
	if duration <= 0 {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrPlanResolution)
	}

	plan, err := s.repo.ReadPlanByDuration(ctx, duration)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	synthesized := models.Plan{
		ID:          uuid.New(),
		Name:        fmt.Sprintf("custom-%d", duration),
		DisplayName: fmt.Sprintf("Custom (%d)", duration),
		Price:       0,
		Duration:    duration,
		Features:    defaultFeatures(),
		IsActive:    false,
	}
	if err := s.repo.CreatePlan(ctx, synthesized); err != nil {
		if errors.Is(err, apperr.ErrStoreConflict) {
			// План с тем же именем создан конкурентно — перечитываем.
			plan, err = s.repo.ReadPlanByName(ctx, synthesized.Name)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, apperr.ErrPlanResolution)
			}
			return plan, nil
		}
		s.log.Error("failed to synthesize plan", sl.Err(err), slog.Int("duration", duration))
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrPlanResolution)
	}

	s.log.Info("synthesized plan for custom duration",
		slog.String("name", synthesized.Name), slog.Int("duration", duration))
	return &synthesized, nil
}

// GetByID возвращает план по идентификатору.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	const op = "services.plancatalog.GetByID"
	plan, err := s.repo.ReadPlanByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return plan, nil
}

// GetTrialPlan возвращает план, по которому метрятся квоты триала.
func (s *Service) GetTrialPlan(ctx context.Context) (*models.Plan, error) {
	const op = "services.plancatalog.GetTrialPlan"
	plan, err := s.repo.ReadPlanByName(ctx, TrialPlanName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return plan, nil
}

// ListActive возвращает активные планы по возрастанию цены, используя кеш.
func (s *Service) ListActive(ctx context.Context) ([]*models.Plan, error) {
	const op = "services.plancatalog.ListActive"

	var cached []*models.Plan
	found, err := s.cache.Get(ctx, activePlansCacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read plans from cache", sl.Err(err))
	}
	if found {
		return cached, nil
	}

	plans, err := s.repo.ListActivePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.cache.Set(ctx, activePlansCacheKey, plans, time.Hour); err != nil {
		s.log.Warn("failed to cache plans", sl.Err(err))
	}
	return plans, nil
}

// RefinePrice уточняет цену синтезированного плана по подтверждённому платежу
// и активирует план. План с уже известной ценой не трогается.
func (s *Service) RefinePrice(ctx context.Context, id uuid.UUID, price float64) error {
	const op = "services.plancatalog.RefinePrice"
	count, err := s.repo.RefinePlanPrice(ctx, id, price)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count > 0 {
		s.log.Info("plan price refined", slog.String("plan_id", id.String()),
			slog.Float64("price", price))
		if err := s.cache.Invalidate(ctx, activePlansCacheKey); err != nil {
			s.log.Warn("failed to invalidate plans cache", sl.Err(err))
		}
	}
	return nil
}

// defaultFeatures — квоты по умолчанию для синтезированных планов за расчётный период.
func defaultFeatures() map[string]int {
	return map[string]int{
		"meal_plans":      30,
		"recipe_search":   100,
		"grocery_exports": 30,
	}
}
