// Package trial содержит бизнес-логику пробных окон доступа.
//
// У пользователя значим только последний триал. Активность триала определяется
// исключительно временным окном: is_used — терминальная отметка потраченного
// триала, доступ она не гейтит. Фоновых таймеров нет: истечение обрабатывается
// внешним запуском SweepExpired.
package trial

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

// TrialRepository определяет методы для работы с триалами в хранилище.
type TrialRepository interface {
	CreateTrial(ctx context.Context, trial models.Trial) error
	ReadLatestTrial(ctx context.Context, userUID string) (*models.Trial, error)
	MarkTrialUsed(ctx context.Context, userUID string) (int, error)
	SweepExpiredTrials(ctx context.Context, now time.Time) ([]*models.Trial, error)
}

// StatusInvalidator сбрасывает кешированный статус пользователя после перехода.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, key string) error
}

// Service реализует бизнес-логику триалов.
type Service struct {
	repo  TrialRepository
	cache StatusInvalidator
	clock *clockpolicy.Policy
	log   *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo TrialRepository, cache StatusInvalidator, clock *clockpolicy.Policy, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		clock: clock,
		log:   log,
	}
}

// Initialize создаёт триал пользователю на duration номинальных единиц.
// Если у пользователя уже есть неистёкший непотраченный триал, возвращает
// apperr.ErrAlreadyInitialized: второе перекрывающееся окно молча не создаётся.
func (s *Service) Initialize(ctx context.Context, userUID string, duration int) (*models.Trial, error) {
	const op = "services.trial.Initialize"
	if userUID == "" {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}

	now := time.Now()

	existing, err := s.repo.ReadLatestTrial(ctx, userUID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil && !existing.IsUsed && existing.IsActive(now) {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrAlreadyInitialized)
	}

	t := models.Trial{
		ID:        uuid.New(),
		UserUID:   userUID,
		StartTime: now,
		EndTime:   s.clock.ResolveWindow(now, duration),
		IsUsed:    false,
	}
	if err := s.repo.CreateTrial(ctx, t); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidateStatus(ctx, userUID)

	s.log.Info("trial initialized", sl.UID(userUID),
		slog.Time("end_time", t.EndTime))
	return &t, nil
}

// Get возвращает последний триал пользователя.
func (s *Service) Get(ctx context.Context, userUID string) (*models.Trial, error) {
	const op = "services.trial.Get"
	if userUID == "" {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}
	t, err := s.repo.ReadLatestTrial(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// MarkUsed выставляет is_used последнему триалу пользователя.
// Идемпотентен: повторный вызов — no-op, не ошибка.
func (s *Service) MarkUsed(ctx context.Context, userUID string) error {
	const op = "services.trial.MarkUsed"
	if userUID == "" {
		return fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}
	count, err := s.repo.MarkTrialUsed(ctx, userUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count > 0 {
		s.log.Info("trial marked used", sl.UID(userUID))
	}
	return nil
}

// SweepExpired помечает использованными все триалы с истёкшим окном и
// возвращает затронутые записи. Безопасен при конкурентном запуске: повторная
// пометка уже использованного триала — no-op, семантика at-least-once.
func (s *Service) SweepExpired(ctx context.Context) ([]*models.Trial, error) {
	const op = "services.trial.SweepExpired"
	expired, err := s.repo.SweepExpiredTrials(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, t := range expired {
		s.invalidateStatus(ctx, t.UserUID)
	}
	if len(expired) > 0 {
		s.log.Info("expired trials swept", slog.Int("count", len(expired)))
	}
	return expired, nil
}

func (s *Service) invalidateStatus(ctx context.Context, userUID string) {
	if err := s.cache.Invalidate(ctx, "status:"+userUID); err != nil {
		s.log.Warn("failed to invalidate status cache", sl.Err(err), sl.UID(userUID))
	}
}
