// Package status агрегирует триал, подписку и окно доступа организации в
// единый статус пользователя.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/config"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// statusCacheTTL — короткий TTL: статус меняется переходами состояний, и
// переходы сбрасывают кеш сами, но потолок держим на случай пропущенного сброса.
const statusCacheTTL = time.Minute

// SubscriptionReader отдаёт действующую подписку с ленивой коррекцией.
type SubscriptionReader interface {
	GetActive(ctx context.Context, userUID string) (*models.Subscription, error)
}

// TrialReader отдаёт последний триал пользователя.
type TrialReader interface {
	Get(ctx context.Context, userUID string) (*models.Trial, error)
}

// Cache описывает интерфейс кеша статусов.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Service реализует агрегирование статуса доступа.
type Service struct {
	subscriptions SubscriptionReader
	trials        TrialReader
	cache         Cache
	window        config.AccessWindow
	log           *slog.Logger
}

// New создает новый экземпляр Service.
func New(subscriptions SubscriptionReader, trials TrialReader, cache Cache,
	window config.AccessWindow, log *slog.Logger) *Service {
	return &Service{
		subscriptions: subscriptions,
		trials:        trials,
		cache:         cache,
		window:        window,
		log:           log,
	}
}

// Get возвращает агрегированный статус доступа пользователя.
//
// Приоритет состояний: действующая подписка > активный триал > expired > none.
// Окно доступа организации накладывается поверх: вне окна CanAccess = false
// независимо от подписки, флаги подписки и триала при этом не искажаются.
func (s *Service) Get(ctx context.Context, userUID string) (*models.EntitlementStatus, error) {
	const op = "services.status.Get"
	if userUID == "" {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrInvalidUser)
	}

	key := "status:" + userUID
	var cached models.EntitlementStatus
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn("status cache read failed", sl.Err(err), sl.UID(userUID))
	}
	now := time.Now()
	if found {
		s.refresh(&cached, now)
		s.applyAccessWindow(&cached, now)
		return &cached, nil
	}

	st, err := s.build(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.cache.Set(ctx, key, st, statusCacheTTL); err != nil {
		s.log.Warn("status cache write failed", sl.Err(err), sl.UID(userUID))
	}
	s.applyAccessWindow(st, now)
	return st, nil
}

// refresh пересчитывает временные флаги по сохранённым меткам. Кеш живёт до
// минуты, а срок подписки или триала может истечь внутри TTL — особенно под
// сжатыми единицами времени, где минута кеша длиннее всего периода.
func (s *Service) refresh(st *models.EntitlementStatus, now time.Time) {
	st.HasActiveSubscription = st.SubscriptionEndsAt != nil && now.Before(*st.SubscriptionEndsAt)
	st.TrialActive = st.TrialEndsAt != nil && now.Before(*st.TrialEndsAt)

	switch {
	case st.HasActiveSubscription:
		st.CanAccess = true
		st.State = models.StateSubscribed
	case st.TrialActive:
		st.CanAccess = true
		st.State = models.StateTrial
	case st.SubscriptionEndsAt != nil || st.TrialEndsAt != nil:
		st.CanAccess = false
		st.State = models.StateExpired
	default:
		st.CanAccess = false
		st.State = models.StateNone
	}
}

func (s *Service) build(ctx context.Context, userUID string) (*models.EntitlementStatus, error) {
	st := &models.EntitlementStatus{
		UserUID: userUID,
		State:   models.StateNone,
	}

	sub, err := s.subscriptions.GetActive(ctx, userUID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if sub != nil {
		st.HasActiveSubscription = true
		st.CanAccess = true
		st.State = models.StateSubscribed
		st.SubscriptionEndsAt = &sub.PeriodEnd
		st.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	}

	trial, err := s.trials.Get(ctx, userUID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return st, nil
	}

	st.TrialEndsAt = &trial.EndTime
	if trial.IsActive(time.Now()) {
		st.TrialActive = true
		if !st.HasActiveSubscription {
			st.CanAccess = true
			st.State = models.StateTrial
		}
	} else if !st.HasActiveSubscription {
		// Был триал, но он закончился и подписки нет.
		st.State = models.StateExpired
	}
	return st, nil
}

// applyAccessWindow гасит доступ вне окна организации, не трогая остальные поля.
func (s *Service) applyAccessWindow(st *models.EntitlementStatus, now time.Time) {
	if !s.window.Enabled || !st.CanAccess {
		return
	}
	if s.withinWindow(now) {
		return
	}
	st.CanAccess = false
	st.State = models.StateOutsideWindow
}

// withinWindow проверяет попадание текущего времени суток в окно доступа.
// Окно задаётся в таймзоне организации и может пересекать полночь
// (start > end означает интервал через полночь).
func (s *Service) withinWindow(now time.Time) bool {
	loc, err := time.LoadLocation(s.window.Timezone)
	if err != nil {
		s.log.Warn("invalid access window timezone, window skipped",
			slog.String("timezone", s.window.Timezone))
		return true
	}
	start, err := time.Parse("15:04", s.window.StartDay)
	if err != nil {
		return true
	}
	end, err := time.Parse("15:04", s.window.EndDay)
	if err != nil {
		return true
	}

	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	if startMin <= endMin {
		return minutes >= startMin && minutes < endMin
	}
	return minutes >= startMin || minutes < endMin
}
