// Package sweeper реализует фоновый обход истёкших окон доступа.
//
// Обход — не источник истины: истечение и так применяется лениво при чтении.
// Его задача — подтянуть хранилище к реальности между чтениями и опубликовать
// события истечения для внешних потребителей.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/mealplan-backend/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/metrics"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// TrialSweeper переводит истёкшие триалы в погашенное состояние.
type TrialSweeper interface {
	SweepExpired(ctx context.Context) ([]*models.Trial, error)
}

// SubscriptionSweeper переводит истёкшие подписки в expired.
type SubscriptionSweeper interface {
	SweepExpired(ctx context.Context) ([]*models.Subscription, error)
}

// ExpiryEvent — сообщение об истечении окна доступа.
type ExpiryEvent struct {
	UserUID   string    `json:"user_uid"`
	Kind      string    `json:"kind"` // trial | subscription
	ExpiredAt time.Time `json:"expired_at"`
}

// Sweeper периодически запускает обход истёкших окон.
type Sweeper struct {
	trials        TrialSweeper
	subscriptions SubscriptionSweeper
	channel       *amqp.Channel
	interval      time.Duration
	log           *slog.Logger
}

// New создает новый экземпляр Sweeper.
func New(trials TrialSweeper, subscriptions SubscriptionSweeper,
	channel *amqp.Channel, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		trials:        trials,
		subscriptions: subscriptions,
		channel:       channel,
		interval:      interval,
		log:           log,
	}
}

// Run запускает цикл обхода до отмены контекста. Первый проход выполняется
// сразу, дальше по тикеру.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("sweeper started", slog.Duration("interval", s.interval))
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()

	trials, err := s.trials.SweepExpired(ctx)
	if err != nil {
		s.log.Error("trial sweep failed", sl.Err(err))
	}
	for _, t := range trials {
		metrics.SweepExpiredEntitlements.WithLabelValues("trial").Inc()
		s.publish(ExpiryEvent{UserUID: t.UserUID, Kind: "trial", ExpiredAt: now}, "trial_expired")
	}

	subs, err := s.subscriptions.SweepExpired(ctx)
	if err != nil {
		s.log.Error("subscription sweep failed", sl.Err(err))
	}
	for _, sub := range subs {
		metrics.SweepExpiredEntitlements.WithLabelValues("subscription").Inc()
		s.publish(ExpiryEvent{UserUID: sub.UserUID, Kind: "subscription", ExpiredAt: now}, "subscription_expired")
	}

	if len(trials)+len(subs) > 0 {
		s.log.Info("sweep pass finished",
			slog.Int("trials", len(trials)), slog.Int("subscriptions", len(subs)))
	}
}

// publish отправляет событие истечения; при выключенном канале молча пропускает.
func (s *Sweeper) publish(event ExpiryEvent, routingKey string) {
	if s.channel == nil {
		return
	}
	if err := rabbitmq.PublishMessage(s.channel, rabbitmq.EntitlementExchange, routingKey, event); err != nil {
		s.log.Error("failed to publish expiry event", sl.Err(err), sl.UID(event.UserUID))
	}
}
