// Package metrics содержит счётчики Prometheus для жизненного цикла доступа.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriptionActivations считает успешные активации подписок.
	SubscriptionActivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealplan_subscription_activations_total",
		Help: "Total number of successful subscription activations.",
	})

	// TrialStarts считает выданные триальные окна.
	TrialStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealplan_trial_starts_total",
		Help: "Total number of trial windows granted.",
	})

	// WebhookEvents считает входящие вебхуки шлюза по исходу обработки:
	// processed, duplicate, invalid_signature, ignored.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealplan_webhook_events_total",
		Help: "Total number of gateway webhook events by processing outcome.",
	}, []string{"outcome"})

	// PaymentVerifications считает сверки платежей по результату: completed,
	// duplicate, pending, failed.
	PaymentVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealplan_payment_verifications_total",
		Help: "Total number of payment verifications by result.",
	}, []string{"result"})

	// SweepExpiredEntitlements считает записи, переведённые в expired фоновым
	// обходом, по типу: trial, subscription.
	SweepExpiredEntitlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealplan_sweep_expired_total",
		Help: "Total number of entitlements expired by the background sweeper.",
	}, []string{"kind"})
)
