// Package mealplan предоставляет маршруты для основного приложения.
package mealplan

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/mealplan-backend/internal/http/handlers/health"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/handlers/payment/verify"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/handlers/payment/webhook"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/handlers/plan/list"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/handlers/status/get"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/handlers/subscription/activate"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/handlers/trial/start"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/handlers/usage/check"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/handlers/usage/record"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/jwt"
	paymentservice "github.com/magabrotheeeer/mealplan-backend/internal/services/payment"
	"github.com/magabrotheeeer/mealplan-backend/internal/services/plancatalog"
	"github.com/magabrotheeeer/mealplan-backend/internal/services/status"
	subservice "github.com/magabrotheeeer/mealplan-backend/internal/services/subscription"
	trialservice "github.com/magabrotheeeer/mealplan-backend/internal/services/trial"
	usageservice "github.com/magabrotheeeer/mealplan-backend/internal/services/usage"
	"github.com/magabrotheeeer/mealplan-backend/internal/storage/repository"
)

// Handlers собирает зависимости HTTP-слоя.
type Handlers struct {
	JWT           jwt.Maker
	Storage       *repository.Storage
	Trials        *trialservice.Service
	Status        *status.Service
	Subscriptions *subservice.Service
	Catalog       *plancatalog.Service
	Usage         *usageservice.Service
	Payments      *paymentservice.Service
	Webhooks      *paymentservice.WebhookProcessor
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, h *Handlers) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(h.JWT, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Post("/trial", start.New(logger, h.Trials).ServeHTTP)
			r.Get("/status", get.New(logger, h.Status).ServeHTTP)
			r.Post("/subscriptions", activate.New(logger, h.Payments).ServeHTTP)
			r.Post("/subscriptions/cancel", cancel.New(logger, h.Subscriptions).ServeHTTP)
			r.Get("/plans", list.New(logger, h.Catalog).ServeHTTP)
			r.Post("/usage/check", check.New(logger, h.Usage).ServeHTTP)
			r.Post("/usage", record.New(logger, h.Usage).ServeHTTP)
			r.Post("/payments/verify", verify.New(logger, h.Payments).ServeHTTP)
		})

		// Webhook endpoint (без аутентификации, аутентификация — HMAC-подпись)
		r.Post("/payments/webhook", webhook.New(logger, h.Webhooks).ServeHTTP)

		// Health endpoint (без аутентификации)
		r.Get("/health", health.New(logger, h.Storage).ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
