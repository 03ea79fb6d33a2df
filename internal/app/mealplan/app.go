// Package mealplan собирает сервис жизненного цикла доступа: хранилище,
// кеш, платёжный шлюз, бизнес-логику и HTTP-сервер.
package mealplan

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/mealplan-backend/internal/cache"
	"github.com/magabrotheeeer/mealplan-backend/internal/config"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/clockpolicy"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/jwt"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/migrations"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
	"github.com/magabrotheeeer/mealplan-backend/internal/paymentprovider"
	paymentservice "github.com/magabrotheeeer/mealplan-backend/internal/services/payment"
	"github.com/magabrotheeeer/mealplan-backend/internal/services/plancatalog"
	"github.com/magabrotheeeer/mealplan-backend/internal/services/status"
	subservice "github.com/magabrotheeeer/mealplan-backend/internal/services/subscription"
	"github.com/magabrotheeeer/mealplan-backend/internal/services/sweeper"
	trialservice "github.com/magabrotheeeer/mealplan-backend/internal/services/trial"
	usageservice "github.com/magabrotheeeer/mealplan-backend/internal/services/usage"
	"github.com/magabrotheeeer/mealplan-backend/internal/storage/repository"
)

// App инкапсулирует собранный сервис и его ресурсы.
type App struct {
	server  *http.Server
	sweeper *sweeper.Sweeper
	logger  *slog.Logger
	db      *repository.Storage
	amqp    *amqp.Connection
}

// New собирает сервис из конфигурации: подключает зависимости, прогоняет
// миграции и регистрирует маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, "./migrations"); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	// RabbitMQ необязателен: без него сервис работает, события истечения
	// просто не публикуются.
	var amqpConn *amqp.Connection
	var amqpChannel *amqp.Channel
	if cfg.AddressRabbit != "" {
		amqpConn, err = rabbitmq.Connect(cfg.AddressRabbit, 5, 2*time.Second)
		if err != nil {
			logger.Warn("rabbitmq unavailable, expiry events disabled", sl.Err(err))
		} else {
			amqpChannel, err = rabbitmq.SetupChannel(amqpConn, rabbitmq.GetEntitlementQueues())
			if err != nil {
				return nil, err
			}
		}
	}

	clock := clockpolicy.New(cfg.ClockUnit)
	jwtMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	gateway := paymentprovider.NewClient(cfg.ShopID, cfg.SecretKey, cfg.APIURL, cfg.GatewayTimeout)

	trialService := trialservice.New(db, cacheRedis, clock, logger)
	catalogService := plancatalog.New(db, cacheRedis, logger)
	subscriptionService := subservice.New(db, catalogService, trialService, cacheRedis, clock, logger)
	usageService := usageservice.New(db, entitlementReader{subscriptionService, trialService}, catalogService, logger)
	statusService := status.New(subscriptionService, trialService, cacheRedis, cfg.AccessWindow, logger)
	paymentService := paymentservice.New(db, gateway, subscriptionService, catalogService, logger)
	webhookProcessor := paymentservice.NewWebhookProcessor(db, paymentService, cfg.WebhookSecret, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, &Handlers{
		JWT:           jwtMaker,
		Storage:       db,
		Trials:        trialService,
		Status:        statusService,
		Subscriptions: subscriptionService,
		Catalog:       catalogService,
		Usage:         usageService,
		Payments:      paymentService,
		Webhooks:      webhookProcessor,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:  srv,
		sweeper: sweeper.New(trialService, subscriptionService, amqpChannel, cfg.SweepInterval, logger),
		logger:  logger,
		db:      db,
		amqp:    amqpConn,
	}, nil
}

// entitlementReader адаптирует сервисы подписок и триалов к интерфейсу
// чтения, которого ждёт учёт потребления.
type entitlementReader struct {
	subs   *subservice.Service
	trials *trialservice.Service
}

func (r entitlementReader) GetActiveSubscription(ctx context.Context, userUID string) (*models.Subscription, error) {
	return r.subs.GetActive(ctx, userUID)
}

func (r entitlementReader) GetTrial(ctx context.Context, userUID string) (*models.Trial, error) {
	return r.trials.Get(ctx, userUID)
}

// Run запускает HTTP-сервер и фоновый обход истёкших окон,
// завершает их по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	go a.sweeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.db.DB.Close()
		if a.amqp != nil {
			a.amqp.Close()
		}
		return err
	}
}
