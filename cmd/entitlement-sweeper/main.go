// Package main запускает автономный обход истёкших окон доступа.
//
// Обход встроен и в основной сервис; отдельный бинарь нужен для стендов,
// где API и фоновые задания масштабируются раздельно.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/magabrotheeeer/mealplan-backend/internal/cache"
	"github.com/magabrotheeeer/mealplan-backend/internal/config"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/clockpolicy"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/services/plancatalog"
	subservice "github.com/magabrotheeeer/mealplan-backend/internal/services/subscription"
	"github.com/magabrotheeeer/mealplan-backend/internal/services/sweeper"
	trialservice "github.com/magabrotheeeer/mealplan-backend/internal/services/trial"
	"github.com/magabrotheeeer/mealplan-backend/internal/storage/repository"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("starting entitlement-sweeper", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		logger.Error("failed to connect to storage", sl.Err(err))
		os.Exit(1)
	}
	defer db.DB.Close()

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		logger.Error("failed to connect to redis", sl.Err(err))
		os.Exit(1)
	}

	conn, err := rabbitmq.Connect(cfg.AddressRabbit, 5, 2*time.Second)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", sl.Err(err))
		os.Exit(1)
	}
	defer conn.Close()

	channel, err := rabbitmq.SetupChannel(conn, rabbitmq.GetEntitlementQueues())
	if err != nil {
		logger.Error("failed to setup rabbitmq channel", sl.Err(err))
		os.Exit(1)
	}

	clock := clockpolicy.New(cfg.ClockUnit)
	trialService := trialservice.New(db, cacheRedis, clock, logger)
	catalogService := plancatalog.New(db, cacheRedis, logger)
	subscriptionService := subservice.New(db, catalogService, trialService, cacheRedis, clock, logger)

	sweeper.New(trialService, subscriptionService, channel, cfg.SweepInterval, logger).Run(ctx)

	logger.Info("entitlement-sweeper stopped gracefully")
}
