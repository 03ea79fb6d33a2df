package repository

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// testSchema повторяет боевую миграцию: тесты хранилища гоняются по той же
// схеме, включая частичный уникальный индекс на active-подписку.
const testSchema = `
	CREATE TABLE plans (
	    id UUID PRIMARY KEY,
	    name TEXT NOT NULL UNIQUE,
	    display_name TEXT NOT NULL,
	    price NUMERIC(10, 2) NOT NULL DEFAULT 0,
	    duration INT NOT NULL,
	    features JSONB NOT NULL DEFAULT '{}',
	    is_active BOOLEAN NOT NULL DEFAULT false
	);

	CREATE TABLE trials (
	    id UUID PRIMARY KEY,
	    user_uid TEXT NOT NULL,
	    start_time TIMESTAMPTZ NOT NULL,
	    end_time TIMESTAMPTZ NOT NULL,
	    is_used BOOLEAN NOT NULL DEFAULT false,
	    CHECK (end_time >= start_time)
	);

	CREATE TABLE subscriptions (
	    id UUID PRIMARY KEY,
	    user_uid TEXT NOT NULL,
	    plan_id UUID NOT NULL REFERENCES plans(id),
	    status TEXT NOT NULL CHECK (status IN ('active', 'expired', 'cancelled')),
	    period_start TIMESTAMPTZ NOT NULL,
	    period_end TIMESTAMPTZ NOT NULL,
	    cancel_at_period_end BOOLEAN NOT NULL DEFAULT false,
	    metadata JSONB NOT NULL DEFAULT '{}'
	);

	CREATE UNIQUE INDEX ux_subscriptions_one_active
	    ON subscriptions(user_uid) WHERE status = 'active';

	CREATE TABLE usage_records (
	    id UUID PRIMARY KEY,
	    user_uid TEXT NOT NULL,
	    feature TEXT NOT NULL,
	    period CHAR(7) NOT NULL,
	    used_count INT NOT NULL DEFAULT 0,
	    UNIQUE (user_uid, feature, period)
	);

	CREATE TABLE payment_transactions (
	    id UUID PRIMARY KEY,
	    user_uid TEXT NOT NULL,
	    plan_id UUID REFERENCES plans(id),
	    gateway_reference TEXT NOT NULL UNIQUE,
	    amount NUMERIC(10, 2) NOT NULL DEFAULT 0,
	    currency VARCHAR(3) NOT NULL,
	    status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
	    metadata JSONB NOT NULL DEFAULT '{}',
	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE webhook_events (
	    id UUID PRIMARY KEY,
	    gateway_event_id TEXT NOT NULL UNIQUE,
	    event_type TEXT NOT NULL,
	    raw_payload BYTEA NOT NULL,
	    signature_valid BOOLEAN NOT NULL DEFAULT false,
	    processed BOOLEAN NOT NULL DEFAULT false,
	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// setupTestDb поднимает контейнер PostgreSQL и накатывает схему.
func setupTestDb(t *testing.T) (*Storage, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort(nat.Port("5432/tcp")),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(3*time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	// Пробуем подключиться несколько раз с ретраями
	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			if err = storage.DB.Ping(); err == nil {
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, err, "failed to create storage after retries")

	_, err = storage.DB.Exec(testSchema)
	require.NoError(t, err, "failed to create schema")

	cleanup := func() {
		if storage != nil && storage.DB != nil {
			storage.DB.Close()
		}
		if pgContainer != nil {
			_ = pgContainer.Terminate(ctx)
		}
	}

	return storage, cleanup
}

// seedPlan вставляет план напрямую, минуя сервисный слой.
func seedPlan(t *testing.T, s *Storage, name string, duration int, price float64, active bool) uuid.UUID {
	id := uuid.New()
	_, err := s.DB.Exec(`INSERT INTO plans (id, name, display_name, price, duration, features, is_active)
		VALUES ($1, $2, $3, $4, $5, '{"meal_plans": 30}', $6)`,
		id, name, name, price, duration, active)
	require.NoError(t, err)
	return id
}

// seedSubscription вставляет строку подписки напрямую.
func seedSubscription(t *testing.T, s *Storage, userUID string, planID uuid.UUID,
	status models.SubscriptionStatus, periodStart, periodEnd time.Time) uuid.UUID {
	id := uuid.New()
	_, err := s.DB.Exec(`INSERT INTO subscriptions
		(id, user_uid, plan_id, status, period_start, period_end)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userUID, planID, status, periodStart, periodEnd)
	require.NoError(t, err)
	return id
}
