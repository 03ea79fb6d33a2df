package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// CreateSubscription вставляет новую строку подписки со статусом active.
// Нарушение частичного уникального индекса (одна active-строка на пользователя)
// возвращается как apperr.ErrStoreConflict — вызывающий обязан нейтрализовать
// конфликтующие строки и повторить.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) error {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO subscriptions (id, user_uid, plan_id, status, period_start,
			      period_end, cancel_at_period_end, metadata)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.DB.ExecContext(ctx, query,
		sub.ID, sub.UserUID, sub.PlanID, sub.Status, sub.PeriodStart,
		sub.PeriodEnd, sub.CancelAtPeriodEnd, metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, apperr.ErrStoreConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ReadActiveSubscription возвращает active-строку пользователя независимо от
// того, истёк ли её период. Ленивую коррекцию выполняет сервис через
// ExpireStaleSubscriptions; снаружи сервиса этот метод не вызывается.
func (s *Storage) ReadActiveSubscription(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "storage.ReadActiveSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, plan_id, status, period_start, period_end,
			      cancel_at_period_end, metadata
			  FROM subscriptions
			  WHERE user_uid = $1 AND status = 'active'
			  ORDER BY period_end DESC
			  LIMIT 1`
	row := s.DB.QueryRowContext(ctx, query, userUID)

	var result models.Subscription
	var metadata []byte
	if err := row.Scan(&result.ID, &result.UserUID, &result.PlanID, &result.Status,
		&result.PeriodStart, &result.PeriodEnd, &result.CancelAtPeriodEnd, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(metadata, &result.Metadata); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// ExpireStaleSubscriptions переводит в expired строки пользователя, которые
// значатся active, но чей период уже прошёл. Возвращает количество исправленных строк.
func (s *Storage) ExpireStaleSubscriptions(ctx context.Context, userUID string, now time.Time) (int, error) {
	const op = "storage.ExpireStaleSubscriptions"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'expired'
			  WHERE user_uid = $1 AND status = 'active' AND period_end <= $2`
	result, err := s.DB.ExecContext(ctx, query, userUID, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ArchiveActiveSubscription переводит текущую active-строку пользователя в
// cancelled. Используется при нейтрализации перед повторной активацией (renewal),
// когда прежнее окно ещё не истекло.
func (s *Storage) ArchiveActiveSubscription(ctx context.Context, userUID string) (int, error) {
	const op = "storage.ArchiveActiveSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'cancelled'
			  WHERE user_uid = $1 AND status = 'active'`
	result, err := s.DB.ExecContext(ctx, query, userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// MarkSubscriptionExpired явно переводит active-строку пользователя в expired.
// Повторный вызов — no-op.
func (s *Storage) MarkSubscriptionExpired(ctx context.Context, userUID string) (int, error) {
	const op = "storage.MarkSubscriptionExpired"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'expired'
			  WHERE user_uid = $1 AND status = 'active'`
	result, err := s.DB.ExecContext(ctx, query, userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// SetCancelAtPeriodEnd выставляет флаг отмены в конце периода на active-строке.
// Статус не меняется, доступ сохраняется до period_end.
func (s *Storage) SetCancelAtPeriodEnd(ctx context.Context, userUID string) (int, error) {
	const op = "storage.SetCancelAtPeriodEnd"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET cancel_at_period_end = true
			  WHERE user_uid = $1 AND status = 'active'`
	result, err := s.DB.ExecContext(ctx, query, userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// SweepExpiredSubscriptions переводит в expired все active-строки с прошедшим
// периодом и возвращает затронутые записи. Конкурентные запуски безопасны.
func (s *Storage) SweepExpiredSubscriptions(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	const op = "storage.SweepExpiredSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'expired'
			  WHERE status = 'active' AND period_end <= $1
			  RETURNING id, user_uid, plan_id, status, period_start, period_end,
			      cancel_at_period_end, metadata`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		var item models.Subscription
		var metadata []byte
		if err := rows.Scan(&item.ID, &item.UserUID, &item.PlanID, &item.Status,
			&item.PeriodStart, &item.PeriodEnd, &item.CancelAtPeriodEnd, &metadata); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
