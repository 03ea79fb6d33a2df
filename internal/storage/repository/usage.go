package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// IncrementUsage добавляет count к счётчику фичи за расчётный период.
// Бакет создаётся при первом обращении.
func (s *Storage) IncrementUsage(ctx context.Context, userUID, feature, period string, count int) error {
	const op = "storage.IncrementUsage"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO usage_records (id, user_uid, feature, period, used_count)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (user_uid, feature, period)
			  DO UPDATE SET used_count = usage_records.used_count + EXCLUDED.used_count`
	_, err := s.DB.ExecContext(ctx, query, uuid.New(), userUID, feature, period, count)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SumUsage возвращает суммарное использование фичи за расчётный период.
func (s *Storage) SumUsage(ctx context.Context, userUID, feature, period string) (int, error) {
	const op = "storage.SumUsage"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT COALESCE(SUM(used_count), 0)
			  FROM usage_records
			  WHERE user_uid = $1 AND feature = $2 AND period = $3`
	var total int
	if err := s.DB.QueryRowContext(ctx, query, userUID, feature, period).Scan(&total); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return total, nil
}
