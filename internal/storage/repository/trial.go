package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// CreateTrial вставляет новую запись триала.
func (s *Storage) CreateTrial(ctx context.Context, trial models.Trial) error {
	const op = "storage.CreateTrial"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO trials (id, user_uid, start_time, end_time, is_used)
			  VALUES ($1, $2, $3, $4, $5)`
	_, err := s.DB.ExecContext(ctx, query,
		trial.ID, trial.UserUID, trial.StartTime, trial.EndTime, trial.IsUsed)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ReadLatestTrial возвращает последний по времени старта триал пользователя.
func (s *Storage) ReadLatestTrial(ctx context.Context, userUID string) (*models.Trial, error) {
	const op = "storage.ReadLatestTrial"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, start_time, end_time, is_used
			  FROM trials
			  WHERE user_uid = $1
			  ORDER BY start_time DESC
			  LIMIT 1`
	row := s.DB.QueryRowContext(ctx, query, userUID)

	var result models.Trial
	if err := row.Scan(&result.ID, &result.UserUID, &result.StartTime,
		&result.EndTime, &result.IsUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// MarkTrialUsed выставляет is_used последнему триалу пользователя.
// Повторный вызов — no-op, возвращает количество изменённых строк.
func (s *Storage) MarkTrialUsed(ctx context.Context, userUID string) (int, error) {
	const op = "storage.MarkTrialUsed"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE trials
			  SET is_used = true
			  WHERE id = (SELECT id FROM trials
			              WHERE user_uid = $1
			              ORDER BY start_time DESC
			              LIMIT 1)
			    AND is_used = false`
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

// SweepExpiredTrials помечает использованными все триалы с истёкшим окном
// и возвращает затронутые записи. Повторное выполнение поверх уже
// помеченных строк ничего не меняет, конкурентные запуски безопасны.
func (s *Storage) SweepExpiredTrials(ctx context.Context, now time.Time) ([]*models.Trial, error) {
	const op = "storage.SweepExpiredTrials"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE trials
			  SET is_used = true
			  WHERE is_used = false AND end_time <= $1
			  RETURNING id, user_uid, start_time, end_time, is_used`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Trial
	for rows.Next() {
		var item models.Trial
		if err := rows.Scan(&item.ID, &item.UserUID, &item.StartTime,
			&item.EndTime, &item.IsUsed); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
