package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// CreatePlan вставляет новую запись каталога планов.
func (s *Storage) CreatePlan(ctx context.Context, plan models.Plan) error {
	const op = "storage.CreatePlan"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	features, err := json.Marshal(plan.Features)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO plans (id, name, display_name, price, duration, features, is_active)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.DB.ExecContext(ctx, query,
		plan.ID, plan.Name, plan.DisplayName, plan.Price, plan.Duration, features, plan.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, apperr.ErrStoreConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ReadPlanByID возвращает план по идентификатору.
func (s *Storage) ReadPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	const op = "storage.ReadPlanByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, name, display_name, price, duration, features, is_active
			  FROM plans WHERE id = $1`
	return s.scanPlan(s.DB.QueryRowContext(ctx, query, id), op)
}

// ReadPlanByName возвращает план по имени.
func (s *Storage) ReadPlanByName(ctx context.Context, name string) (*models.Plan, error) {
	const op = "storage.ReadPlanByName"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, name, display_name, price, duration, features, is_active
			  FROM plans WHERE name = $1`
	return s.scanPlan(s.DB.QueryRowContext(ctx, query, name), op)
}

// ReadPlanByDuration возвращает план каталога с заданной длительностью.
func (s *Storage) ReadPlanByDuration(ctx context.Context, duration int) (*models.Plan, error) {
	const op = "storage.ReadPlanByDuration"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, name, display_name, price, duration, features, is_active
			  FROM plans
			  WHERE duration = $1
			  ORDER BY is_active DESC, price ASC
			  LIMIT 1`
	return s.scanPlan(s.DB.QueryRowContext(ctx, query, duration), op)
}

// ListActivePlans возвращает активные планы, отсортированные по цене по возрастанию.
func (s *Storage) ListActivePlans(ctx context.Context) ([]*models.Plan, error) {
	const op = "storage.ListActivePlans"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, name, display_name, price, duration, features, is_active
			  FROM plans
			  WHERE is_active = true
			  ORDER BY price ASC`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Plan
	for rows.Next() {
		var item models.Plan
		var features []byte
		if err := rows.Scan(&item.ID, &item.Name, &item.DisplayName, &item.Price,
			&item.Duration, &features, &item.IsActive); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := json.Unmarshal(features, &item.Features); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// RefinePlanPrice уточняет цену синтезированного плана по данным реального платежа
// и активирует его. Применяется только к плану с нулевой ценой.
func (s *Storage) RefinePlanPrice(ctx context.Context, id uuid.UUID, price float64) (int, error) {
	const op = "storage.RefinePlanPrice"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE plans
			  SET price = $1, is_active = true
			  WHERE id = $2 AND price = 0`
	result, err := s.DB.ExecContext(ctx, query, price, id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

func (s *Storage) scanPlan(row *sql.Row, op string) (*models.Plan, error) {
	var result models.Plan
	var features []byte
	if err := row.Scan(&result.ID, &result.Name, &result.DisplayName, &result.Price,
		&result.Duration, &features, &result.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(features, &result.Features); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}
