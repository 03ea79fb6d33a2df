package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// ClaimPaymentTransaction атомарно вставляет pending-строку журнала для
// gateway_reference. Возвращает true, если строка создана этим вызовом,
// и false, если ссылка уже занята (повторная доставка или параллельная сверка).
// Проверка и вставка — одна операция: уникальный индекс по gateway_reference,
// никакой прикладной проверки перед вставкой.
func (s *Storage) ClaimPaymentTransaction(ctx context.Context, tx models.PaymentTransaction) (bool, error) {
	const op = "storage.ClaimPaymentTransaction"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO payment_transactions (id, user_uid, plan_id, gateway_reference,
			      amount, currency, status, metadata)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  ON CONFLICT (gateway_reference) DO NOTHING`
	result, err := s.DB.ExecContext(ctx, query,
		tx.ID, tx.UserUID, tx.PlanID, tx.GatewayReference,
		tx.Amount, tx.Currency, tx.Status, metadata)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}

// ReadPaymentTransaction возвращает строку журнала по ссылке шлюза.
func (s *Storage) ReadPaymentTransaction(ctx context.Context, gatewayReference string) (*models.PaymentTransaction, error) {
	const op = "storage.ReadPaymentTransaction"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, plan_id, gateway_reference, amount, currency,
			      status, metadata, created_at
			  FROM payment_transactions
			  WHERE gateway_reference = $1`
	row := s.DB.QueryRowContext(ctx, query, gatewayReference)

	var result models.PaymentTransaction
	var metadata []byte
	if err := row.Scan(&result.ID, &result.UserUID, &result.PlanID, &result.GatewayReference,
		&result.Amount, &result.Currency, &result.Status, &metadata, &result.CreatedAt); err != nil {
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

// CompletePaymentTransaction переводит pending-строку в completed.
// Единственная разрешённая мутация журнала; повторный вызов — no-op.
func (s *Storage) CompletePaymentTransaction(ctx context.Context, gatewayReference string) (int, error) {
	const op = "storage.CompletePaymentTransaction"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payment_transactions
			  SET status = 'completed'
			  WHERE gateway_reference = $1 AND status = 'pending'`
	result, err := s.DB.ExecContext(ctx, query, gatewayReference)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ReopenPaymentTransaction возвращает failed-строку в pending для повторной
// сверки. Completed-строки не трогаются.
func (s *Storage) ReopenPaymentTransaction(ctx context.Context, gatewayReference string) (int, error) {
	const op = "storage.ReopenPaymentTransaction"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payment_transactions
			  SET status = 'pending'
			  WHERE gateway_reference = $1 AND status = 'failed'`
	result, err := s.DB.ExecContext(ctx, query, gatewayReference)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// FailPaymentTransaction переводит pending-строку в failed.
func (s *Storage) FailPaymentTransaction(ctx context.Context, gatewayReference string) (int, error) {
	const op = "storage.FailPaymentTransaction"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payment_transactions
			  SET status = 'failed'
			  WHERE gateway_reference = $1 AND status = 'pending'`
	result, err := s.DB.ExecContext(ctx, query, gatewayReference)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}
