package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// InsertWebhookEvent сохраняет входящее событие шлюза. Возвращает false, если
// событие с таким gateway_event_id уже записано (повторная доставка).
// Событие пишется безусловно, в том числе с невалидной подписью — для аудита.
func (s *Storage) InsertWebhookEvent(ctx context.Context, event models.WebhookEvent) (bool, error) {
	const op = "storage.InsertWebhookEvent"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO webhook_events (id, gateway_event_id, event_type, raw_payload,
			      signature_valid, processed)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (gateway_event_id) DO NOTHING`
	result, err := s.DB.ExecContext(ctx, query,
		event.ID, event.GatewayEventID, event.EventType, event.RawPayload,
		event.SignatureValid, event.Processed)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}

// ReadWebhookEvent возвращает сохранённое событие по gateway_event_id.
func (s *Storage) ReadWebhookEvent(ctx context.Context, gatewayEventID string) (*models.WebhookEvent, error) {
	const op = "storage.ReadWebhookEvent"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, gateway_event_id, event_type, raw_payload,
				     signature_valid, processed, created_at
			  FROM webhook_events
			  WHERE gateway_event_id = $1`
	row := s.DB.QueryRowContext(ctx, query, gatewayEventID)
	var result models.WebhookEvent
	if err := row.Scan(&result.ID, &result.GatewayEventID, &result.EventType,
		&result.RawPayload, &result.SignatureValid, &result.Processed, &result.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// MarkWebhookProcessed помечает событие обработанным.
func (s *Storage) MarkWebhookProcessed(ctx context.Context, id uuid.UUID) (int, error) {
	const op = "storage.MarkWebhookProcessed"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE webhook_events
			  SET processed = true
			  WHERE id = $1 AND processed = false`
	result, err := s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}
