package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/metrics"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
	"github.com/magabrotheeeer/mealplan-backend/internal/paymentprovider"
)

// Outcome — результат обработки вебхука. Любой исход отвечается шлюзу 200,
// иначе он будет ретраить доставку.
type Outcome string

const (
	// OutcomeProcessed — событие распознано и применено.
	OutcomeProcessed Outcome = "processed"
	// OutcomeDuplicate — повторная доставка уже записанного события.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeInvalidSignature — подпись не сошлась; событие записано для
	// аудита, но не обработано.
	OutcomeInvalidSignature Outcome = "invalid_signature"
	// OutcomeIgnored — тип события не входит в обрабатываемые.
	OutcomeIgnored Outcome = "ignored"
)

// ErrMalformedPayload возвращается, когда тело вебхука не разбирается как JSON.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// eventPayload — конверт вебхука шлюза.
type eventPayload struct {
	ID     string                          `json:"id"`
	Event  string                          `json:"event"`
	Object paymentprovider.PaymentResponse `json:"object"`
}

// WebhookRepository определяет методы журнала входящих событий шлюза.
type WebhookRepository interface {
	InsertWebhookEvent(ctx context.Context, event models.WebhookEvent) (bool, error)
	ReadWebhookEvent(ctx context.Context, gatewayEventID string) (*models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uuid.UUID) (int, error)
}

// WebhookProcessor обрабатывает push-уведомления платёжного шлюза.
type WebhookProcessor struct {
	repo     WebhookRepository
	payments *Service
	secret   string
	log      *slog.Logger
}

// NewWebhookProcessor создает новый экземпляр WebhookProcessor.
func NewWebhookProcessor(repo WebhookRepository, payments *Service, secret string, log *slog.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		repo:     repo,
		payments: payments,
		secret:   secret,
		log:      log,
	}
}

// VerifySignature сверяет HMAC-SHA256 подпись тела запроса.
func (p *WebhookProcessor) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Process разбирает событие шлюза, записывает его в журнал и применяет
// распознанные события.
//
// Событие записывается безусловно, в том числе при невалидной подписи:
// журнал — аудиторский след всего, что шлюз прислал. Ошибка возвращается
// только при отказе хранилища или сбое применения — во всех остальных
// случаях шлюзу отвечают 200, чтобы остановить ретраи.
func (p *WebhookProcessor) Process(ctx context.Context, body []byte, signature string) (Outcome, error) {
	const op = "services.payment.Process"

	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrMalformedPayload)
	}
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	valid := p.VerifySignature(body, signature)
	event := models.WebhookEvent{
		ID:             uuid.New(),
		GatewayEventID: payload.ID,
		EventType:      payload.Event,
		RawPayload:     body,
		SignatureValid: valid,
	}
	created, err := p.repo.InsertWebhookEvent(ctx, event)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !created {
		// Шлюз ретраит доставку, пока не получит 200: конфликт по
		// gateway_event_id ещё не значит, что прошлая доставка была применена.
		// Необработанное событие с валидной подписью доводится до конца,
		// журнал платежей делает повтор безопасным.
		stored, err := p.repo.ReadWebhookEvent(ctx, payload.ID)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if stored.Processed || !stored.SignatureValid {
			metrics.WebhookEvents.WithLabelValues(string(OutcomeDuplicate)).Inc()
			p.log.Info("duplicate webhook delivery ignored", slog.String("event_id", payload.ID))
			return OutcomeDuplicate, nil
		}
		p.log.Info("retrying webhook delivery left unprocessed",
			slog.String("event_id", payload.ID))
		event.ID = stored.ID
	}
	if !valid {
		metrics.WebhookEvents.WithLabelValues(string(OutcomeInvalidSignature)).Inc()
		p.log.Warn("webhook signature mismatch, event recorded without processing",
			slog.String("event_id", payload.ID), slog.String("event_type", payload.Event))
		return OutcomeInvalidSignature, nil
	}

	if payload.Event != "payment.succeeded" {
		metrics.WebhookEvents.WithLabelValues(string(OutcomeIgnored)).Inc()
		p.log.Info("webhook event type not handled",
			slog.String("event_id", payload.ID), slog.String("event_type", payload.Event))
		return OutcomeIgnored, nil
	}

	userUID := payload.Object.Metadata["user_uid"]
	duration, _ := strconv.Atoi(payload.Object.Metadata["duration"])
	if userUID == "" || duration <= 0 {
		metrics.WebhookEvents.WithLabelValues(string(OutcomeIgnored)).Inc()
		p.log.Warn("webhook payment metadata incomplete",
			slog.String("event_id", payload.ID), slog.String("reference", payload.Object.ID))
		return OutcomeIgnored, nil
	}

	if _, err := p.payments.VerifyAndActivate(ctx, userUID, payload.Object.ID, duration); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if _, err := p.repo.MarkWebhookProcessed(ctx, event.ID); err != nil {
		p.log.Warn("failed to mark webhook processed", sl.Err(err), slog.String("event_id", payload.ID))
	}

	metrics.WebhookEvents.WithLabelValues(string(OutcomeProcessed)).Inc()
	p.log.Info("webhook payment applied", sl.UID(userUID), slog.String("event_id", payload.ID))
	return OutcomeProcessed, nil
}
