package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus перечисляет состояния записи платёжного журнала.
type PaymentStatus string

const (
	// PaymentPending — платёж зафиксирован, подтверждение не получено.
	PaymentPending PaymentStatus = "pending"
	// PaymentCompleted — платёж подтверждён шлюзом и применён.
	PaymentCompleted PaymentStatus = "completed"
	// PaymentFailed — шлюз отклонил платёж.
	PaymentFailed PaymentStatus = "failed"
)

// PaymentTransaction — строка append-only платёжного журнала.
// GatewayReference уникален и служит ключом идемпотентности сверки:
// платёж с одной и той же ссылкой не может быть применён дважды.
// Единственная мутация — переход статуса pending -> completed.
type PaymentTransaction struct {
	ID               uuid.UUID         `json:"id"`
	UserUID          string            `json:"user_uid"`
	PlanID           uuid.UUID         `json:"plan_id"`
	GatewayReference string            `json:"gateway_reference"`
	Amount           float64           `json:"amount"`
	Currency         string            `json:"currency"`
	Status           PaymentStatus     `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	CreatedAt        time.Time         `json:"created_at"`
}

// WebhookEvent — append-only запись входящего события шлюза.
// Сохраняется безусловно, в том числе при невалидной подписи (для аудита),
// и используется для обнаружения повторной доставки.
type WebhookEvent struct {
	ID             uuid.UUID `json:"id"`
	GatewayEventID string    `json:"gateway_event_id"`
	EventType      string    `json:"event_type"`
	RawPayload     []byte    `json:"raw_payload"`
	SignatureValid bool      `json:"signature_valid"`
	Processed      bool      `json:"processed"`
	CreatedAt      time.Time `json:"created_at"`
}

// DummyVerify используется для приёма данных из JSON-запроса на сверку платежа.
type DummyVerify struct {
	Reference string `json:"reference" validate:"required"`     // Ссылка на платёж в шлюзе
	Duration  int    `json:"duration" validate:"required,gt=0"` // Номинальная длительность подписки
}
