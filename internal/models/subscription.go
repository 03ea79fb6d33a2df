package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus перечисляет состояния платной подписки.
type SubscriptionStatus string

const (
	// StatusActive — подписка действует.
	StatusActive SubscriptionStatus = "active"
	// StatusExpired — окно подписки истекло.
	StatusExpired SubscriptionStatus = "expired"
	// StatusCancelled — подписка архивирована при повторной активации.
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription представляет платное окно доступа пользователя.
//
// Инвариант: у пользователя не более одной строки со статусом active и
// period_end > now. Строка active с прошедшим period_end — переходная
// несогласованность, исправляется лениво при чтении через GetActive.
type Subscription struct {
	ID                uuid.UUID          `json:"id"`
	UserUID           string             `json:"user_uid"`
	PlanID            uuid.UUID          `json:"plan_id"`
	Status            SubscriptionStatus `json:"status"`
	PeriodStart       time.Time          `json:"period_start"`
	PeriodEnd         time.Time          `json:"period_end"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	Metadata          map[string]string  `json:"metadata"`
}

// IsCurrent сообщает, действует ли подписка в момент now.
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s.Status == StatusActive && s.PeriodEnd.After(now)
}

// DummyActivate используется для приёма данных из JSON-запроса на активацию подписки.
type DummyActivate struct {
	Duration   int    `json:"duration" validate:"required,gt=0"` // Номинальная длительность
	PaymentRef string `json:"payment_ref" validate:"required"`   // Ссылка на платёж в шлюзе
}
