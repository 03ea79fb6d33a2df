package models

import "time"

// EntitlementStatus — агрегированный статус доступа пользователя.
// Все булевы поля присутствуют всегда: ответ никогда не полагается на
// наличие или отсутствие ключей.
type EntitlementStatus struct {
	UserUID               string     `json:"user_uid"`
	CanAccess             bool       `json:"can_access"`
	HasActiveSubscription bool       `json:"has_active_subscription"`
	TrialActive           bool       `json:"trial_active"`
	State                 string     `json:"state"`
	TrialEndsAt           *time.Time `json:"trial_ends_at,omitempty"`
	SubscriptionEndsAt    *time.Time `json:"subscription_ends_at,omitempty"`
	CancelAtPeriodEnd     bool       `json:"cancel_at_period_end"`
}

// Человекочитаемые метки агрегированного состояния.
const (
	StateSubscribed    = "subscribed"
	StateTrial         = "trial"
	StateExpired       = "expired"
	StateNone          = "none"
	StateOutsideWindow = "outside_access_window"
)
