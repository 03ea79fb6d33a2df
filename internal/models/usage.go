package models

import "github.com/google/uuid"

// UsageRecord — счётчик использования фичи пользователем за расчётный период.
// Period — календарный бакет в формате YYYY-MM; периоды аддитивны, записи не удаляются.
type UsageRecord struct {
	ID        uuid.UUID `json:"id"`
	UserUID   string    `json:"user_uid"`
	Feature   string    `json:"feature"`
	Period    string    `json:"period"`
	UsedCount int       `json:"used_count"`
}

// UsageCheck — результат проверки квоты.
type UsageCheck struct {
	Allowed   bool   `json:"allowed"`
	Feature   string `json:"feature"`
	Current   int    `json:"current"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// DummyUsage используется для приёма данных из JSON-запросов проверки и записи использования.
type DummyUsage struct {
	Feature string `json:"feature" validate:"required"`
	Count   int    `json:"count" validate:"omitempty,gt=0"` // По умолчанию 1
}
