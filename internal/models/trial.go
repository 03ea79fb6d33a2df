// Package models содержит доменные структуры ядра жизненного цикла доступа,
// а также вспомогательные типы для приёма данных из JSON-запросов.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Trial представляет пробное окно доступа пользователя.
//
// IsUsed — терминальная отметка о том, что триал потрачен (активацией подписки
// или обработкой истечения). Она никогда не гейтит доступ: активность триала
// определяется только временным окном, см. Trial.IsActive.
type Trial struct {
	ID        uuid.UUID `json:"id"`
	UserUID   string    `json:"user_uid"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	IsUsed    bool      `json:"is_used"`
}

// IsActive сообщает, действует ли триал в момент now.
// Проверяется только окно времени, IsUsed игнорируется намеренно.
func (t *Trial) IsActive(now time.Time) bool {
	return now.Before(t.EndTime)
}

// DummyTrial используется для приёма данных из JSON-запроса на создание триала.
type DummyTrial struct {
	Duration int `json:"duration" validate:"required,gt=0"` // Номинальная длительность
}
