package models

import "github.com/google/uuid"

// Plan представляет запись каталога тарифных планов.
// План, на который уже ссылается подписка, не изменяется на месте; единственное
// исключение — уточнение цены синтезированного плана после первого платежа.
type Plan struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Price       float64        `json:"price"`
	Duration    int            `json:"duration"` // Номинальная длительность, единицу задаёт clockpolicy
	Features    map[string]int `json:"features"` // Квота по фиче за расчётный период
	IsActive    bool           `json:"is_active"`
}

// FeatureLimit возвращает квоту плана для фичи за расчётный период.
// Фича, отсутствующая в плане, недоступна: квота 0.
func (p *Plan) FeatureLimit(feature string) int {
	if limit, ok := p.Features[feature]; ok {
		return limit
	}
	return 0
}
