// Package apperr определяет типизированные ошибки ядра жизненного цикла доступа.
// Сервисы возвращают эти ошибки (обёрнутые через fmt.Errorf с %w), обработчики
// сопоставляют их с HTTP-статусами через errors.Is. Голые паники и ошибки
// хранилища наружу не выходят.
package apperr

import "errors"

var (
	// ErrInvalidUser — идентификатор пользователя отсутствует или не распознан.
	ErrInvalidUser = errors.New("invalid user")
	// ErrPlanResolution — не удалось найти или создать тарифный план.
	ErrPlanResolution = errors.New("plan resolution failed")
	// ErrStoreConflict — конфликт уникальности, не устранённый повторными попытками.
	ErrStoreConflict = errors.New("store conflict")
	// ErrAlreadyInitialized — у пользователя уже есть неистёкший триал.
	ErrAlreadyInitialized = errors.New("trial already initialized")
	// ErrGatewayVerification — платёж не подтверждён шлюзом (включая таймаут).
	ErrGatewayVerification = errors.New("gateway verification failed")
	// ErrNotFound — триал, подписка или план по запросу не найдены.
	ErrNotFound = errors.New("not found")
)
