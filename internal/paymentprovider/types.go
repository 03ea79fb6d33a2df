// Package paymentprovider реализует клиент платёжного шлюза.
// Ядро использует шлюз только как удалённый верификатор: по ссылке платежа
// оно получает каноническую запись транзакции и её статус.
package paymentprovider

import "time"

// Amount представляет денежную сумму.
type Amount struct {
	Value    string `json:"value"`    // сумма строкой, например "499.00"
	Currency string `json:"currency"` // валюта, например "RUB"
}

// Статусы платежа на стороне шлюза.
const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusCanceled  = "canceled"
)

// PaymentResponse представляет каноническую запись платежа в шлюзе.
type PaymentResponse struct {
	ID        string            `json:"id"`     // ID платежа в шлюзе
	Status    string            `json:"status"` // например "succeeded"
	Amount    Amount            `json:"amount"`
	Metadata  map[string]string `json:"metadata,omitempty"` // user_uid и др.
	CreatedAt time.Time         `json:"created_at"`
}

// Succeeded сообщает, подтверждён ли платёж шлюзом.
func (p *PaymentResponse) Succeeded() bool {
	return p.Status == StatusSucceeded
}
