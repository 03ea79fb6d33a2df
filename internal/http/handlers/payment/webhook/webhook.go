// Package webhook реализует HTTP-обработчик push-уведомлений платёжного шлюза.
//
// Маршрут не требует авторизации пользователя: аутентификация — подпись
// HMAC-SHA256 в заголовке X-Api-Signature. Любой разобранный запрос, включая
// запрос с невалидной подписью, отвечается 200 — иначе шлюз будет ретраить
// доставку; 5xx уходит только при отказе хранилища или сбое применения.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mealplan-backend/internal/http/response"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/services/payment"
)

// maxBodySize ограничивает размер тела вебхука.
const maxBodySize = 1 << 20

// Handler управляет HTTP-запросами вебхуков шлюза.
type Handler struct {
	log       *slog.Logger
	processor Processor
}

// Processor описывает интерфейс обработки события шлюза.
type Processor interface {
	Process(ctx context.Context, body []byte, signature string) (payment.Outcome, error)
}

// New создает новый Handler с переданными логгером и процессором.
func New(log *slog.Logger, processor Processor) *Handler {
	return &Handler{
		log:       log,
		processor: processor,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного шлюза
// @Description Принимает push-уведомление шлюза. Событие записывается в журнал безусловно; невалидная подпись и повторная доставка отвечаются 200 без обработки.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param X-Api-Signature header string true "HMAC-SHA256 подпись тела"
// @Success 200 {object} response.Response "Исход обработки"
// @Failure 400 {object} response.ErrorResponse "Нечитаемое тело запроса"
// @Failure 500 {object} response.ErrorResponse "Ошибка обработки"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	signature := r.Header.Get("X-Api-Signature")
	outcome, err := h.processor.Process(r.Context(), body, signature)
	if err != nil {
		if errors.Is(err, payment.ErrMalformedPayload) {
			log.Error("malformed webhook payload", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid request body"))
			return
		}
		log.Error("failed to process webhook", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to process webhook"))
		return
	}

	log.Info("webhook handled", slog.String("outcome", string(outcome)))
	render.JSON(w, r, response.StatusOKWithData(map[string]string{"outcome": string(outcome)}))
}
