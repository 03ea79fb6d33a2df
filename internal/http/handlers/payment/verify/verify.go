// Package verify реализует HTTP-обработчик сверки платежа со шлюзом.
//
// В отличие от активации подписки, обработчик возвращает запись платёжного
// журнала без побочной семантики в ответе: повтор той же ссылки отдаёт ту же
// строку completed.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/response"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// Handler управляет HTTP-запросами сверки платежей.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс сверки платежа.
type Service interface {
	VerifyAndActivate(ctx context.Context, userUID, reference string, duration int) (*models.PaymentTransaction, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Сверить платёж
// @Description Сверяет платёж со шлюзом по ссылке и применяет его. Идемпотентен по ссылке платежа.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body models.DummyVerify true "Ссылка платежа и длительность"
// @Success 200 {object} response.Response "Запись платёжного журнала"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Шлюз недоступен или платёж не подтверждён"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /payments/verify [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.verify"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	uid, ok := middlewarectx.UIDFromContext(r.Context())
	if !ok {
		log.Error("failed to get user_uid from context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user is not authorized"))
		return
	}

	var req models.DummyVerify
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		var validateErrs validator.ValidationErrors
		if errors.As(err, &validateErrs) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(validateErrs))
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("validation failed"))
		return
	}

	tx, err := h.service.VerifyAndActivate(r.Context(), uid, req.Reference, req.Duration)
	if err != nil {
		if errors.Is(err, apperr.ErrGatewayVerification) {
			log.Error("gateway verification failed", sl.Err(err), sl.UID(uid))
			w.WriteHeader(http.StatusBadGateway)
			render.JSON(w, r, response.Error("payment verification failed"))
			return
		}
		log.Error("failed to verify payment", sl.Err(err), sl.UID(uid))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to verify payment"))
		return
	}

	log.Info("payment verified", sl.UID(uid), slog.String("reference", req.Reference))
	render.JSON(w, r, response.StatusOKWithData(tx))
}
