// Package cancel реализует HTTP-обработчик отложенной отмены подписки.
package cancel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mealplan-backend/internal/apperr"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/response"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
)

// Handler управляет HTTP-запросами отмены подписки.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс отложенной отмены.
type Service interface {
	CancelAtPeriodEnd(ctx context.Context, userUID string) error
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Отменить подписку с конца периода
// @Description Выставляет флаг отмены: доступ сохраняется до конца оплаченного периода, продления не будет.
// @Tags Subscriptions
// @Produce  json
// @Success 200 {object} response.Response "Отмена запланирована"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Действующая подписка не найдена"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /subscriptions/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.cancel"
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

	if err := h.service.CancelAtPeriodEnd(r.Context(), uid); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Info("no active subscription to cancel", sl.UID(uid))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("active subscription not found"))
			return
		}
		log.Error("failed to schedule cancellation", sl.Err(err), sl.UID(uid))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to cancel subscription"))
		return
	}

	log.Info("subscription cancellation scheduled", sl.UID(uid))
	render.JSON(w, r, response.StatusOKWithData(map[string]bool{"cancel_at_period_end": true}))
}
