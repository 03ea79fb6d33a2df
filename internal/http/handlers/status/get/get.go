// Package get реализует HTTP-обработчик чтения агрегированного статуса доступа.
package get

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/mealplan-backend/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan-backend/internal/http/response"
	"github.com/magabrotheeeer/mealplan-backend/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// Handler управляет HTTP-запросами чтения статуса.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс агрегирования статуса.
type Service interface {
	Get(ctx context.Context, userUID string) (*models.EntitlementStatus, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Получить статус доступа
// @Description Возвращает агрегированный статус доступа текущего пользователя: подписка, триал, окно доступа. Все булевы поля присутствуют всегда.
// @Tags Status
// @Produce  json
// @Success 200 {object} response.Response "Статус доступа"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /status [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.status.get"
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

	st, err := h.service.Get(r.Context(), uid)
	if err != nil {
		log.Error("failed to get entitlement status", sl.Err(err), sl.UID(uid))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to get status"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(st))
}
