// Package start реализует HTTP-обработчик выдачи триального окна доступа.
//
// Handler принимает JSON-запрос с номинальной длительностью, валидирует его,
// извлекает user_uid из контекста и создает триал через сервис бизнес-логики.
package start

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
	"github.com/magabrotheeeer/mealplan-backend/internal/metrics"
	"github.com/magabrotheeeer/mealplan-backend/internal/models"
)

// Handler управляет HTTP-запросами на выдачу триала.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс бизнес-логики триалов.
type Service interface {
	Initialize(ctx context.Context, userUID string, duration int) (*models.Trial, error)
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
// @Summary Выдать триальное окно
// @Description Создает триальное окно доступа для текущего пользователя. Повторная выдача при действующем триале возвращает конфликт.
// @Tags Trial
// @Accept  json
// @Produce  json
// @Param request body models.DummyTrial true "Номинальная длительность триала"
// @Success 200 {object} response.Response "Созданный триал"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Триал уже выдан"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /trial [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.trial.start"
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

	var req models.DummyTrial
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

	trial, err := h.service.Initialize(r.Context(), uid, req.Duration)
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyInitialized) {
			log.Info("trial already granted", sl.UID(uid))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("trial already granted"))
			return
		}
		log.Error("failed to initialize trial", sl.Err(err), sl.UID(uid))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to initialize trial"))
		return
	}

	metrics.TrialStarts.Inc()
	log.Info("trial granted", sl.UID(uid), slog.Time("ends_at", trial.EndTime))
	render.JSON(w, r, response.StatusOKWithData(trial))
}
