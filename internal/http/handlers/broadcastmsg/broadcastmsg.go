// Package broadcastmsg обрабатывает запуск массовой рассылки из
// административного API.
package broadcastmsg

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/avdeevlv/clubgate/internal/http/response"
	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/services/broadcast"
)

// Request тело запроса на рассылку.
type Request struct {
	Text string `json:"text" validate:"required,min=1"`
}

// Service описывает рассылку сообщения всем подписчикам.
type Service interface {
	Send(ctx context.Context, text string) (*broadcast.Report, error)
}

// Handler обработчик запуска рассылки.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.broadcastmsg.ServeHTTP"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode request"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	report, err := h.service.Send(r.Context(), req.Text)
	if err != nil {
		log.Error("broadcast failed", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("broadcast failed"))
		return
	}

	log.Info("broadcast finished",
		slog.Int("delivered", report.Delivered), slog.Int("failed", report.Failed))
	render.JSON(w, r, response.StatusOKWithData(report))
}
