// Package approve обрабатывает одобрение заявки на доступ из
// административного API.
package approve

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/avdeevlv/clubgate/internal/http/response"
	"github.com/avdeevlv/clubgate/internal/lib/sl"
	"github.com/avdeevlv/clubgate/internal/services/approval"
	"github.com/avdeevlv/clubgate/internal/storage/cache"
)

// Request тело запроса на одобрение заявки.
type Request struct {
	UserID       int64  `json:"user_id" validate:"required"`
	Username     string `json:"username"`
	PlanName     string `json:"plan_name" validate:"required"`
	ActorID      int64  `json:"actor_id" validate:"required"`
	ApprovedBy   string `json:"approved_by" validate:"required"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// Service описывает процедуру одобрения заявки.
type Service interface {
	Approve(ctx context.Context, req approval.Request, now time.Time) (*approval.Result, error)
}

// ActionGuard описывает защиту от одновременных одобрений одним
// администратором.
type ActionGuard interface {
	SetPendingAction(ctx context.Context, action cache.PendingAction, ttl time.Duration) error
	GetPendingAction(ctx context.Context, actorID int64) (*cache.PendingAction, bool, error)
	ClearPendingAction(ctx context.Context, actorID int64) error
}

// Handler обработчик одобрения заявок.
type Handler struct {
	log      *slog.Logger
	service  Service
	guard    ActionGuard
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service, guard ActionGuard) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		guard:    guard,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.approve.ServeHTTP"

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

	_, inFlight, err := h.guard.GetPendingAction(r.Context(), req.ActorID)
	if err != nil {
		log.Error("failed to check pending action", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	if inFlight {
		log.Warn("approval already in progress", sl.UID(req.ActorID))
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("approval already in progress"))
		return
	}

	action := cache.PendingAction{
		ActorID:  req.ActorID,
		Kind:     "approve",
		TargetID: req.UserID,
		PlanName: req.PlanName,
	}
	if err := h.guard.SetPendingAction(r.Context(), action, cache.DefaultActionTTL); err != nil {
		log.Error("failed to set pending action", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	defer func() {
		if err := h.guard.ClearPendingAction(r.Context(), req.ActorID); err != nil {
			log.Error("failed to clear pending action", sl.Err(err))
		}
	}()

	result, err := h.service.Approve(r.Context(), approval.Request{
		UserID:       req.UserID,
		Username:     req.Username,
		PlanName:     req.PlanName,
		ActorID:      req.ActorID,
		ApprovedBy:   req.ApprovedBy,
		ReferralCode: req.ReferralCode,
	}, time.Now())
	if err != nil {
		log.Error("failed to approve access request", sl.UID(req.UserID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not approve access request"))
		return
	}

	log.Info("access request approved", sl.UID(req.UserID), sl.Sub(result.SubscriptionID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"subscription_id": result.SubscriptionID,
		"expiry_date":     result.ExpiryDate.Format(time.RFC3339),
		"is_renewal":      result.IsRenewal,
		"invite_link":     result.InviteLink,
	}))
}
