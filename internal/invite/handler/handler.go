// Package handler exposes the staff-side invitation lifecycle over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"debtgate/internal/invite"
	invsvc "debtgate/internal/invite/service"
	"debtgate/internal/platform/middleware"
	dErrors "debtgate/pkg/domain-errors"
	"debtgate/pkg/platform/httputil"
)

// Service is the lifecycle surface staff endpoints drive.
type Service interface {
	Create(ctx context.Context, letterID, orgID string, opts invite.CreateOptions) (*invsvc.CreateResult, error)
	Revoke(ctx context.Context, letterID, orgID string) (time.Time, error)
	Status(ctx context.Context, letterID, orgID string) (*invsvc.StatusSummary, error)
}

// Handler handles the staff invitation endpoints. Every route requires an
// authenticated staff or admin session.
type Handler struct {
	logger       *slog.Logger
	invitations  Service
	jwtValidator middleware.JWTValidator
}

func New(invitations Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		invitations:  invitations,
		jwtValidator: jwtValidator,
	}
}

// Register registers the staff invitation routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	staffRouter := chi.NewRouter()
	staffRouter.Use(middleware.ContentTypeJSON)
	staffRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	staffRouter.Use(middleware.RequireRole(h.logger, "STAFF", "ADMIN"))
	staffRouter.Post("/letters/{letterID}/invitation", h.handleCreate)
	staffRouter.Delete("/letters/{letterID}/invitation", h.handleRevoke)
	staffRouter.Get("/letters/{letterID}/invitation", h.handleStatus)

	r.Mount("/", staffRouter)
}

type createRequest struct {
	ExpirationDays int `json:"expiration_days"`
	UsageLimit     int `json:"usage_limit"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	letterID := chi.URLParam(r, "letterID")
	orgID := middleware.GetOrganizationID(ctx)

	var req createRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	result, err := h.invitations.Create(ctx, letterID, orgID, invite.CreateOptions{
		ExpirationDays: req.ExpirationDays,
		UsageLimit:     req.UsageLimit,
	})
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to create invitation")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

type revokeResponse struct {
	RevokedAt time.Time `json:"revoked_at"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	letterID := chi.URLParam(r, "letterID")

	revokedAt, err := h.invitations.Revoke(ctx, letterID, middleware.GetOrganizationID(ctx))
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to revoke invitation")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, revokeResponse{RevokedAt: revokedAt})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	letterID := chi.URLParam(r, "letterID")

	status, err := h.invitations.Status(ctx, letterID, middleware.GetOrganizationID(ctx))
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to load invitation status")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
