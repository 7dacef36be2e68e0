// Package handler exposes the unauthenticated debtor portal: token
// validation, identity verification, and registration.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"debtgate/internal/invite"
	invsvc "debtgate/internal/invite/service"
	"debtgate/internal/platform/middleware"
	"debtgate/internal/register"
	"debtgate/internal/verify"
	dErrors "debtgate/pkg/domain-errors"
	"debtgate/pkg/platform/httputil"
)

// Validator evaluates a presented invitation token.
type Validator interface {
	Validate(ctx context.Context, token string) (*invsvc.Validation, error)
}

// Verifier runs the identity verification gate.
type Verifier interface {
	VerifyIdentity(ctx context.Context, token string, fragments verify.Fragments) (*verify.Result, error)
}

// Registrar commits the provisioning transaction.
type Registrar interface {
	Register(ctx context.Context, token, grant string, reg register.Registration) (*register.Result, error)
}

// Handler handles the public portal endpoints. None of them require a
// session; the invitation token is the only credential.
type Handler struct {
	logger    *slog.Logger
	validator Validator
	verifier  Verifier
	registrar Registrar
}

func New(validator Validator, verifier Verifier, registrar Registrar, logger *slog.Logger) *Handler {
	return &Handler{
		logger:    logger,
		validator: validator,
		verifier:  verifier,
		registrar: registrar,
	}
}

// Register registers the portal routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	portalRouter := chi.NewRouter()
	portalRouter.Use(middleware.ContentTypeJSON)
	portalRouter.Post("/portal/validate", h.handleValidate)
	portalRouter.Post("/portal/verify", h.handleVerify)
	portalRouter.Post("/portal/register", h.handleRegister)

	r.Mount("/", portalRouter)
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid         bool                  `json:"valid"`
	Status        invite.Status         `json:"status,omitempty"`
	CaseReference *invite.CaseReference `json:"case_reference,omitempty"`
	RemainingUses *int                  `json:"remaining_uses,omitempty"`
	ErrorCode     string                `json:"error_code,omitempty"`
}

// handleValidate reports whether a token is usable. Lifecycle failures are a
// 200 with valid=false: the link state is the answer, not an error.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	validation, err := h.validator.Validate(ctx, req.Token)
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to validate invitation token")
		return
	}

	resp := validateResponse{
		Valid:         validation.Valid,
		CaseReference: validation.CaseReference,
		RemainingUses: validation.RemainingUses,
		ErrorCode:     validation.ErrorCode,
	}
	// INVALID_TOKEN deliberately reports no status: unknown and dead tokens
	// must be indistinguishable to an enumerating caller.
	if validation.ErrorCode != invsvc.ReasonInvalidToken {
		resp.Status = validation.Status
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type verifyRequest struct {
	Token         string `json:"token"`
	LastFourSSN   string `json:"last_four_ssn"`
	DateOfBirth   string `json:"date_of_birth"`
	AccountNumber string `json:"account_number"`
}

type verifyResponse struct {
	Verified       bool           `json:"verified"`
	Preview        verify.Preview `json:"case_preview"`
	Grant          string         `json:"verification_grant"`
	GrantExpiresAt time.Time      `json:"grant_expires_at"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.verifier.VerifyIdentity(ctx, req.Token, verify.Fragments{
		LastFourSSN:   req.LastFourSSN,
		DateOfBirth:   req.DateOfBirth,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		h.writeServiceError(ctx, w, err, "identity verification failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		Verified:       true,
		Preview:        result.Preview,
		Grant:          result.Grant,
		GrantExpiresAt: result.GrantExpiresAt,
	})
}

type registerRequest struct {
	Token             string `json:"token"`
	VerificationGrant string `json:"verification_grant"`
	Email             string `json:"email"`
	Password          string `json:"password"`
	AcceptedTerms     bool   `json:"accepted_terms"`
	TermsVersion      string `json:"terms_version"`
}

type registerResponse struct {
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	CaseID           string    `json:"case_id"`
	SessionToken     string    `json:"session_token"`
	CSRFToken        string    `json:"csrf_token"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.registrar.Register(ctx, req.Token, req.VerificationGrant, register.Registration{
		Email:         req.Email,
		Password:      req.Password,
		AcceptedTerms: req.AcceptedTerms,
		TermsVersion:  req.TermsVersion,
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		h.writeServiceError(ctx, w, err, "registration failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		UserID:           result.UserID,
		Email:            result.Email,
		Role:             string(result.Role),
		CaseID:           result.CaseID,
		SessionToken:     result.SessionToken,
		CSRFToken:        result.CSRFToken,
		SessionExpiresAt: result.SessionExpiresAt,
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the socket
// peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
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
