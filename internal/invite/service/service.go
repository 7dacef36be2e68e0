// Package service implements the invitation lifecycle: creation, validation,
// redemption counting, revocation, and the staff status projection.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"debtgate/internal/audit"
	"debtgate/internal/casefile"
	"debtgate/internal/invite"
	"debtgate/internal/invite/token"
	"debtgate/internal/platform/metrics"
	dErrors "debtgate/pkg/domain-errors"
	"debtgate/pkg/platform/privacy"
	"debtgate/pkg/platform/sentinel"
)

// Machine-readable reasons carried on domain errors so handlers and callers
// can branch without string-matching messages.
const (
	ReasonNotFound         = "NOT_FOUND"
	ReasonInvalidToken     = "INVALID_TOKEN"
	ReasonRevoked          = "REVOKED"
	ReasonExpired          = "EXPIRED"
	ReasonExhausted        = "EXHAUSTED"
	ReasonNoInvitation     = "NO_INVITATION"
	ReasonAlreadyRevoked   = "ALREADY_REVOKED"
	ReasonInvitationExists = "INVITATION_EXISTS"
)

// Store is the invitation persistence contract. All mutating operations are
// single atomic store operations; the service never does read-modify-write.
type Store interface {
	FindLetter(ctx context.Context, letterID string) (*invite.Letter, error)
	FindByTokenID(ctx context.Context, tokenID string) (*invite.Invitation, error)
	CreateIfInactive(ctx context.Context, inv *invite.Invitation, now time.Time) error
	RedeemAtomic(ctx context.Context, tokenID string, now time.Time) (*invite.Invitation, error)
	RevokeAtomic(ctx context.Context, letterID string, now time.Time) error
}

// CaseStore resolves the case a letter belongs to.
type CaseStore interface {
	Find(ctx context.Context, caseID string) (*casefile.Case, error)
}

// AuditPublisher records security-relevant events without blocking the caller.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// Service owns the invitation lifecycle for case letters.
type Service struct {
	store   Store
	cases   CaseStore
	codec   *token.Codec
	baseURL string

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   AuditPublisher
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.audit = publisher }
}

// WithClock overrides the wall clock, for expiry boundary tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, cases CaseStore, codec *token.Codec, baseURL string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("invitation store is required")
	}
	if cases == nil {
		return nil, errors.New("case store is required")
	}
	if codec == nil {
		return nil, errors.New("token codec is required")
	}

	svc := &Service{
		store:   store,
		cases:   cases,
		codec:   codec,
		baseURL: baseURL,
		logger:  slog.Default(),
		tracer:  otel.Tracer("debtgate/invite"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateResult is the staff-facing output of Create.
type CreateResult struct {
	InvitationURL string    `json:"invitation_url"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
	UsageLimit    int       `json:"usage_limit"`
}

// Create issues a fresh invitation for a letter. Fails with
// INVITATION_EXISTS while a prior invitation is still active: staff must
// revoke before reissuing.
func (s *Service) Create(ctx context.Context, letterID, orgID string, opts invite.CreateOptions) (*CreateResult, error) {
	letter, err := s.store.FindLetter(ctx, letterID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "letter not found").WithReason(ReasonNotFound)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load letter")
	}
	if letter.OrganizationID != orgID {
		// Cross-org access reads as not-found; existence is not disclosed.
		return nil, dErrors.New(dErrors.CodeNotFound, "letter not found").WithReason(ReasonNotFound)
	}

	now := s.now()
	if cur := letter.Invitation; cur != nil && cur.StatusAt(now) == invite.StatusActive {
		return nil, dErrors.New(dErrors.CodeConflict, "an active invitation already exists for this letter").
			WithReason(ReasonInvitationExists)
	}

	caseRecord, err := s.cases.Find(ctx, letter.CaseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "case not found").WithReason(ReasonNotFound)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load case")
	}

	opts.Normalize()
	expiresAt := now.Add(time.Duration(opts.ExpirationDays) * 24 * time.Hour)

	tok, tokenID, ciphertext, err := s.codec.Issue(token.Payload{
		CaseID:         letter.CaseID,
		LetterID:       letterID,
		OrganizationID: orgID,
		DebtorHash:     caseRecord.IdentityHash(),
		CreatedAt:      now.Unix(),
		ExpiresAt:      expiresAt.Unix(),
		UsageLimit:     opts.UsageLimit,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue invitation token")
	}

	inv := &invite.Invitation{
		LetterID:         letterID,
		CaseID:           letter.CaseID,
		OrganizationID:   orgID,
		TokenID:          tokenID,
		EncryptedPayload: ciphertext,
		ExpiresAt:        expiresAt,
		UsageLimit:       opts.UsageLimit,
		CreatedAt:        now,
	}
	if err := s.store.CreateIfInactive(ctx, inv, now); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "letter not found").WithReason(ReasonNotFound)
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict, "an active invitation already exists for this letter").
				WithReason(ReasonInvitationExists)
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist invitation")
		}
	}

	if s.metrics != nil {
		s.metrics.InvitationsCreated.Inc()
	}
	s.emitAudit(ctx, audit.EventInvitationCreated, orgID, map[string]any{
		"letter_id":  letterID,
		"case_id":    letter.CaseID,
		"expires_at": expiresAt,
		"usage_limit": opts.UsageLimit,
	})

	return &CreateResult{
		InvitationURL: fmt.Sprintf("%s/portal/register?token=%s", s.baseURL, tok),
		Token:         tok,
		ExpiresAt:     expiresAt,
		UsageLimit:    opts.UsageLimit,
	}, nil
}

// Validation is the outcome of evaluating a token against the store and the
// clock. Lifecycle failures are data, not errors: handlers and downstream
// services branch on Status/ErrorCode.
type Validation struct {
	Valid         bool
	Status        invite.Status
	ErrorCode     string
	CaseReference *invite.CaseReference
	RemainingUses *int

	// Invitation is populated for valid tokens so downstream services can
	// reuse the lookup without another round trip.
	Invitation *invite.Invitation
}

// Validate evaluates a presented token. Only the envelope is decoded for
// lookup; the payload is decrypted and cross-checked only once the
// invitation is known to be ACTIVE, guarding against storage tampering.
func (s *Service) Validate(ctx context.Context, tok string) (*Validation, error) {
	ctx, span := s.tracer.Start(ctx, "invite.Validate")
	defer span.End()

	tokenID, ok := s.codec.ParseID(tok)
	if !ok {
		return &Validation{Valid: false, ErrorCode: ReasonInvalidToken}, nil
	}

	inv, err := s.store.FindByTokenID(ctx, tokenID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up invitation")
	}
	if inv == nil {
		return &Validation{Valid: false, ErrorCode: ReasonInvalidToken}, nil
	}

	now := s.now()
	switch status := inv.StatusAt(now); status {
	case invite.StatusRevoked:
		return &Validation{Valid: false, Status: status, ErrorCode: ReasonRevoked}, nil
	case invite.StatusExpired:
		return &Validation{Valid: false, Status: status, ErrorCode: ReasonExpired}, nil
	case invite.StatusExhausted:
		return &Validation{Valid: false, Status: status, ErrorCode: ReasonExhausted}, nil
	}

	// ACTIVE: the full payload must still open and match both the envelope
	// and the stored ciphertext.
	payload, ok := s.codec.Open(tok)
	if !ok || payload.TokenID != inv.TokenID {
		return &Validation{Valid: false, ErrorCode: ReasonInvalidToken}, nil
	}
	if stored, ok := s.codec.OpenCiphertext(inv.TokenID, inv.EncryptedPayload); !ok || stored.CaseID != payload.CaseID {
		s.logger.ErrorContext(ctx, "stored invitation payload failed integrity check",
			"letter_id", inv.LetterID,
		)
		return &Validation{Valid: false, ErrorCode: ReasonInvalidToken}, nil
	}

	caseRecord, err := s.cases.Find(ctx, inv.CaseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return &Validation{Valid: false, ErrorCode: ReasonInvalidToken}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load case")
	}

	return &Validation{
		Valid:  true,
		Status: invite.StatusActive,
		CaseReference: &invite.CaseReference{
			CreditorName:    caseRecord.CreditorName,
			DebtorName:      privacy.MaskName(caseRecord.DebtorName),
			ReferenceNumber: caseRecord.ReferenceNumber,
		},
		RemainingUses: inv.RemainingUses(),
		Invitation:    inv,
	}, nil
}

// RedeemResult identifies what a successful redemption unlocked.
type RedeemResult struct {
	LetterID string
	CaseID   string
}

// Redeem consumes one unit of the invitation's usage allowance. The
// limit check and increment are one atomic store operation, so concurrent
// redemptions against usage_limit=1 yield exactly one success.
func (s *Service) Redeem(ctx context.Context, tok string) (*RedeemResult, error) {
	validation, err := s.Validate(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, ValidationError(validation)
	}

	inv, err := s.store.RedeemAtomic(ctx, validation.Invitation.TokenID, s.now())
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Lost a race; re-derive the status for a precise answer.
			revalidated, verr := s.Validate(ctx, tok)
			if verr != nil {
				return nil, verr
			}
			return nil, ValidationError(revalidated)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to redeem invitation")
	}

	if s.metrics != nil {
		s.metrics.InvitationsRedeemed.Inc()
	}
	return &RedeemResult{LetterID: inv.LetterID, CaseID: inv.CaseID}, nil
}

// Revoke kills the letter's invitation regardless of remaining validity.
// Idempotence is reported precisely: the second call fails ALREADY_REVOKED.
func (s *Service) Revoke(ctx context.Context, letterID, orgID string) (time.Time, error) {
	letter, err := s.store.FindLetter(ctx, letterID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return time.Time{}, dErrors.New(dErrors.CodeNotFound, "letter not found").WithReason(ReasonNotFound)
		}
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load letter")
	}
	if letter.OrganizationID != orgID {
		return time.Time{}, dErrors.New(dErrors.CodeNotFound, "letter not found").WithReason(ReasonNotFound)
	}
	if letter.Invitation == nil {
		return time.Time{}, dErrors.New(dErrors.CodeNotFound, "no invitation exists for this letter").
			WithReason(ReasonNoInvitation)
	}
	if letter.Invitation.RevokedAt != nil {
		return time.Time{}, dErrors.New(dErrors.CodeConflict, "invitation is already revoked").
			WithReason(ReasonAlreadyRevoked)
	}

	now := s.now()
	if err := s.store.RevokeAtomic(ctx, letterID, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Someone else revoked between the read and the update.
			return time.Time{}, dErrors.New(dErrors.CodeConflict, "invitation is already revoked").
				WithReason(ReasonAlreadyRevoked)
		}
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke invitation")
	}

	if s.metrics != nil {
		s.metrics.InvitationsRevoked.Inc()
	}
	s.emitAudit(ctx, audit.EventInvitationRevoked, orgID, map[string]any{
		"letter_id": letterID,
		"case_id":   letter.CaseID,
	})
	return now, nil
}

// StatusSummary is the staff-side projection. Unlike the public validate
// path, staff see the precise lifecycle state.
type StatusSummary struct {
	Status        invite.Status `json:"status"`
	CreatedAt     *time.Time    `json:"created_at,omitempty"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	UsageLimit    int           `json:"usage_limit"`
	UsageCount    int           `json:"usage_count"`
	RemainingUses *int          `json:"remaining_uses,omitempty"`
	RevokedAt     *time.Time    `json:"revoked_at,omitempty"`
}

// Status reports the letter's invitation state without requiring a token.
func (s *Service) Status(ctx context.Context, letterID, orgID string) (*StatusSummary, error) {
	letter, err := s.store.FindLetter(ctx, letterID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "letter not found").WithReason(ReasonNotFound)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load letter")
	}
	if letter.OrganizationID != orgID {
		return nil, dErrors.New(dErrors.CodeNotFound, "letter not found").WithReason(ReasonNotFound)
	}
	if letter.Invitation == nil {
		return &StatusSummary{Status: invite.StatusNone}, nil
	}

	inv := letter.Invitation
	created := inv.CreatedAt
	expires := inv.ExpiresAt
	return &StatusSummary{
		Status:        inv.StatusAt(s.now()),
		CreatedAt:     &created,
		ExpiresAt:     &expires,
		UsageLimit:    inv.UsageLimit,
		UsageCount:    inv.UsageCount,
		RemainingUses: inv.RemainingUses(),
		RevokedAt:     inv.RevokedAt,
	}, nil
}

// ValidationError converts an invalid Validation into the coded error the
// non-validate entry points return. The message stays neutral: callers are
// not told whether the token never existed or merely died.
func ValidationError(v *Validation) error {
	code := dErrors.CodeGone
	if v.ErrorCode == ReasonInvalidToken {
		code = dErrors.CodeNotFound
	}
	return dErrors.New(code, "this invitation link is no longer usable").WithReason(v.ErrorCode)
}

func (s *Service) emitAudit(ctx context.Context, eventType audit.EventType, orgID string, fields map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, audit.Event{
		Type:           eventType,
		OrganizationID: orgID,
		Fields:         fields,
	})
}
