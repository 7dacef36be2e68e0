// Package verify implements the identity verification gate: matching
// caller-supplied identity fragments against case records under a progressive
// lockout, and minting the short-lived grant that authorizes registration.
package verify

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"debtgate/internal/audit"
	"debtgate/internal/auth"
	"debtgate/internal/casefile"
	invsvc "debtgate/internal/invite/service"
	"debtgate/internal/platform/metrics"
	dErrors "debtgate/pkg/domain-errors"
	"debtgate/pkg/platform/sentinel"
	"debtgate/pkg/secrets"
)

const (
	ReasonCaseNotFound      = "CASE_NOT_FOUND"
	ReasonAlreadyRegistered = "ALREADY_REGISTERED"
	ReasonLocked            = "VERIFICATION_LOCKED"
	ReasonFailed            = "VERIFICATION_FAILED"
)

const (
	// LockoutThreshold is the number of consecutive failures that trips the
	// lockout.
	LockoutThreshold = 3
	// LockoutDuration is how long a tripped lockout rejects all attempts.
	LockoutDuration = 30 * time.Minute
)

// failedMessage is deliberately generic: it never reveals which fragment
// mismatched.
const failedMessage = "information doesn't match our records"

// TokenValidator resolves a presented invitation token to its case.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*invsvc.Validation, error)
}

// CaseStore provides case lookup plus the atomic lockout counters.
type CaseStore interface {
	Find(ctx context.Context, caseID string) (*casefile.Case, error)
	RecordFailureAtomic(ctx context.Context, caseID string) (int, error)
	ApplyLockAtomic(ctx context.Context, caseID string, lockedUntil time.Time, threshold int) (bool, error)
	ResetVerification(ctx context.Context, caseID string) error
}

// ProfileStore answers whether a case already has a registered debtor.
type ProfileStore interface {
	FindByCase(ctx context.Context, caseID string) (*auth.DebtorProfile, error)
}

// AuditPublisher records security-relevant events without blocking the caller.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// Fragments are the identity proofs a debtor may supply. Either the SSN
// fragment plus date of birth, or the account number, is sufficient alone.
type Fragments struct {
	LastFourSSN   string
	DateOfBirth   string
	AccountNumber string
}

// Preview is the minimal case summary returned after a successful proof. It
// contains only facts the letter itself already disclosed.
type Preview struct {
	FirstName       string `json:"first_name"`
	CreditorName    string `json:"creditor_name"`
	ReferenceNumber string `json:"reference_number,omitempty"`
}

// Result is a successful verification: the grant plus the case preview.
type Result struct {
	Preview        Preview
	Grant          string
	GrantExpiresAt time.Time
}

// Service is the identity verification gate.
type Service struct {
	tokens   TokenValidator
	cases    CaseStore
	profiles ProfileStore
	grants   *GrantIssuer

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

// WithClock overrides the wall clock, for lockout-window tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(tokens TokenValidator, cases CaseStore, profiles ProfileStore, grants *GrantIssuer, opts ...Option) (*Service, error) {
	if tokens == nil {
		return nil, errors.New("token validator is required")
	}
	if cases == nil {
		return nil, errors.New("case store is required")
	}
	if profiles == nil {
		return nil, errors.New("profile store is required")
	}
	if grants == nil {
		return nil, errors.New("grant issuer is required")
	}

	svc := &Service{
		tokens:   tokens,
		cases:    cases,
		profiles: profiles,
		grants:   grants,
		logger:   slog.Default(),
		tracer:   otel.Tracer("debtgate/verify"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// VerifyIdentity proves the caller is the debtor behind the invitation.
// Token failures propagate as-is; lockout is checked before any comparison
// work so a locked case costs the same regardless of the supplied fragments.
func (s *Service) VerifyIdentity(ctx context.Context, token string, fragments Fragments) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "verify.VerifyIdentity")
	defer span.End()

	validation, err := s.tokens.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, invsvc.ValidationError(validation)
	}

	caseID := validation.Invitation.CaseID
	caseRecord, err := s.cases.Find(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "case not found").WithReason(ReasonCaseNotFound)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load case")
	}

	if _, err := s.profiles.FindByCase(ctx, caseID); err == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "an account already exists for this case").
			WithReason(ReasonAlreadyRegistered)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing registration")
	}

	now := s.now()
	if caseRecord.LockedAt(now) {
		return nil, s.lockedError(*caseRecord.VerificationLockedUntil)
	}

	if !matchFragments(caseRecord, fragments) {
		return nil, s.recordFailure(ctx, caseRecord, now)
	}

	if err := s.cases.ResetVerification(ctx, caseID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset verification state")
	}

	grant, grantID, expiresAt, err := s.grants.Issue(caseID, validation.Invitation.LetterID, validation.Invitation.TokenID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue verification grant")
	}

	s.logger.InfoContext(ctx, "identity verified",
		"case_id", caseID,
		"grant_id", grantID,
	)
	s.emitAudit(ctx, audit.EventVerificationPassed, caseRecord, nil)

	return &Result{
		Preview: Preview{
			FirstName:       caseRecord.DebtorFirstName(),
			CreditorName:    caseRecord.CreditorName,
			ReferenceNumber: caseRecord.ReferenceNumber,
		},
		Grant:          grant,
		GrantExpiresAt: expiresAt,
	}, nil
}

// matchFragments tries the two independent proof methods, short-circuiting on
// the first match. Account numbers compare in constant time; the SSN fragment
// goes through the slow hash regardless.
func matchFragments(c *casefile.Case, f Fragments) bool {
	if f.LastFourSSN != "" && f.DateOfBirth != "" {
		if secrets.Matches(f.LastFourSSN, c.SSNLast4Hash) && f.DateOfBirth == c.DateOfBirth {
			return true
		}
	}
	if f.AccountNumber != "" && c.AccountNumber != "" {
		if subtle.ConstantTimeCompare([]byte(f.AccountNumber), []byte(c.AccountNumber)) == 1 {
			return true
		}
	}
	return false
}

// recordFailure increments the per-case counter and applies the lockout when
// the threshold is reached. Both steps are atomic store operations, so racing
// attempts serialize and never grant an extra try past the threshold.
func (s *Service) recordFailure(ctx context.Context, caseRecord *casefile.Case, now time.Time) error {
	attempts, err := s.cases.RecordFailureAtomic(ctx, caseRecord.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification failure")
	}
	if s.metrics != nil {
		s.metrics.VerificationFailures.Inc()
	}
	s.emitAudit(ctx, audit.EventVerificationFailed, caseRecord, map[string]any{
		"attempts": attempts,
	})

	if attempts >= LockoutThreshold {
		lockedUntil := now.Add(LockoutDuration)
		applied, err := s.cases.ApplyLockAtomic(ctx, caseRecord.ID, lockedUntil, LockoutThreshold)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply verification lockout")
		}
		if applied {
			if s.metrics != nil {
				s.metrics.LockoutsTriggered.Inc()
			}
			s.logger.WarnContext(ctx, "verification lockout applied",
				"case_id", caseRecord.ID,
				"locked_until", lockedUntil,
			)
			s.emitAudit(ctx, audit.EventVerificationLocked, caseRecord, map[string]any{
				"locked_until": lockedUntil,
			})
		}
		return dErrors.New(dErrors.CodeLocked, failedMessage).
			WithReason(ReasonLocked).
			WithDetail("attempts_remaining", 0).
			WithDetail("locked_until", lockedUntil)
	}

	return dErrors.New(dErrors.CodeUnauthorized, failedMessage).
		WithReason(ReasonFailed).
		WithDetail("attempts_remaining", LockoutThreshold-attempts)
}

func (s *Service) lockedError(lockedUntil time.Time) error {
	return dErrors.New(dErrors.CodeLocked, failedMessage).
		WithReason(ReasonLocked).
		WithDetail("attempts_remaining", 0).
		WithDetail("locked_until", lockedUntil)
}

func (s *Service) emitAudit(ctx context.Context, eventType audit.EventType, c *casefile.Case, fields map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, audit.Event{
		Type:           eventType,
		OrganizationID: c.OrganizationID,
		CaseID:         c.ID,
		Fields:         fields,
	})
}
