// Package register converts a verification grant into a durable debtor
// account: user, profile, case link, and session, committed atomically.
package register

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"debtgate/internal/audit"
	"debtgate/internal/auth"
	authtoken "debtgate/internal/auth/token"
	invsvc "debtgate/internal/invite/service"
	"debtgate/internal/platform/metrics"
	"debtgate/internal/verify"
	dErrors "debtgate/pkg/domain-errors"
	"debtgate/pkg/email"
	"debtgate/pkg/platform/sentinel"
	"debtgate/pkg/secrets"
)

const (
	ReasonTermsNotAccepted  = "TERMS_NOT_ACCEPTED"
	ReasonInvalidGrant      = "INVALID_VERIFICATION_TOKEN"
	ReasonEmailExists       = "EMAIL_EXISTS"
	ReasonAlreadyRegistered = "ALREADY_REGISTERED"
)

// InvitationService is the lifecycle surface registration needs: a fresh
// validation before committing, and the redemption afterwards.
type InvitationService interface {
	Validate(ctx context.Context, token string) (*invsvc.Validation, error)
	Redeem(ctx context.Context, token string) (*invsvc.RedeemResult, error)
}

// GrantVerifier checks a verification grant's signature and expiry.
type GrantVerifier interface {
	Verify(grant string) (*verify.GrantClaims, error)
}

type UserStore interface {
	Create(ctx context.Context, user *auth.User) error
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
}

type ProfileStore interface {
	Create(ctx context.Context, profile *auth.DebtorProfile) error
	FindByCase(ctx context.Context, caseID string) (*auth.DebtorProfile, error)
}

type SessionStore interface {
	Create(ctx context.Context, session *auth.Session) error
}

// CaseLinker stamps the new user id onto the case record.
type CaseLinker interface {
	LinkDebtor(ctx context.Context, caseID, userID string) error
}

// SessionTokenIssuer mints the bearer token for a committed session.
type SessionTokenIssuer interface {
	IssueSessionToken(user *auth.User, session *auth.Session, now time.Time) (string, error)
}

// TxRunner executes fn atomically. Stores participate through the context, so
// every write inside fn lands in the same transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTx runs fn without transactional guarantees. Paired with the memory
// stores in tests and local runs.
type NopTx struct{}

func (NopTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// AuditPublisher records security-relevant events without blocking the caller.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// Registration is the caller-supplied account detail.
type Registration struct {
	Email         string
	Password      string
	AcceptedTerms bool
	TermsVersion  string
	IP            string
	UserAgent     string
}

// Result is a committed registration: identity plus the live session.
type Result struct {
	UserID           string
	Email            string
	Role             auth.Role
	CaseID           string
	SessionToken     string
	CSRFToken        string
	SessionExpiresAt time.Time
}

// Service is the account provisioning transaction.
type Service struct {
	invitations InvitationService
	grants      GrantVerifier
	consumed    verify.ConsumedStore
	users       UserStore
	profiles    ProfileStore
	sessions    SessionStore
	cases       CaseLinker
	tx          TxRunner
	tokens      SessionTokenIssuer

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   AuditPublisher
	mailer  email.Mailer
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

func WithMailer(mailer email.Mailer) Option {
	return func(s *Service) { s.mailer = mailer }
}

// WithClock overrides the wall clock, for expiry boundary tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Deps struct {
	Invitations InvitationService
	Grants      GrantVerifier
	Consumed    verify.ConsumedStore
	Users       UserStore
	Profiles    ProfileStore
	Sessions    SessionStore
	Cases       CaseLinker
	Tx          TxRunner
	Tokens      SessionTokenIssuer
}

func New(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Invitations == nil:
		return nil, errors.New("invitation service is required")
	case deps.Grants == nil:
		return nil, errors.New("grant verifier is required")
	case deps.Consumed == nil:
		return nil, errors.New("consumed-grant store is required")
	case deps.Users == nil || deps.Profiles == nil || deps.Sessions == nil || deps.Cases == nil:
		return nil, errors.New("identity stores are required")
	case deps.Tx == nil:
		return nil, errors.New("transaction runner is required")
	case deps.Tokens == nil:
		return nil, errors.New("session token issuer is required")
	}

	svc := &Service{
		invitations: deps.Invitations,
		grants:      deps.Grants,
		consumed:    deps.Consumed,
		users:       deps.Users,
		profiles:    deps.Profiles,
		sessions:    deps.Sessions,
		cases:       deps.Cases,
		tx:          deps.Tx,
		tokens:      deps.Tokens,
		logger:      slog.Default(),
		tracer:      otel.Tracer("debtgate/register"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register provisions the debtor account. The grant is consumed atomically up
// front, so a replayed grant loses before any identity records are touched;
// the invitation itself is redeemed only after the commit.
func (s *Service) Register(ctx context.Context, token, grant string, reg Registration) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "register.Register")
	defer span.End()

	if !reg.AcceptedTerms {
		return nil, dErrors.New(dErrors.CodeBadRequest, "terms of service must be accepted").
			WithReason(ReasonTermsNotAccepted)
	}
	reg.Email = strings.TrimSpace(strings.ToLower(reg.Email))
	if reg.Email == "" || !strings.Contains(reg.Email, "@") {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "a valid email address is required")
	}
	if len(reg.Password) < 8 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "password must be at least 8 characters")
	}

	validation, err := s.invitations.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, invsvc.ValidationError(validation)
	}

	claims, err := s.grants.Verify(grant)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "verification has expired, please verify your identity again").
			WithReason(ReasonInvalidGrant)
	}
	// The grant must have been minted for this exact invitation.
	if claims.TokenID != validation.Invitation.TokenID || claims.CaseID != validation.Invitation.CaseID {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "verification has expired, please verify your identity again").
			WithReason(ReasonInvalidGrant)
	}

	now := s.now()
	if err := s.consumeGrant(ctx, claims, now); err != nil {
		return nil, err
	}

	if _, err := s.users.FindByEmail(ctx, reg.Email); err == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "an account with this email already exists").
			WithReason(ReasonEmailExists)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing email")
	}
	if _, err := s.profiles.FindByCase(ctx, claims.CaseID); err == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "an account already exists for this case").
			WithReason(ReasonAlreadyRegistered)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing registration")
	}

	passwordHash, err := secrets.Hash(reg.Password)
	if err != nil {
		return nil, err
	}
	csrfToken, err := secrets.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate session secret")
	}

	firstName, lastName := email.DeriveNameFromEmail(reg.Email)
	user := &auth.User{
		ID:             uuid.NewString(),
		OrganizationID: validation.Invitation.OrganizationID,
		Email:          reg.Email,
		PasswordHash:   passwordHash,
		FirstName:      firstName,
		LastName:       lastName,
		Role:           auth.RoleDebtor,
		EmailVerified:  true,
		CreatedAt:      now,
	}
	profile := &auth.DebtorProfile{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		CaseID:            claims.CaseID,
		InvitationTokenID: claims.TokenID,
		TermsAcceptedAt:   now,
		TermsVersion:      reg.TermsVersion,
		SignupIP:          reg.IP,
		SignupDevice:      deviceName(reg.UserAgent),
		CreatedAt:         now,
	}
	session := &auth.Session{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		CSRFToken:  csrfToken,
		DeviceName: profile.SignupDevice,
		CreatedAt:  now,
		ExpiresAt:  now.Add(authtoken.SessionTokenTTL),
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "an account with this email already exists").
					WithReason(ReasonEmailExists)
			}
			return fmt.Errorf("create user: %w", err)
		}
		if err := s.profiles.Create(ctx, profile); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "an account already exists for this case").
					WithReason(ReasonAlreadyRegistered)
			}
			return fmt.Errorf("create profile: %w", err)
		}
		if err := s.cases.LinkDebtor(ctx, claims.CaseID, user.ID); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "an account already exists for this case").
					WithReason(ReasonAlreadyRegistered)
			}
			return fmt.Errorf("link debtor: %w", err)
		}
		if err := s.sessions.Create(ctx, session); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
	if err != nil {
		if _, ok := dErrors.As(err); ok {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to provision account")
	}

	// Redemption happens after the commit. A crash between the two leaves an
	// extra unused redemption, never a half-created account.
	if _, err := s.invitations.Redeem(ctx, token); err != nil {
		s.logger.ErrorContext(ctx, "account committed but redemption failed",
			"user_id", user.ID,
			"case_id", claims.CaseID,
			"error", err,
		)
	}

	sessionToken, err := s.tokens.IssueSessionToken(user, session, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session token")
	}

	if s.metrics != nil {
		s.metrics.DebtorsRegistered.Inc()
	}
	s.emitAudit(ctx, claims, user)
	s.sendWelcome(user)

	return &Result{
		UserID:           user.ID,
		Email:            user.Email,
		Role:             user.Role,
		CaseID:           claims.CaseID,
		SessionToken:     sessionToken,
		CSRFToken:        csrfToken,
		SessionExpiresAt: session.ExpiresAt,
	}, nil
}

// consumeGrant atomically claims the grant's jti. The marker lives slightly
// past the grant's own expiry so a replay window never opens.
func (s *Service) consumeGrant(ctx context.Context, claims *verify.GrantClaims, now time.Time) error {
	ttl := verify.GrantTTL + time.Minute
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(now); remaining > 0 {
			ttl = remaining + time.Minute
		}
	}

	start := time.Now()
	ok, err := s.consumed.Consume(ctx, claims.ID, ttl)
	if s.metrics != nil {
		s.metrics.GrantConsumeDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume verification grant")
	}
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "verification has expired, please verify your identity again").
			WithReason(ReasonInvalidGrant)
	}
	return nil
}

func deviceName(ua string) string {
	if ua == "" {
		return "unknown"
	}
	parsed := useragent.New(ua)
	browser, _ := parsed.Browser()
	os := parsed.OSInfo().Name
	switch {
	case browser != "" && os != "":
		return browser + " on " + os
	case browser != "":
		return browser
	case os != "":
		return os
	default:
		return "unknown"
	}
}

func (s *Service) emitAudit(ctx context.Context, claims *verify.GrantClaims, user *auth.User) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, audit.Event{
		Type:           audit.EventDebtorRegistered,
		OrganizationID: user.OrganizationID,
		CaseID:         claims.CaseID,
		Fields: map[string]any{
			"user_id":   user.ID,
			"letter_id": claims.LetterID,
		},
	})
}

func (s *Service) sendWelcome(user *auth.User) {
	if s.mailer == nil {
		return
	}
	email.SendAsync(s.mailer, s.logger, email.Message{
		To:      user.Email,
		Subject: "Welcome to your account portal",
		Body: fmt.Sprintf("Hi %s,\n\nYour account is ready. You can sign in any time to view your case and manage payments.\n",
			user.FirstName),
	})
}
