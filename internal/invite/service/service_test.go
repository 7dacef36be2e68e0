package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"debtgate/internal/casefile"
	casestore "debtgate/internal/casefile/store"
	"debtgate/internal/invite"
	"debtgate/internal/invite/store"
	"debtgate/internal/invite/token"
	"debtgate/internal/platform/crypto"
	dErrors "debtgate/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite

	store *store.MemoryStore
	cases *casestore.MemoryStore
	svc   *Service
	now   time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	enc, err := crypto.NewLocalEncryptor(bytes.Repeat([]byte{0x42}, crypto.KeyLen))
	s.Require().NoError(err)

	s.store = store.NewMemory()
	s.cases = casestore.NewMemory()
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s.store.SeedLetter("letter-1", "case-1", "org-1")
	s.cases.SeedCase(&casefile.Case{
		ID:              "case-1",
		OrganizationID:  "org-1",
		CreditorName:    "Acme Collections",
		DebtorName:      "Jane Doe",
		ReferenceNumber: "REF-001",
		AccountNumber:   "ACC-9876",
	})

	s.svc, err = New(s.store, s.cases, token.NewCodec(enc), "https://portal.example.com",
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) create(opts invite.CreateOptions) *CreateResult {
	result, err := s.svc.Create(context.Background(), "letter-1", "org-1", opts)
	s.Require().NoError(err)
	return result
}

func (s *ServiceSuite) TestCreate_IssuesTokenAndURL() {
	result := s.create(invite.CreateOptions{})

	s.NotEmpty(result.Token)
	s.True(strings.HasPrefix(result.InvitationURL, "https://portal.example.com/portal/register?token="))
	s.Equal(s.now.Add(30*24*time.Hour), result.ExpiresAt)
	s.Equal(1, result.UsageLimit)
}

func (s *ServiceSuite) TestCreate_UnknownLetter() {
	_, err := s.svc.Create(context.Background(), "letter-nope", "org-1", invite.CreateOptions{})
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	s.Equal(ReasonNotFound, dErrors.ReasonOf(err))
}

func (s *ServiceSuite) TestCreate_WrongOrganizationReadsAsNotFound() {
	_, err := s.svc.Create(context.Background(), "letter-1", "org-other", invite.CreateOptions{})
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func (s *ServiceSuite) TestCreate_RejectsWhileActiveExists() {
	s.create(invite.CreateOptions{})

	_, err := s.svc.Create(context.Background(), "letter-1", "org-1", invite.CreateOptions{})
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
	s.Equal(ReasonInvitationExists, dErrors.ReasonOf(err))
}

func (s *ServiceSuite) TestCreate_ReplacesExpiredInvitation() {
	first := s.create(invite.CreateOptions{ExpirationDays: 1})
	s.now = s.now.Add(48 * time.Hour)

	second := s.create(invite.CreateOptions{})
	s.NotEqual(first.Token, second.Token)

	// The old token is now unknown, not merely expired: its row was replaced.
	validation, err := s.svc.Validate(context.Background(), first.Token)
	s.Require().NoError(err)
	s.False(validation.Valid)
	s.Equal(ReasonInvalidToken, validation.ErrorCode)
}

func (s *ServiceSuite) TestCreate_ClampsOptions() {
	result := s.create(invite.CreateOptions{ExpirationDays: 400, UsageLimit: -5})
	s.Equal(s.now.Add(90*24*time.Hour), result.ExpiresAt)
	s.Equal(1, result.UsageLimit)
}

func (s *ServiceSuite) TestValidate_ActiveTokenReturnsMaskedReference() {
	result := s.create(invite.CreateOptions{UsageLimit: 3})

	validation, err := s.svc.Validate(context.Background(), result.Token)
	s.Require().NoError(err)
	s.True(validation.Valid)
	s.Equal(invite.StatusActive, validation.Status)
	s.Require().NotNil(validation.CaseReference)
	s.Equal("Acme Collections", validation.CaseReference.CreditorName)
	s.Equal("J*** D**", validation.CaseReference.DebtorName)
	s.Require().NotNil(validation.RemainingUses)
	s.Equal(3, *validation.RemainingUses)
}

func (s *ServiceSuite) TestValidate_GarbageToken() {
	validation, err := s.svc.Validate(context.Background(), "not-a-token")
	s.Require().NoError(err)
	s.False(validation.Valid)
	s.Equal(ReasonInvalidToken, validation.ErrorCode)
}

func (s *ServiceSuite) TestValidate_ExpiredExactlyAtBoundary() {
	result := s.create(invite.CreateOptions{ExpirationDays: 1})
	s.now = result.ExpiresAt // expiry instant itself is already expired

	validation, err := s.svc.Validate(context.Background(), result.Token)
	s.Require().NoError(err)
	s.False(validation.Valid)
	s.Equal(invite.StatusExpired, validation.Status)
	s.Equal(ReasonExpired, validation.ErrorCode)
}

func (s *ServiceSuite) TestValidate_RevokedWinsOverExpired() {
	result := s.create(invite.CreateOptions{ExpirationDays: 1})
	_, err := s.svc.Revoke(context.Background(), "letter-1", "org-1")
	s.Require().NoError(err)
	s.now = s.now.Add(72 * time.Hour)

	validation, err := s.svc.Validate(context.Background(), result.Token)
	s.Require().NoError(err)
	s.Equal(invite.StatusRevoked, validation.Status)
	s.Equal(ReasonRevoked, validation.ErrorCode)
}

func (s *ServiceSuite) TestValidate_SplicedTokenRejected() {
	s.store.SeedLetter("letter-2", "case-2", "org-1")
	s.cases.SeedCase(&casefile.Case{ID: "case-2", OrganizationID: "org-1", CreditorName: "Other", DebtorName: "John Roe"})

	first := s.create(invite.CreateOptions{})
	second, err := s.svc.Create(context.Background(), "letter-2", "org-1", invite.CreateOptions{})
	s.Require().NoError(err)

	firstID, ok := s.svc.codec.ParseID(first.Token)
	s.Require().True(ok)

	// Pair the second token's ciphertext with the first token's lookup id.
	spliced := spliceEnvelopeID(s.T(), second.Token, firstID)
	validation, err := s.svc.Validate(context.Background(), spliced)
	s.Require().NoError(err)
	s.False(validation.Valid)
	s.Equal(ReasonInvalidToken, validation.ErrorCode)
}

func (s *ServiceSuite) TestRedeem_DecrementsRemainingUses() {
	result := s.create(invite.CreateOptions{UsageLimit: 2})

	redeemed, err := s.svc.Redeem(context.Background(), result.Token)
	s.Require().NoError(err)
	s.Equal("letter-1", redeemed.LetterID)
	s.Equal("case-1", redeemed.CaseID)

	validation, err := s.svc.Validate(context.Background(), result.Token)
	s.Require().NoError(err)
	s.True(validation.Valid)
	s.Equal(1, *validation.RemainingUses)
}

func (s *ServiceSuite) TestRedeem_ExhaustionFlipsStatus() {
	result := s.create(invite.CreateOptions{UsageLimit: 1})

	_, err := s.svc.Redeem(context.Background(), result.Token)
	s.Require().NoError(err)

	_, err = s.svc.Redeem(context.Background(), result.Token)
	s.Equal(ReasonExhausted, dErrors.ReasonOf(err))

	validation, verr := s.svc.Validate(context.Background(), result.Token)
	s.Require().NoError(verr)
	s.Equal(invite.StatusExhausted, validation.Status)
	s.Equal(0, *validation.RemainingUses)
}

func (s *ServiceSuite) TestRedeem_ConcurrentSingleUse() {
	result := s.create(invite.CreateOptions{UsageLimit: 1})

	const attempts = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.svc.Redeem(context.Background(), result.Token); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)
	s.Len(successes, 1)
}

func (s *ServiceSuite) TestRedeem_UnlimitedNeverExhausts() {
	result := s.create(invite.CreateOptions{UsageLimit: 0})

	for i := 0; i < 10; i++ {
		_, err := s.svc.Redeem(context.Background(), result.Token)
		s.Require().NoError(err)
	}
	validation, err := s.svc.Validate(context.Background(), result.Token)
	s.Require().NoError(err)
	s.True(validation.Valid)
	s.Nil(validation.RemainingUses)
}

func (s *ServiceSuite) TestRevoke_ThenSecondCallConflicts() {
	s.create(invite.CreateOptions{})

	revokedAt, err := s.svc.Revoke(context.Background(), "letter-1", "org-1")
	s.Require().NoError(err)
	s.Equal(s.now, revokedAt)

	_, err = s.svc.Revoke(context.Background(), "letter-1", "org-1")
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
	s.Equal(ReasonAlreadyRevoked, dErrors.ReasonOf(err))
}

func (s *ServiceSuite) TestRevoke_NoInvitation() {
	_, err := s.svc.Revoke(context.Background(), "letter-1", "org-1")
	s.Equal(ReasonNoInvitation, dErrors.ReasonOf(err))
}

func (s *ServiceSuite) TestStatus_ReflectsLifecycle() {
	status, err := s.svc.Status(context.Background(), "letter-1", "org-1")
	s.Require().NoError(err)
	s.Equal(invite.StatusNone, status.Status)

	result := s.create(invite.CreateOptions{UsageLimit: 2})
	_, err = s.svc.Redeem(context.Background(), result.Token)
	s.Require().NoError(err)

	status, err = s.svc.Status(context.Background(), "letter-1", "org-1")
	s.Require().NoError(err)
	s.Equal(invite.StatusActive, status.Status)
	s.Equal(2, status.UsageLimit)
	s.Equal(1, status.UsageCount)
	s.Equal(1, *status.RemainingUses)

	s.now = status.ExpiresAt.Add(time.Minute)
	status, err = s.svc.Status(context.Background(), "letter-1", "org-1")
	s.Require().NoError(err)
	s.Equal(invite.StatusExpired, status.Status)
}

// spliceEnvelopeID rebuilds a token with a foreign lookup id, leaving the
// ciphertext intact.
func spliceEnvelopeID(t *testing.T, tok, id string) string {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("decode token envelope: %v", err)
	}
	var env map[string]string
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal token envelope: %v", err)
	}
	env["id"] = id
	out, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal spliced envelope: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(out)
}
