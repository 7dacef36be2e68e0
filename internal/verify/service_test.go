package verify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"debtgate/internal/auth"
	authstore "debtgate/internal/auth/store"
	"debtgate/internal/casefile"
	casestore "debtgate/internal/casefile/store"
	"debtgate/internal/invite"
	invsvc "debtgate/internal/invite/service"
	invstore "debtgate/internal/invite/store"
	"debtgate/internal/invite/token"
	"debtgate/internal/platform/crypto"
	dErrors "debtgate/pkg/domain-errors"
	"debtgate/pkg/secrets"
)

type VerifySuite struct {
	suite.Suite

	cases    *casestore.MemoryStore
	profiles *authstore.MemoryProfileStore
	svc      *Service
	now      time.Time
	token    string
}

func TestVerifySuite(t *testing.T) {
	suite.Run(t, new(VerifySuite))
}

func (s *VerifySuite) SetupTest() {
	enc, err := crypto.NewLocalEncryptor(bytes.Repeat([]byte{0x24}, crypto.KeyLen))
	s.Require().NoError(err)
	codec := token.NewCodec(enc)

	ssnHash, err := secrets.Hash("1234")
	s.Require().NoError(err)

	s.cases = casestore.NewMemory()
	s.profiles = authstore.NewMemoryProfiles()
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s.cases.SeedCase(&casefile.Case{
		ID:              "case-1",
		OrganizationID:  "org-1",
		CreditorName:    "Acme Collections",
		DebtorName:      "Jane Doe",
		ReferenceNumber: "REF-001",
		SSNLast4Hash:    ssnHash,
		DateOfBirth:     "1990-04-01",
		AccountNumber:   "ACC-9876",
	})

	invites := invstore.NewMemory()
	invites.SeedLetter("letter-1", "case-1", "org-1")
	tokens, err := invsvc.New(invites, s.cases, codec, "https://portal.example.com",
		invsvc.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)

	created, err := tokens.Create(context.Background(), "letter-1", "org-1", invite.CreateOptions{UsageLimit: 1})
	s.Require().NoError(err)
	s.token = created.Token

	grants, err := NewGrantIssuer([]byte("grant-signing-key"))
	s.Require().NoError(err)

	s.svc, err = New(tokens, s.cases, s.profiles, grants,
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *VerifySuite) attempts() int {
	c, err := s.cases.Find(context.Background(), "case-1")
	s.Require().NoError(err)
	return c.VerificationAttempts
}

func (s *VerifySuite) TestVerify_SSNAndDOB() {
	result, err := s.svc.VerifyIdentity(context.Background(), s.token, Fragments{
		LastFourSSN: "1234",
		DateOfBirth: "1990-04-01",
	})
	s.Require().NoError(err)
	s.NotEmpty(result.Grant)
	s.Equal(s.now.Add(GrantTTL), result.GrantExpiresAt)
	s.Equal("Jane", result.Preview.FirstName)
	s.Equal("Acme Collections", result.Preview.CreditorName)
	s.Equal("REF-001", result.Preview.ReferenceNumber)
}

func (s *VerifySuite) TestVerify_AccountNumberAlone() {
	result, err := s.svc.VerifyIdentity(context.Background(), s.token, Fragments{
		AccountNumber: "ACC-9876",
	})
	s.Require().NoError(err)
	s.NotEmpty(result.Grant)
}

func (s *VerifySuite) TestVerify_GrantBindsInvitation() {
	result, err := s.svc.VerifyIdentity(context.Background(), s.token, Fragments{AccountNumber: "ACC-9876"})
	s.Require().NoError(err)

	claims, err := s.svc.grants.Verify(result.Grant)
	s.Require().NoError(err)
	s.Equal("case-1", claims.CaseID)
	s.Equal("letter-1", claims.LetterID)
	s.NotEmpty(claims.TokenID)
	s.NotEmpty(claims.ID)
}

func (s *VerifySuite) TestVerify_WrongFragmentsGenericMessage() {
	_, err := s.svc.VerifyIdentity(context.Background(), s.token, Fragments{
		LastFourSSN: "9999",
		DateOfBirth: "1990-04-01",
	})
	s.Equal(ReasonFailed, dErrors.ReasonOf(err))
	s.Contains(err.Error(), "information doesn't match")

	dErr, ok := dErrors.As(err)
	s.Require().True(ok)
	s.Equal(2, dErr.Details()["attempts_remaining"])
}

func (s *VerifySuite) TestVerify_SSNRightDOBWrongFails() {
	_, err := s.svc.VerifyIdentity(context.Background(), s.token, Fragments{
		LastFourSSN: "1234",
		DateOfBirth: "1991-01-01",
	})
	s.Equal(ReasonFailed, dErrors.ReasonOf(err))
}

func (s *VerifySuite) TestVerify_ThirdFailureLocksOut() {
	bad := Fragments{AccountNumber: "WRONG"}
	for i := 0; i < 2; i++ {
		_, err := s.svc.VerifyIdentity(context.Background(), s.token, bad)
		s.Equal(ReasonFailed, dErrors.ReasonOf(err))
	}

	_, err := s.svc.VerifyIdentity(context.Background(), s.token, bad)
	s.Equal(ReasonLocked, dErrors.ReasonOf(err))
	s.Equal(dErrors.CodeLocked, dErrors.CodeOf(err))

	dErr, ok := dErrors.As(err)
	s.Require().True(ok)
	s.Equal(0, dErr.Details()["attempts_remaining"])
	s.Equal(s.now.Add(LockoutDuration), dErr.Details()["locked_until"])
}

func (s *VerifySuite) TestVerify_LockedAttemptsDoNotIncrement() {
	bad := Fragments{AccountNumber: "WRONG"}
	for i := 0; i < 3; i++ {
		_, _ = s.svc.VerifyIdentity(context.Background(), s.token, bad)
	}
	s.Equal(3, s.attempts())

	// Even correct fragments bounce while locked, without touching the counter.
	_, err := s.svc.VerifyIdentity(context.Background(), s.token, Fragments{AccountNumber: "ACC-9876"})
	s.Equal(ReasonLocked, dErrors.ReasonOf(err))
	s.Equal(3, s.attempts())
}

func (s *VerifySuite) TestVerify_SuccessAfterLockExpiryResets() {
	bad := Fragments{AccountNumber: "WRONG"}
	for i := 0; i < 3; i++ {
		_, _ = s.svc.VerifyIdentity(context.Background(), s.token, bad)
	}

	s.now = s.now.Add(LockoutDuration + time.Minute)
	result, err := s.svc.VerifyIdentity(context.Background(), s.token, Fragments{AccountNumber: "ACC-9876"})
	s.Require().NoError(err)
	s.NotEmpty(result.Grant)
	s.Equal(0, s.attempts())
}

func (s *VerifySuite) TestVerify_AlreadyRegistered() {
	s.Require().NoError(s.profiles.Create(context.Background(), &auth.DebtorProfile{
		ID:     "profile-1",
		UserID: "user-1",
		CaseID: "case-1",
	}))

	_, err := s.svc.VerifyIdentity(context.Background(), s.token, Fragments{AccountNumber: "ACC-9876"})
	s.Equal(ReasonAlreadyRegistered, dErrors.ReasonOf(err))
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
}

func (s *VerifySuite) TestVerify_TokenFailurePropagatesBeforeLockout() {
	_, err := s.svc.VerifyIdentity(context.Background(), "garbage", Fragments{AccountNumber: "WRONG"})
	s.Equal("INVALID_TOKEN", dErrors.ReasonOf(err))
	s.Equal(0, s.attempts())
}

func (s *VerifySuite) TestGrantIssuer_RejectsTamperedGrant() {
	issuer, err := NewGrantIssuer([]byte("key-a"))
	s.Require().NoError(err)
	other, err := NewGrantIssuer([]byte("key-b"))
	s.Require().NoError(err)

	grant, _, _, err := issuer.Issue("case-1", "letter-1", "tok-1", s.now)
	s.Require().NoError(err)

	_, err = other.Verify(grant)
	s.Error(err)
}

func (s *VerifySuite) TestGrantIssuer_RejectsExpiredGrant() {
	issuer, err := NewGrantIssuer([]byte("key-a"))
	s.Require().NoError(err)

	grant, _, _, err := issuer.Issue("case-1", "letter-1", "tok-1", time.Now().Add(-GrantTTL-time.Minute))
	s.Require().NoError(err)

	_, err = issuer.Verify(grant)
	s.Error(err)
}
