package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"debtgate/internal/auth"
	authtoken "debtgate/internal/auth/token"
	"debtgate/internal/casefile"
	casestore "debtgate/internal/casefile/store"
	invsvc "debtgate/internal/invite/service"
	invstore "debtgate/internal/invite/store"
	"debtgate/internal/invite/token"
	"debtgate/internal/platform/crypto"
	"debtgate/pkg/testutil"
)

type StaffHandlerSuite struct {
	suite.Suite

	router     chi.Router
	staffToken string
	debtorTok  string
}

func TestStaffHandlerSuite(t *testing.T) {
	suite.Run(t, new(StaffHandlerSuite))
}

func (s *StaffHandlerSuite) SetupTest() {
	enc, err := crypto.NewLocalEncryptor(bytes.Repeat([]byte{0x55}, crypto.KeyLen))
	s.Require().NoError(err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := casestore.NewMemory()
	cases.SeedCase(&casefile.Case{
		ID:             "case-1",
		OrganizationID: "org-1",
		CreditorName:   "Acme Collections",
		DebtorName:     "Jane Doe",
	})
	invites := invstore.NewMemory()
	invites.SeedLetter("letter-1", "case-1", "org-1")

	invitations, err := invsvc.New(invites, cases, token.NewCodec(enc), "https://portal.example.com")
	s.Require().NoError(err)

	issuer, err := authtoken.NewIssuer([]byte("session-key"))
	s.Require().NoError(err)
	s.staffToken = s.mintToken(issuer, "staff-1", auth.RoleStaff, "org-1")
	s.debtorTok = s.mintToken(issuer, "debtor-1", auth.RoleDebtor, "org-1")

	s.router = chi.NewRouter()
	New(invitations, logger, issuer).Register(s.router)
}

func (s *StaffHandlerSuite) mintToken(issuer *authtoken.Issuer, userID string, role auth.Role, orgID string) string {
	now := time.Now()
	tok, err := issuer.IssueSessionToken(
		&auth.User{ID: userID, OrganizationID: orgID, Email: userID + "@example.com", Role: role},
		&auth.Session{ID: "sess-" + userID, UserID: userID, ExpiresAt: now.Add(time.Hour)},
		now,
	)
	s.Require().NoError(err)
	return tok
}

func (s *StaffHandlerSuite) do(method, path, bearer string, body map[string]any) (int, map[string]any) {
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(s.T(), method, path, body)
	} else {
		req = testutil.NewRequest(s.T(), method, path)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := testutil.DoRequest(s.router, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

func (s *StaffHandlerSuite) TestCreate_ReturnsInvitation() {
	status, body := s.do(http.MethodPost, "/letters/letter-1/invitation", s.staffToken, map[string]any{
		"expiration_days": 7,
		"usage_limit":     1,
	})

	s.Equal(http.StatusCreated, status)
	s.NotEmpty(body["token"])
	s.Contains(body["invitation_url"], "https://portal.example.com/portal/register?token=")
	s.Equal(float64(1), body["usage_limit"])
}

func (s *StaffHandlerSuite) TestCreate_SecondActiveConflicts() {
	s.do(http.MethodPost, "/letters/letter-1/invitation", s.staffToken, nil)
	status, body := s.do(http.MethodPost, "/letters/letter-1/invitation", s.staffToken, nil)

	s.Equal(http.StatusConflict, status)
	s.Equal("INVITATION_EXISTS", body["code"])
}

func (s *StaffHandlerSuite) TestCreate_UnknownLetter() {
	status, body := s.do(http.MethodPost, "/letters/letter-nope/invitation", s.staffToken, nil)

	s.Equal(http.StatusNotFound, status)
	s.Equal("NOT_FOUND", body["code"])
}

func (s *StaffHandlerSuite) TestRevokeAndStatus() {
	s.do(http.MethodPost, "/letters/letter-1/invitation", s.staffToken, nil)

	status, body := s.do(http.MethodDelete, "/letters/letter-1/invitation", s.staffToken, nil)
	s.Equal(http.StatusOK, status)
	s.NotEmpty(body["revoked_at"])

	status, body = s.do(http.MethodGet, "/letters/letter-1/invitation", s.staffToken, nil)
	s.Equal(http.StatusOK, status)
	s.Equal("REVOKED", body["status"])

	status, body = s.do(http.MethodDelete, "/letters/letter-1/invitation", s.staffToken, nil)
	s.Equal(http.StatusConflict, status)
	s.Equal("ALREADY_REVOKED", body["code"])
}

func (s *StaffHandlerSuite) TestStatus_NoInvitationYet() {
	status, body := s.do(http.MethodGet, "/letters/letter-1/invitation", s.staffToken, nil)

	s.Equal(http.StatusOK, status)
	s.Equal("NONE", body["status"])
}

func (s *StaffHandlerSuite) TestAuth_MissingTokenRejected() {
	status, _ := s.do(http.MethodPost, "/letters/letter-1/invitation", "", nil)
	s.Equal(http.StatusUnauthorized, status)
}

func (s *StaffHandlerSuite) TestAuth_DebtorRoleForbidden() {
	status, _ := s.do(http.MethodPost, "/letters/letter-1/invitation", s.debtorTok, nil)
	s.Equal(http.StatusForbidden, status)
}
