package middleware_test

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"debtgate/internal/platform/middleware"
	"debtgate/pkg/testutil"
)

type stubValidator struct {
	claims *middleware.JWTClaims
	err    error
}

func (v stubValidator) ValidateToken(string) (*middleware.JWTClaims, error) {
	return v.claims, v.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoClaims() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-User-ID", middleware.GetUserID(r.Context()))
		w.Header().Set("X-Role", middleware.GetRole(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_ValidToken(t *testing.T) {
	validator := stubValidator{claims: &middleware.JWTClaims{
		UserID:         "user-1",
		OrganizationID: "org-1",
		Role:           "STAFF",
	}}
	handler := middleware.RequireAuth(validator, discardLogger())(echoClaims())

	req := testutil.NewRequest(t, http.MethodGet, "/letters/letter-1/invitation")
	req.Header.Set("Authorization", "Bearer some-token")
	rec := testutil.DoRequest(handler, req)

	testutil.AssertStatusOK(t, rec)
	assert.Equal(t, "user-1", rec.Header().Get("X-User-ID"))
	assert.Equal(t, "STAFF", rec.Header().Get("X-Role"))
}

func TestRequireAuth_MissingToken(t *testing.T) {
	handler := middleware.RequireAuth(stubValidator{}, discardLogger())(echoClaims())

	req := testutil.NewRequest(t, http.MethodGet, "/letters/letter-1/invitation")
	rec := testutil.DoRequest(handler, req)

	testutil.AssertStatusAndError(t, rec, http.StatusUnauthorized, "unauthorized")
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	validator := stubValidator{err: errors.New("token expired")}
	handler := middleware.RequireAuth(validator, discardLogger())(echoClaims())

	req := testutil.NewRequest(t, http.MethodGet, "/letters/letter-1/invitation")
	req.Header.Set("Authorization", "Bearer stale-token")
	rec := testutil.DoRequest(handler, req)

	testutil.AssertStatusAndError(t, rec, http.StatusUnauthorized, "unauthorized")
}

func TestRequireRole_Allowed(t *testing.T) {
	handler := middleware.RequireRole(discardLogger(), "STAFF", "ADMIN")(echoClaims())

	req := testutil.NewRequest(t, http.MethodGet, "/letters/letter-1/invitation")
	req = testutil.WithStaffAuth(req, "staff-1", "org-1")
	rec := testutil.DoRequest(handler, req)

	testutil.AssertStatusOK(t, rec)
}

func TestRequireRole_Forbidden(t *testing.T) {
	handler := middleware.RequireRole(discardLogger(), "STAFF", "ADMIN")(echoClaims())

	req := testutil.NewRequest(t, http.MethodGet, "/letters/letter-1/invitation")
	req = testutil.WithClaims(req, &middleware.JWTClaims{UserID: "debtor-1", Role: "DEBTOR"})
	rec := testutil.DoRequest(handler, req)

	testutil.AssertStatusAndError(t, rec, http.StatusForbidden, "forbidden")
}
