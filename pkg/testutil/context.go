package testutil

import (
	"context"
	"net/http"

	"debtgate/internal/platform/middleware"
)

// WithStaffAuth marks the request as an authenticated staff caller, the way
// the auth middleware would after validating a bearer token.
func WithStaffAuth(req *http.Request, userID, orgID string) *http.Request {
	return WithClaims(req, &middleware.JWTClaims{
		UserID:         userID,
		OrganizationID: orgID,
		Role:           "STAFF",
	})
}

// WithClaims stashes arbitrary validated claims on the request context.
func WithClaims(req *http.Request, claims *middleware.JWTClaims) *http.Request {
	return req.WithContext(middleware.WithClaims(req.Context(), claims))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
