// Package token issues and validates the signed bearer session tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"debtgate/internal/auth"
	"debtgate/internal/platform/middleware"
)

// SessionTokenTTL is the fixed lifetime of an issued session token.
const SessionTokenTTL = 24 * time.Hour

type sessionClaims struct {
	Email          string `json:"email"`
	Role           string `json:"role"`
	OrganizationID string `json:"org_id"`
	SessionID      string `json:"sid"`
	jwt.RegisteredClaims
}

// Issuer signs and validates session tokens with an HMAC key. It satisfies
// middleware.JWTValidator for the staff-side routes.
type Issuer struct {
	signingKey []byte
}

func NewIssuer(signingKey []byte) (*Issuer, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key is required")
	}
	return &Issuer{signingKey: signingKey}, nil
}

// IssueSessionToken mints the bearer token for a provisioned session.
func (i *Issuer) IssueSessionToken(user *auth.User, session *auth.Session, now time.Time) (string, error) {
	claims := sessionClaims{
		Email:          user.Email,
		Role:           string(user.Role),
		OrganizationID: user.OrganizationID,
		SessionID:      session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
}

// ValidateToken parses and verifies a bearer token, returning the claims the
// middleware needs.
func (i *Issuer) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return &middleware.JWTClaims{
		UserID:         claims.Subject,
		SessionID:      claims.SessionID,
		OrganizationID: claims.OrganizationID,
		Role:           claims.Role,
	}, nil
}
