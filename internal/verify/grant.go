package verify

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GrantTTL is the fixed lifetime of a verification grant. It covers the time
// a debtor needs to fill in the registration form, nothing more.
const GrantTTL = 15 * time.Minute

// GrantClaims binds a grant to the exact invitation that produced it. A grant
// for one case can never authorize registration against another.
type GrantClaims struct {
	CaseID   string `json:"case_id"`
	LetterID string `json:"letter_id"`
	TokenID  string `json:"token_id"`
	jwt.RegisteredClaims
}

// GrantIssuer signs and verifies the short-lived grants minted after a
// successful identity proof.
type GrantIssuer struct {
	signingKey []byte
}

func NewGrantIssuer(signingKey []byte) (*GrantIssuer, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key is required")
	}
	return &GrantIssuer{signingKey: signingKey}, nil
}

// Issue mints a grant. The returned id is the grant's jti, used later for
// single-use consumption.
func (g *GrantIssuer) Issue(caseID, letterID, tokenID string, now time.Time) (grant, id string, expiresAt time.Time, err error) {
	id = uuid.NewString()
	expiresAt = now.Add(GrantTTL)
	claims := GrantClaims{
		CaseID:   caseID,
		LetterID: letterID,
		TokenID:  tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   caseID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	grant, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.signingKey)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return grant, id, expiresAt, nil
}

// Verify checks the grant's signature and expiry and returns its claims.
func (g *GrantIssuer) Verify(grant string) (*GrantClaims, error) {
	var claims GrantClaims
	parsed, err := jwt.ParseWithClaims(grant, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, errors.New("invalid grant")
	}
	return &claims, nil
}
