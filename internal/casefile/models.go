// Package casefile holds the collection-case records the invitation flow
// verifies against: stored identity fragments plus the per-case verification
// lockout counters.
package casefile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Case is the case record as the gateway sees it. Identity fragments are
// secret-equivalent: the SSN fragment is stored only as a bcrypt hash.
type Case struct {
	ID             string
	OrganizationID string

	CreditorName    string
	DebtorName      string
	ReferenceNumber string

	// SSNLast4Hash is a bcrypt hash of the last four SSN digits.
	SSNLast4Hash string
	// DateOfBirth is stored as an ISO date string (YYYY-MM-DD) and compared
	// exactly.
	DateOfBirth string
	// AccountNumber is the creditor-side account number, compared exactly.
	AccountNumber string

	// Verification lockout state, mutated only through atomic store ops.
	VerificationAttempts    int
	VerificationLockedUntil *time.Time

	// DebtorUserID is set once a debtor account is provisioned for the case.
	DebtorUserID *string
}

// LockedAt reports whether verification is locked out at the given instant.
func (c *Case) LockedAt(now time.Time) bool {
	return c.VerificationLockedUntil != nil && now.Before(*c.VerificationLockedUntil)
}

// DebtorFirstName returns the leading name part for the post-verification
// preview. The debtor already knows their own name; this adds nothing new.
func (c *Case) DebtorFirstName() string {
	parts := strings.Fields(c.DebtorName)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// IdentityHash derives the one-way hash of the debtor's known identifiers
// embedded in invitation payloads for low-sensitivity matching and display.
func (c *Case) IdentityHash() string {
	h := sha256.Sum256([]byte(strings.ToLower(c.DebtorName) + "|" + c.AccountNumber))
	return "sha256:" + hex.EncodeToString(h[:])
}
