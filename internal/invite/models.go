// Package invite defines the invitation record embedded in a case letter and
// its derived lifecycle states.
package invite

import (
	"time"
)

// Status is the derived lifecycle state of an invitation. Only revocation is
// stored; everything else is evaluated fresh against the clock and counters.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusRevoked   Status = "REVOKED"
	StatusExpired   Status = "EXPIRED"
	StatusExhausted Status = "EXHAUSTED"
	// StatusNone is reported by the staff projection when a letter has no
	// invitation yet.
	StatusNone Status = "NONE"
)

// Letter is a case-letter row: its identity plus the invitation currently
// attached to it, if any.
type Letter struct {
	ID             string
	CaseID         string
	OrganizationID string
	Invitation     *Invitation
}

// Invitation is the invitation state carried on a case-letter record. Dead
// invitations are never deleted; they remain for audit.
type Invitation struct {
	LetterID       string
	CaseID         string
	OrganizationID string

	// TokenID is the non-secret lookup key embedded in and alongside the
	// opaque token.
	TokenID string
	// EncryptedPayload is the authenticated-encrypted token payload as
	// persisted for audit and integrity checks.
	EncryptedPayload []byte

	ExpiresAt  time.Time
	UsageLimit int // 0 means unlimited
	UsageCount int
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// StatusAt derives the lifecycle state at the given instant. Precedence when
// several conditions hold: REVOKED > EXPIRED > EXHAUSTED > ACTIVE.
func (inv *Invitation) StatusAt(now time.Time) Status {
	switch {
	case inv.RevokedAt != nil:
		return StatusRevoked
	case !now.Before(inv.ExpiresAt):
		return StatusExpired
	case inv.UsageLimit > 0 && inv.UsageCount >= inv.UsageLimit:
		return StatusExhausted
	default:
		return StatusActive
	}
}

// RemainingUses returns how many redemptions are left, or nil when unlimited.
func (inv *Invitation) RemainingUses() *int {
	if inv.UsageLimit == 0 {
		return nil
	}
	remaining := inv.UsageLimit - inv.UsageCount
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// CaseReference is the masked preview shown to an unauthenticated token
// holder. It never carries the full debtor identity.
type CaseReference struct {
	CreditorName    string `json:"creditor_name"`
	DebtorName      string `json:"debtor_name"` // partially redacted
	ReferenceNumber string `json:"reference_number,omitempty"`
}

// CreateOptions bound the shape of a new invitation.
type CreateOptions struct {
	ExpirationDays int
	UsageLimit     int
}

const (
	minExpirationDays = 1
	maxExpirationDays = 90

	defaultExpirationDays = 30
	defaultUsageLimit     = 1
)

// Normalize clamps options into their allowed ranges: expirationDays into
// [1, 90], usageLimit to >= 0. A negative usage limit falls back to single
// use rather than unlimited; zero is the only way to request no cap.
func (o *CreateOptions) Normalize() {
	if o.ExpirationDays == 0 {
		o.ExpirationDays = defaultExpirationDays
	}
	if o.ExpirationDays < minExpirationDays {
		o.ExpirationDays = minExpirationDays
	}
	if o.ExpirationDays > maxExpirationDays {
		o.ExpirationDays = maxExpirationDays
	}
	if o.UsageLimit < 0 {
		o.UsageLimit = defaultUsageLimit
	}
}
