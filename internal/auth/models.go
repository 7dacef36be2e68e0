// Package auth defines the identity records created by debtor provisioning
// and the bearer-token surface over them.
package auth

import "time"

// Role scopes what a user may call.
type Role string

const (
	RoleDebtor Role = "DEBTOR"
	RoleStaff  Role = "STAFF"
	RoleAdmin  Role = "ADMIN"
)

// User is an account holder. Debtor emails are created pre-verified: the
// invitation flow already proved control of the case letter.
type User struct {
	ID             string
	OrganizationID string
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	Role           Role
	EmailVerified  bool
	CreatedAt      time.Time
}

// DebtorProfile links a user to exactly one case and records how the account
// came to exist. At most one profile per case, enforced by a pre-check and by
// the store's uniqueness constraint as the backstop under races.
type DebtorProfile struct {
	ID     string
	UserID string
	CaseID string

	// InvitationTokenID records which invitation token redeemed this case.
	InvitationTokenID string

	TermsAcceptedAt time.Time
	TermsVersion    string
	SignupIP        string
	SignupDevice    string

	CreatedAt time.Time
}

// Session is the bearer credential record backing an issued session token.
type Session struct {
	ID         string
	UserID     string
	CSRFToken  string
	DeviceName string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}
