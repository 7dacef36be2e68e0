// Package store persists users, debtor profiles, and sessions. All writes
// resolve against a context transaction when one is active, so provisioning
// commits the three records atomically.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"debtgate/internal/auth"
	"debtgate/pkg/platform/sentinel"
	"debtgate/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresUserStore persists users.
type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUsers(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

// Create inserts a user. The unique email index is the final authority under
// concurrent registrations; violations surface as sentinel.ErrConflict.
func (s *PostgresUserStore) Create(ctx context.Context, user *auth.User) error {
	query := `
		INSERT INTO users (id, organization_id, email, password_hash, first_name, last_name, role, email_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		user.ID, user.OrganizationID, user.Email, user.PasswordHash,
		user.FirstName, user.LastName, user.Role, user.EmailVerified, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	query := `
		SELECT id, organization_id, email, password_hash, first_name, last_name, role, email_verified, created_at
		FROM users WHERE email = $1
	`
	return s.scanUser(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, email))
}

func (s *PostgresUserStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	query := `
		SELECT id, organization_id, email, password_hash, first_name, last_name, role, email_verified, created_at
		FROM users WHERE id = $1
	`
	return s.scanUser(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, id))
}

func (s *PostgresUserStore) scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.Role, &u.EmailVerified, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// PostgresProfileStore persists debtor profiles.
type PostgresProfileStore struct {
	db *sql.DB
}

func NewPostgresProfiles(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

// Create inserts a profile. The unique case_id index guarantees at most one
// profile per case even when two registrations race past the pre-check.
func (s *PostgresProfileStore) Create(ctx context.Context, profile *auth.DebtorProfile) error {
	query := `
		INSERT INTO debtor_profiles (id, user_id, case_id, invitation_token_id, terms_accepted_at, terms_version, signup_ip, signup_device, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		profile.ID, profile.UserID, profile.CaseID, profile.InvitationTokenID,
		profile.TermsAcceptedAt, profile.TermsVersion, profile.SignupIP, profile.SignupDevice, profile.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create debtor profile: %w", err)
	}
	return nil
}

func (s *PostgresProfileStore) FindByCase(ctx context.Context, caseID string) (*auth.DebtorProfile, error) {
	query := `
		SELECT id, user_id, case_id, invitation_token_id, terms_accepted_at, terms_version, signup_ip, signup_device, created_at
		FROM debtor_profiles WHERE case_id = $1
	`
	var p auth.DebtorProfile
	err := tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, caseID).Scan(
		&p.ID, &p.UserID, &p.CaseID, &p.InvitationTokenID,
		&p.TermsAcceptedAt, &p.TermsVersion, &p.SignupIP, &p.SignupDevice, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find debtor profile: %w", err)
	}
	return &p, nil
}

// PostgresSessionStore persists sessions.
type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessions(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

func (s *PostgresSessionStore) Create(ctx context.Context, session *auth.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, csrf_token, device_name, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		session.ID, session.UserID, session.CSRFToken, session.DeviceName,
		session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) FindByID(ctx context.Context, id string) (*auth.Session, error) {
	query := `
		SELECT id, user_id, csrf_token, device_name, created_at, expires_at
		FROM sessions WHERE id = $1
	`
	var sess auth.Session
	err := tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.UserID, &sess.CSRFToken, &sess.DeviceName,
		&sess.CreatedAt, &sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &sess, nil
}
