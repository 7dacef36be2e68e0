// Package store persists invitation state on case-letter rows.
// Stores are pure I/O; lifecycle rules live in the service.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"debtgate/internal/invite"
	"debtgate/pkg/platform/sentinel"
)

// PostgresStore persists invitations embedded in the case_letters table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed invitation store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const invitationColumns = `
	letter_id, case_id, organization_id,
	invite_token_id, invite_payload, invite_expires_at,
	invite_usage_limit, invite_usage_count, invite_revoked_at, invite_created_at
`

// FindLetter returns the letter row with its invitation, if any, or
// sentinel.ErrNotFound when the letter does not exist.
func (s *PostgresStore) FindLetter(ctx context.Context, letterID string) (*invite.Letter, error) {
	query := `SELECT ` + invitationColumns + ` FROM case_letters WHERE letter_id = $1`
	letter, err := scanLetter(s.db.QueryRowContext(ctx, query, letterID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find letter: %w", err)
	}
	return letter, nil
}

// FindByTokenID resolves an invitation by its lookup id. Returns (nil, nil)
// when no letter carries that id.
func (s *PostgresStore) FindByTokenID(ctx context.Context, tokenID string) (*invite.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM case_letters WHERE invite_token_id = $1`
	letter, err := scanLetter(s.db.QueryRowContext(ctx, query, tokenID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find invitation by token id: %w", err)
	}
	return letter.Invitation, nil
}

// CreateIfInactive writes a fresh invitation onto the letter row, but only if
// the current one (if any) is revoked, expired, or exhausted. The condition is
// part of the UPDATE so two concurrent creates cannot both succeed.
// Returns sentinel.ErrConflict when an active invitation is in the way and
// sentinel.ErrNotFound when the letter does not exist.
func (s *PostgresStore) CreateIfInactive(ctx context.Context, inv *invite.Invitation, now time.Time) error {
	query := `
		UPDATE case_letters SET
			invite_token_id = $2,
			invite_payload = $3,
			invite_expires_at = $4,
			invite_usage_limit = $5,
			invite_usage_count = 0,
			invite_revoked_at = NULL,
			invite_created_at = $6
		WHERE letter_id = $1
		  AND (
			invite_token_id IS NULL
			OR invite_revoked_at IS NOT NULL
			OR invite_expires_at <= $7
			OR (invite_usage_limit > 0 AND invite_usage_count >= invite_usage_limit)
		  )
	`
	result, err := s.db.ExecContext(ctx, query,
		inv.LetterID,
		inv.TokenID,
		inv.EncryptedPayload,
		inv.ExpiresAt,
		inv.UsageLimit,
		inv.CreatedAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create invitation rows affected: %w", err)
	}
	if rows == 0 {
		// Either the letter is missing or an active invitation exists.
		if _, err := s.FindLetter(ctx, inv.LetterID); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

// RedeemAtomic increments the usage counter iff the invitation is still
// usable at the given instant. A single conditional UPDATE makes the
// limit check and the increment one linearizable operation, so concurrent
// redemptions on a usage_limit=1 invitation cannot both pass.
// Returns sentinel.ErrInvalidState when the condition did not hold; callers
// re-derive the precise status from a fresh read.
func (s *PostgresStore) RedeemAtomic(ctx context.Context, tokenID string, now time.Time) (*invite.Invitation, error) {
	query := `
		UPDATE case_letters SET
			invite_usage_count = invite_usage_count + 1
		WHERE invite_token_id = $1
		  AND invite_revoked_at IS NULL
		  AND invite_expires_at > $2
		  AND (invite_usage_limit = 0 OR invite_usage_count < invite_usage_limit)
		RETURNING ` + invitationColumns
	letter, err := scanLetter(s.db.QueryRowContext(ctx, query, tokenID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrInvalidState
		}
		return nil, fmt.Errorf("redeem invitation: %w", err)
	}
	return letter.Invitation, nil
}

// RevokeAtomic stamps revoked_at on a not-yet-revoked invitation. Returns
// sentinel.ErrInvalidState when nothing matched (no invitation, or already
// revoked); the service disambiguates with a follow-up read.
func (s *PostgresStore) RevokeAtomic(ctx context.Context, letterID string, now time.Time) error {
	query := `
		UPDATE case_letters SET invite_revoked_at = $2
		WHERE letter_id = $1
		  AND invite_token_id IS NOT NULL
		  AND invite_revoked_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, letterID, now)
	if err != nil {
		return fmt.Errorf("revoke invitation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke invitation rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func scanLetter(row *sql.Row) (*invite.Letter, error) {
	var letter invite.Letter
	var tokenID sql.NullString
	var payload []byte
	var expiresAt, createdAt sql.NullTime
	var usageLimit, usageCount sql.NullInt64
	var revokedAt sql.NullTime

	err := row.Scan(
		&letter.ID,
		&letter.CaseID,
		&letter.OrganizationID,
		&tokenID,
		&payload,
		&expiresAt,
		&usageLimit,
		&usageCount,
		&revokedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	if !tokenID.Valid {
		// Letter exists but carries no invitation.
		return &letter, nil
	}
	inv := invite.Invitation{
		LetterID:         letter.ID,
		CaseID:           letter.CaseID,
		OrganizationID:   letter.OrganizationID,
		TokenID:          tokenID.String,
		EncryptedPayload: payload,
		ExpiresAt:        expiresAt.Time,
		UsageLimit:       int(usageLimit.Int64),
		UsageCount:       int(usageCount.Int64),
		CreatedAt:        createdAt.Time,
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		inv.RevokedAt = &t
	}
	letter.Invitation = &inv
	return &letter, nil
}
