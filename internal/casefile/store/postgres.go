// Package store persists case records. Stores are pure I/O; the lockout
// policy (threshold, window) lives in the verification service.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"debtgate/internal/casefile"
	"debtgate/pkg/platform/sentinel"
	"debtgate/pkg/platform/tx"
)

// PostgresStore persists cases in PostgreSQL. Methods resolve against a
// context transaction when one is active, so the provisioning transaction can
// link a case to its new debtor inside the same commit.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Find(ctx context.Context, caseID string) (*casefile.Case, error) {
	query := `
		SELECT id, organization_id, creditor_name, debtor_name, reference_number,
		       ssn_last4_hash, date_of_birth, account_number,
		       verification_attempts, verification_locked_until, debtor_user_id
		FROM cases
		WHERE id = $1
	`
	c, err := scanCase(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, caseID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find case: %w", err)
	}
	return c, nil
}

// RecordFailureAtomic increments the verification attempt counter and returns
// the new count. A single UPDATE...RETURNING keeps concurrent failures from
// losing increments, so the lockout threshold is never overshot in a way that
// permits an extra attempt.
func (s *PostgresStore) RecordFailureAtomic(ctx context.Context, caseID string) (int, error) {
	query := `
		UPDATE cases
		SET verification_attempts = verification_attempts + 1
		WHERE id = $1
		RETURNING verification_attempts
	`
	var attempts int
	err := tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, caseID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, sentinel.ErrNotFound
		}
		return 0, fmt.Errorf("record verification failure: %w", err)
	}
	return attempts, nil
}

// ApplyLockAtomic sets the lockout timestamp if the attempt count has reached
// the threshold and no active lock is in place. The condition rides in the
// UPDATE so racing failures cannot stack or extend locks.
func (s *PostgresStore) ApplyLockAtomic(ctx context.Context, caseID string, lockedUntil time.Time, threshold int) (bool, error) {
	query := `
		UPDATE cases
		SET verification_locked_until = $2
		WHERE id = $1
		  AND verification_attempts >= $3
		  AND (verification_locked_until IS NULL OR verification_locked_until < $4)
	`
	result, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query, caseID, lockedUntil, threshold, time.Now())
	if err != nil {
		return false, fmt.Errorf("apply verification lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply verification lock rows affected: %w", err)
	}
	return rows > 0, nil
}

// ResetVerification clears the failure counter and any lock after a
// successful identity proof.
func (s *PostgresStore) ResetVerification(ctx context.Context, caseID string) error {
	query := `
		UPDATE cases
		SET verification_attempts = 0, verification_locked_until = NULL
		WHERE id = $1
	`
	_, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query, caseID)
	if err != nil {
		return fmt.Errorf("reset verification state: %w", err)
	}
	return nil
}

// LinkDebtor records the provisioned debtor account on the case. Runs inside
// the provisioning transaction.
func (s *PostgresStore) LinkDebtor(ctx context.Context, caseID, userID string) error {
	query := `UPDATE cases SET debtor_user_id = $2 WHERE id = $1 AND debtor_user_id IS NULL`
	result, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query, caseID, userID)
	if err != nil {
		return fmt.Errorf("link debtor to case: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("link debtor rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func scanCase(row *sql.Row) (*casefile.Case, error) {
	var c casefile.Case
	var reference sql.NullString
	var lockedUntil sql.NullTime
	var debtorUserID sql.NullString

	err := row.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.CreditorName,
		&c.DebtorName,
		&reference,
		&c.SSNLast4Hash,
		&c.DateOfBirth,
		&c.AccountNumber,
		&c.VerificationAttempts,
		&lockedUntil,
		&debtorUserID,
	)
	if err != nil {
		return nil, err
	}
	c.ReferenceNumber = reference.String
	if lockedUntil.Valid {
		t := lockedUntil.Time
		c.VerificationLockedUntil = &t
	}
	if debtorUserID.Valid {
		id := debtorUserID.String
		c.DebtorUserID = &id
	}
	return &c, nil
}
