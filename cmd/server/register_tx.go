package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "debtgate/pkg/domain-errors"
	platformtx "debtgate/pkg/platform/tx"
)

const defaultRegisterTxTimeout = 5 * time.Second

// registerPostgresTx runs the provisioning transaction. The open transaction
// travels in the context, so the user, profile, session, and case stores all
// write through the same BeginTx.
type registerPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newRegisterPostgresTx(db *sql.DB) *registerPostgresTx {
	return &registerPostgresTx{db: db}
}

func (t *registerPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultRegisterTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(platformtx.WithTx(ctx, tx)); err != nil {
		return err
	}

	return tx.Commit()
}
