package transmutation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Direction selects between applying a migration and reverting it.
type Direction rune

const (
	DirectionUp   Direction = 'u'
	DirectionDown Direction = 'd'
)

func (d Direction) String() string {
	if d == DirectionDown {
		return "down"
	}
	return "up"
}

// ---

// TransactionMode selects how a migration run is made atomic.
type TransactionMode int

const (
	// ModeAuto picks native when the dialect supports transactional DDL,
	// compensating otherwise.
	ModeAuto TransactionMode = iota

	// ModeNative runs every alteration inside one database transaction.
	ModeNative

	// ModeCompensating commits each alteration individually and, on failure,
	// reverts the already-applied ones in reverse order. Atomicity against
	// concurrent readers is weaker than ModeNative: during the compensation
	// window other sessions can observe intermediate schema states.
	ModeCompensating
)

func (m TransactionMode) String() string {
	switch m {
	case ModeNative:
		return "native"
	case ModeCompensating:
		return "compensating"
	}
	return "auto"
}

// ---

// coordinator acquires the connection scope a migration run owns and drives
// the queue through it, rolling back natively or compensating on failure.
type coordinator struct {
	db      *sql.DB
	dialect Dialect
	mode    TransactionMode
	log     *slog.Logger
}

func (c *coordinator) resolveMode() TransactionMode {
	if c.mode != ModeAuto {
		return c.mode
	}
	if c.dialect.SupportsTransactionalDDL() {
		return ModeNative
	}
	return ModeCompensating
}

func (c *coordinator) run(ctx context.Context, q *queue, dir Direction) error {
	if c.resolveMode() == ModeNative {
		return c.runNative(ctx, q, dir)
	}
	return c.runCompensating(ctx, q, dir)
}

// ---

// runNative walks the queue inside a single transaction. Any failure rolls
// the transaction back, which undoes every statement at once; no per-item
// reverts are needed. Item states are reset afterwards to reflect what the
// rollback undid.
func (c *coordinator) runNative(ctx context.Context, q *queue, dir Direction) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	sc := newScope(c.dialect, tx, c.log)

	var runErr error
	if dir == DirectionUp {
		_, _, runErr = q.applyAll(ctx, sc)
	} else {
		_, runErr = q.revertAll(ctx, sc)
	}

	if runErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.log.Error("transaction rollback failed", "err", rbErr)
			return &RollbackError{Cause: runErr, Failures: indeterminateFailures(q, dir, rbErr)}
		}
		c.rewindStates(q, dir)
		return runErr
	}

	if err := tx.Commit(); err != nil {
		c.rewindStates(q, dir)
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// rewindStates resets item states after a rolled-back native transaction:
// nothing the walk did survived.
func (c *coordinator) rewindStates(q *queue, dir Direction) {
	if dir == DirectionUp {
		q.resetApplied()
	} else {
		q.resetReverted()
	}
}

// indeterminateFailures lists the items a failed native rollback left in an
// unknown state: everything the aborted walk had processed, since there is no
// telling whether the rollback took effect on them.
func indeterminateFailures(q *queue, dir Direction, rbErr error) []RevertFailure {
	processed := StateApplied
	if dir == DirectionDown {
		processed = StateReverted
	}

	var failures []RevertFailure
	for i, a := range q.items {
		if a.state == processed || a.state == StateFailed {
			failures = append(failures, RevertFailure{Alteration: a.String(), Index: i, Err: rbErr})
		}
	}
	return failures
}

// ---

// runCompensating walks the queue on a dedicated connection with each
// statement auto-committing. On failure the already-processed items are
// undone one by one in reverse; the compensation walk keeps the original
// context's values but ignores its cancellation, so a caller abort cannot
// strand a half-reverted schema. Reverts that fail during compensation are
// fatal and reported through a RollbackError.
func (c *coordinator) runCompensating(ctx context.Context, q *queue, dir Direction) error {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire a connection: %w", err)
	}
	defer conn.Close()

	sc := newScope(c.dialect, conn, c.log)

	if dir == DirectionUp {
		idx, applied, runErr := q.applyAll(ctx, sc)
		if runErr == nil {
			return nil
		}

		c.log.Warn("alteration failed, compensating",
			"index", idx, "applied", len(applied), "err", runErr)

		failures := q.revertApplied(context.WithoutCancel(ctx), sc, idx-1)
		if len(failures) > 0 {
			return &RollbackError{Cause: runErr, Failures: failures}
		}
		return runErr
	}

	idx, runErr := q.revertAll(ctx, sc)
	if runErr == nil {
		return nil
	}

	c.log.Warn("revert failed, restoring applied state", "index", idx, "err", runErr)

	failures := q.reapplyReverted(context.WithoutCancel(ctx), sc, idx+1)
	if len(failures) > 0 {
		return &RollbackError{Cause: runErr, Failures: failures}
	}
	return runErr
}
