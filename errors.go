package transmutation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotIdle is returned when alterations are added or an upgrade is
	// started on a migration that has already run.
	ErrNotIdle = errors.New("migration is not idle")

	// ErrNotUpgraded is returned when a downgrade is requested without a
	// completed upgrade to revert.
	ErrNotUpgraded = errors.New("migration has no completed upgrade to revert")

	// ErrNoAlterations is returned when an empty migration is run.
	ErrNoAlterations = errors.New("no alterations to run")

	// ErrIrreversible marks an alteration whose reverse cannot be derived.
	ErrIrreversible = errors.New("alteration has no derivable reverse")

	// ErrUnsupported marks an alteration kind the dialect cannot express.
	ErrUnsupported = errors.New("alteration is not supported by this dialect")
)

// ---

// ValidationError reports a precondition that failed before the alteration
// touched the database. Nothing was mutated; the migration can be corrected
// and retried.
type ValidationError struct {
	Alteration string // identity of the failing alteration
	Index      int    // its position in the migration
	Applied    int    // items successfully processed before the failure
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation of %s failed: %s", e.Alteration, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ---

// ExecutionError reports a DDL statement that failed mid-migration. Applied
// counts the items successfully processed before the failure in the same run
// (applied on upgrade, reverted on downgrade).
type ExecutionError struct {
	Alteration string
	Index      int
	Applied    int
	Stmt       string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of %s failed: %s", e.Alteration, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ---

// RevertFailure records one alteration whose compensating revert failed,
// leaving it in an indeterminate state.
type RevertFailure struct {
	Alteration string
	Index      int
	Err        error
}

// RollbackError reports that compensation itself failed. Cause is the error
// that triggered the rollback; Failures lists every alteration left in an
// indeterminate state. It is fatal: the migration is marked failed and must
// not be reused, and manual intervention is required.
type RollbackError struct {
	Cause    error
	Failures []RevertFailure
}

func (e *RollbackError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Alteration)
	}
	return fmt.Sprintf("rollback after %q failed, alterations left in an indeterminate state: %s",
		e.Cause, strings.Join(names, ", "))
}

func (e *RollbackError) Unwrap() error { return e.Cause }
