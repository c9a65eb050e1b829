package transmutation

import (
	"context"
	"database/sql"
)

// Executor is the subset of database/sql operations the engine needs.
// *sql.DB, *sql.Tx and *sql.Conn all implement it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect translates alterations into engine-specific DDL and reports what
// the engine can do. Implementations live in the dialect subpackages.
type Dialect interface {
	// Name reports the engine name ("sqlite", "postgres", "mysql").
	Name() string

	// SupportsTransactionalDDL reports whether DDL statements take part in
	// transactions on this engine. When false the coordinator falls back to
	// compensating rollback.
	SupportsTransactionalDDL() bool

	// Supports reports whether this dialect can express the given kind.
	Supports(k Kind) bool

	// Compile translates an alteration into one or more DDL statements. For
	// destructive kinds it runs after the pre-image snapshot, so captured
	// payload fields are available.
	Compile(a *Alteration) ([]string, error)

	// Execute runs a single compiled statement on exec.
	Execute(ctx context.Context, exec Executor, stmt string) error

	// Inspector returns a schema inspector bound to exec. Binding matters:
	// inside a native transaction the inspector must see DDL the transaction
	// has not yet committed.
	Inspector(exec Executor) Inspector
}

// Inspector answers point-in-time questions about the live schema. An empty
// schema argument means the connection's current database or schema. The
// definition getters return an error when the object does not exist.
type Inspector interface {
	TableExists(ctx context.Context, schema, table string) (bool, error)
	ColumnExists(ctx context.Context, schema, table, column string) (bool, error)
	ColumnDefinition(ctx context.Context, schema, table, column string) (*Column, error)
	TableDefinition(ctx context.Context, schema, table string) ([]Column, error)
	IndexExists(ctx context.Context, schema, table, index string) (bool, error)
	IndexDefinition(ctx context.Context, schema, table, index string) (*Index, error)
	ConstraintExists(ctx context.Context, schema, table, constraint string) (bool, error)
	ConstraintDefinition(ctx context.Context, schema, table, constraint string) (*Constraint, error)
}
