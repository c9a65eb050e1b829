// Package sqlite implements the transmutation dialect for SQLite.
//
// SQLite runs DDL inside transactions, so migrations execute in native mode.
// Table constraints cannot be added to an existing table; unique constraints
// are emulated with unique indexes, and foreign key or check constraints are
// reported as unsupported. Column redefinition (ALTER COLUMN) is likewise
// unsupported and requires a table rebuild, which this dialect does not do.
package sqlite

import (
	"context"
	"fmt"
	"strings"

	tm "github.com/eddiethedean/transmutation"
)

type sqliteDialect struct{}

// New returns the SQLite dialect.
func New() tm.Dialect {
	return &sqliteDialect{}
}

func (drv *sqliteDialect) Name() string {
	return "sqlite"
}

func (drv *sqliteDialect) SupportsTransactionalDDL() bool {
	return true
}

func (drv *sqliteDialect) Supports(k tm.Kind) bool {
	switch k {
	case tm.KindAlterColumn, tm.KindCreateForeignKey, tm.KindCreateCheckConstraint:
		return false
	}
	return true
}

func (drv *sqliteDialect) Inspector(exec tm.Executor) tm.Inspector {
	return &sqliteInspector{exec: exec}
}

func (drv *sqliteDialect) Execute(ctx context.Context, exec tm.Executor, stmt string) error {
	if _, err := exec.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute a statement: %w", err)
	}
	return nil
}

// ---

func (drv *sqliteDialect) Compile(a *tm.Alteration) ([]string, error) { //nolint:cyclop
	switch a.Kind {
	case tm.KindAddColumn:
		return []string{fmt.Sprintf(
			"ALTER TABLE %s ADD COLUMN %s",
			drv.tableName(a.Schema, a.Table), drv.columnDef(*a.Column),
		)}, nil

	case tm.KindDropColumn:
		return []string{fmt.Sprintf(
			"ALTER TABLE %s DROP COLUMN %s",
			drv.tableName(a.Schema, a.Table), quoteIdent(a.ColumnName),
		)}, nil

	case tm.KindRenameColumn:
		return []string{fmt.Sprintf(
			"ALTER TABLE %s RENAME COLUMN %s TO %s",
			drv.tableName(a.Schema, a.Table), quoteIdent(a.ColumnName), quoteIdent(a.NewName),
		)}, nil

	case tm.KindCreateTable:
		cols := make([]string, 0, len(a.Columns))
		for _, c := range a.Columns {
			cols = append(cols, drv.columnDef(c))
		}
		return []string{fmt.Sprintf(
			"CREATE TABLE %s (%s)",
			drv.tableName(a.Schema, a.Table), strings.Join(cols, ", "),
		)}, nil

	case tm.KindDropTable:
		return []string{fmt.Sprintf("DROP TABLE %s", drv.tableName(a.Schema, a.Table))}, nil

	case tm.KindRenameTable:
		return []string{fmt.Sprintf(
			"ALTER TABLE %s RENAME TO %s",
			drv.tableName(a.Schema, a.Table), quoteIdent(a.NewName),
		)}, nil

	case tm.KindCopyTable:
		// The source table's column definitions were captured before
		// compilation; building the copy from them keeps column types exact,
		// which CREATE TABLE ... AS SELECT would not.
		cols := make([]string, 0, len(a.Columns))
		for _, c := range a.Columns {
			cols = append(cols, drv.columnDef(c))
		}
		stmts := []string{fmt.Sprintf(
			"CREATE TABLE %s (%s)",
			drv.tableName(a.Schema, a.NewName), strings.Join(cols, ", "),
		)}
		if a.WithData {
			stmts = append(stmts, fmt.Sprintf(
				"INSERT INTO %s SELECT * FROM %s",
				drv.tableName(a.Schema, a.NewName), drv.tableName(a.Schema, a.Table),
			))
		}
		return stmts, nil

	case tm.KindTruncateTable:
		// SQLite has no TRUNCATE; an unqualified DELETE takes the same
		// truncate optimization path.
		return []string{fmt.Sprintf("DELETE FROM %s", drv.tableName(a.Schema, a.Table))}, nil

	case tm.KindCreateIndex:
		unique := ""
		if a.Index.Unique {
			unique = "UNIQUE "
		}
		cols := make([]string, 0, len(a.Index.Columns))
		for _, c := range a.Index.Columns {
			cols = append(cols, quoteIdent(c))
		}
		return []string{fmt.Sprintf(
			"CREATE %sINDEX %s ON %s (%s)",
			unique, drv.tableName(a.Schema, a.Index.Name), quoteIdent(a.Table), strings.Join(cols, ", "),
		)}, nil

	case tm.KindDropIndex:
		return []string{fmt.Sprintf("DROP INDEX %s", drv.tableName(a.Schema, a.IndexName))}, nil

	case tm.KindCreateUniqueConstraint:
		// SQLite cannot add a constraint to an existing table; a unique
		// index enforces the same rule.
		cols := make([]string, 0, len(a.Constraint.Columns))
		for _, c := range a.Constraint.Columns {
			cols = append(cols, quoteIdent(c))
		}
		return []string{fmt.Sprintf(
			"CREATE UNIQUE INDEX %s ON %s (%s)",
			drv.tableName(a.Schema, a.Constraint.Name), quoteIdent(a.Table), strings.Join(cols, ", "),
		)}, nil

	case tm.KindDropConstraint:
		if a.Constraint == nil || a.Constraint.Type != tm.ConstraintUnique {
			return nil, fmt.Errorf("sqlite can only drop unique constraints: %w", tm.ErrUnsupported)
		}
		return []string{fmt.Sprintf("DROP INDEX %s", drv.tableName(a.Schema, a.ConstraintName))}, nil

	case tm.KindRawSQL:
		return []string{a.SQL}, nil

	case tm.KindAlterColumn, tm.KindCreateForeignKey, tm.KindCreateCheckConstraint:
		return nil, fmt.Errorf("sqlite cannot express %s: %w", a.Kind, tm.ErrUnsupported)
	}

	return nil, fmt.Errorf("unknown alteration kind %d", a.Kind)
}

// ---

func (drv *sqliteDialect) columnDef(c tm.Column) string {
	parts := []string{quoteIdent(c.Name), drv.typeName(c.Type)}

	if c.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	} else if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != nil {
		parts = append(parts, "DEFAULT "+*c.Default)
	}

	return strings.Join(parts, " ")
}

func (drv *sqliteDialect) typeName(t tm.ColumnType) string {
	switch t.Name {
	case tm.TypeInteger:
		return "integer"
	case tm.TypeBigInt:
		return "bigint"
	case tm.TypeFloat:
		return "real"
	case tm.TypeBoolean:
		return "boolean"
	case tm.TypeText:
		return "text"
	case tm.TypeVarchar:
		if t.Size > 0 {
			return fmt.Sprintf("varchar(%d)", t.Size)
		}
		return "varchar"
	case tm.TypeTimestamp:
		return "timestamp"
	case tm.TypeDate:
		return "date"
	case tm.TypeBlob:
		return "blob"
	case tm.TypeRaw:
		return t.Raw
	}
	return t.String()
}

// tableName renders a quoted, optionally schema-qualified object name. The
// schema of an attached database qualifies tables and indexes alike.
func (drv *sqliteDialect) tableName(schema, name string) string {
	if schema == "" {
		return quoteIdent(name)
	}
	return quoteIdent(schema) + "." + quoteIdent(name)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
