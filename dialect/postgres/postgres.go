// Package postgres implements the transmutation dialect for PostgreSQL.
//
// PostgreSQL has transactional DDL and supports the full alteration set, so
// migrations execute in native mode and any failure rolls back atomically.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	tm "github.com/eddiethedean/transmutation"
)

type postgresDialect struct{}

// New returns the PostgreSQL dialect.
func New() tm.Dialect {
	return &postgresDialect{}
}

func (drv *postgresDialect) Name() string {
	return "postgres"
}

func (drv *postgresDialect) SupportsTransactionalDDL() bool {
	return true
}

func (drv *postgresDialect) Supports(k tm.Kind) bool {
	return true
}

func (drv *postgresDialect) Inspector(exec tm.Executor) tm.Inspector {
	return &postgresInspector{exec: exec}
}

func (drv *postgresDialect) Execute(ctx context.Context, exec tm.Executor, stmt string) error {
	if _, err := exec.ExecContext(ctx, stmt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return fmt.Errorf("failed to execute a statement (SQLSTATE %s): %w", pgErr.Code, err)
		}
		return fmt.Errorf("failed to execute a statement: %w", err)
	}
	return nil
}

// ---

func (drv *postgresDialect) Compile(a *tm.Alteration) ([]string, error) { //nolint:cyclop
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

	case tm.KindAlterColumn:
		return drv.compileAlterColumn(a), nil

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
		stmts := []string{fmt.Sprintf(
			"CREATE TABLE %s (LIKE %s INCLUDING ALL)",
			drv.tableName(a.Schema, a.NewName), drv.tableName(a.Schema, a.Table),
		)}
		if a.WithData {
			stmts = append(stmts, fmt.Sprintf(
				"INSERT INTO %s SELECT * FROM %s",
				drv.tableName(a.Schema, a.NewName), drv.tableName(a.Schema, a.Table),
			))
		}
		return stmts, nil

	case tm.KindTruncateTable:
		return []string{fmt.Sprintf("TRUNCATE TABLE %s", drv.tableName(a.Schema, a.Table))}, nil

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
			unique, quoteIdent(a.Index.Name), drv.tableName(a.Schema, a.Table), strings.Join(cols, ", "),
		)}, nil

	case tm.KindDropIndex:
		return []string{fmt.Sprintf("DROP INDEX %s", drv.tableName(a.Schema, a.IndexName))}, nil

	case tm.KindCreateForeignKey:
		return []string{drv.compileForeignKey(a)}, nil

	case tm.KindCreateUniqueConstraint:
		cols := make([]string, 0, len(a.Constraint.Columns))
		for _, c := range a.Constraint.Columns {
			cols = append(cols, quoteIdent(c))
		}
		return []string{fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
			drv.tableName(a.Schema, a.Table), quoteIdent(a.Constraint.Name), strings.Join(cols, ", "),
		)}, nil

	case tm.KindCreateCheckConstraint:
		return []string{fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)",
			drv.tableName(a.Schema, a.Table), quoteIdent(a.Constraint.Name), a.Constraint.Check,
		)}, nil

	case tm.KindDropConstraint:
		return []string{fmt.Sprintf(
			"ALTER TABLE %s DROP CONSTRAINT %s",
			drv.tableName(a.Schema, a.Table), quoteIdent(a.ConstraintName),
		)}, nil

	case tm.KindRawSQL:
		return []string{a.SQL}, nil
	}

	return nil, fmt.Errorf("unknown alteration kind %d", a.Kind)
}

// compileAlterColumn redefines a column in three steps because PostgreSQL
// alters type, nullability and default through separate clauses.
func (drv *postgresDialect) compileAlterColumn(a *tm.Alteration) []string {
	table := drv.tableName(a.Schema, a.Table)
	col := quoteIdent(a.Column.Name)

	stmts := []string{fmt.Sprintf(
		"ALTER TABLE %s ALTER COLUMN %s TYPE %s",
		table, col, drv.typeName(a.Column.Type),
	)}

	if a.Column.Nullable {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", table, col))
	} else {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", table, col))
	}

	if a.Column.Default != nil {
		stmts = append(stmts, fmt.Sprintf(
			"ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", table, col, *a.Column.Default,
		))
	} else {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", table, col))
	}

	return stmts
}

func (drv *postgresDialect) compileForeignKey(a *tm.Alteration) string {
	con := a.Constraint

	cols := make([]string, 0, len(con.Columns))
	for _, c := range con.Columns {
		cols = append(cols, quoteIdent(c))
	}
	refCols := make([]string, 0, len(con.RefColumns))
	for _, c := range con.RefColumns {
		refCols = append(refCols, quoteIdent(c))
	}

	stmt := fmt.Sprintf(
		"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		drv.tableName(a.Schema, a.Table), quoteIdent(con.Name),
		strings.Join(cols, ", "), drv.tableName(a.Schema, con.RefTable), strings.Join(refCols, ", "),
	)
	if con.OnDelete != "" {
		stmt += " ON DELETE " + con.OnDelete
	}
	if con.OnUpdate != "" {
		stmt += " ON UPDATE " + con.OnUpdate
	}

	return stmt
}

// ---

func (drv *postgresDialect) columnDef(c tm.Column) string {
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

func (drv *postgresDialect) typeName(t tm.ColumnType) string {
	switch t.Name {
	case tm.TypeInteger:
		return "integer"
	case tm.TypeBigInt:
		return "bigint"
	case tm.TypeFloat:
		return "double precision"
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
		return "bytea"
	case tm.TypeRaw:
		return t.Raw
	}
	return t.String()
}

func (drv *postgresDialect) tableName(schema, name string) string {
	if schema == "" {
		return quoteIdent(name)
	}
	return quoteIdent(schema) + "." + quoteIdent(name)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
