// Package mysql implements the transmutation dialect for MySQL and MariaDB.
//
// DDL statements cause an implicit commit on these engines, so native
// transactional rollback is unavailable and migrations execute in
// compensating mode: each alteration commits on its own and a failure is
// undone by reverting the applied alterations in reverse order.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"

	tm "github.com/eddiethedean/transmutation"
)

type mysqlDialect struct{}

// New returns the MySQL dialect.
func New() tm.Dialect {
	return &mysqlDialect{}
}

func (drv *mysqlDialect) Name() string {
	return "mysql"
}

func (drv *mysqlDialect) SupportsTransactionalDDL() bool {
	return false
}

func (drv *mysqlDialect) Supports(k tm.Kind) bool {
	return true
}

func (drv *mysqlDialect) Inspector(exec tm.Executor) tm.Inspector {
	return &mysqlInspector{exec: exec}
}

func (drv *mysqlDialect) Execute(ctx context.Context, exec tm.Executor, stmt string) error {
	if _, err := exec.ExecContext(ctx, stmt); err != nil {
		var myErr *mysqldriver.MySQLError
		if errors.As(err, &myErr) {
			return fmt.Errorf("failed to execute a statement (error %d): %w", myErr.Number, err)
		}
		return fmt.Errorf("failed to execute a statement: %w", err)
	}
	return nil
}

// ---

func (drv *mysqlDialect) Compile(a *tm.Alteration) ([]string, error) { //nolint:cyclop
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
		return []string{fmt.Sprintf(
			"ALTER TABLE %s MODIFY COLUMN %s",
			drv.tableName(a.Schema, a.Table), drv.columnDef(*a.Column),
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
			"RENAME TABLE %s TO %s",
			drv.tableName(a.Schema, a.Table), drv.tableName(a.Schema, a.NewName),
		)}, nil

	case tm.KindCopyTable:
		stmts := []string{fmt.Sprintf(
			"CREATE TABLE %s LIKE %s",
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
		return []string{fmt.Sprintf(
			"DROP INDEX %s ON %s",
			quoteIdent(a.IndexName), drv.tableName(a.Schema, a.Table),
		)}, nil

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
		return drv.compileDropConstraint(a)

	case tm.KindRawSQL:
		return []string{a.SQL}, nil
	}

	return nil, fmt.Errorf("unknown alteration kind %d", a.Kind)
}

// compileDropConstraint picks the drop clause by constraint flavor, since
// MySQL has no generic DROP CONSTRAINT. The flavor comes from the definition
// captured before the drop.
func (drv *mysqlDialect) compileDropConstraint(a *tm.Alteration) ([]string, error) {
	if a.Constraint == nil {
		return nil, fmt.Errorf("cannot drop constraint %s without its definition", a.ConstraintName)
	}

	table := drv.tableName(a.Schema, a.Table)

	switch a.Constraint.Type {
	case tm.ConstraintForeignKey:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", table, quoteIdent(a.ConstraintName))}, nil
	case tm.ConstraintUnique:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", table, quoteIdent(a.ConstraintName))}, nil
	case tm.ConstraintCheck:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CHECK %s", table, quoteIdent(a.ConstraintName))}, nil
	case tm.ConstraintPrimaryKey:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY", table)}, nil
	}

	return nil, fmt.Errorf("constraint %s has unknown type %d", a.ConstraintName, a.Constraint.Type)
}

func (drv *mysqlDialect) compileForeignKey(a *tm.Alteration) string {
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

func (drv *mysqlDialect) columnDef(c tm.Column) string {
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

func (drv *mysqlDialect) typeName(t tm.ColumnType) string {
	switch t.Name {
	case tm.TypeInteger:
		return "int"
	case tm.TypeBigInt:
		return "bigint"
	case tm.TypeFloat:
		return "double"
	case tm.TypeBoolean:
		return "tinyint(1)"
	case tm.TypeText:
		return "text"
	case tm.TypeVarchar:
		if t.Size > 0 {
			return fmt.Sprintf("varchar(%d)", t.Size)
		}
		return "varchar(255)"
	case tm.TypeTimestamp:
		return "datetime"
	case tm.TypeDate:
		return "date"
	case tm.TypeBlob:
		return "blob"
	case tm.TypeRaw:
		return t.Raw
	}
	return t.String()
}

func (drv *mysqlDialect) tableName(schema, name string) string {
	if schema == "" {
		return quoteIdent(name)
	}
	return quoteIdent(schema) + "." + quoteIdent(name)
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
