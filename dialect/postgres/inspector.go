package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	tm "github.com/eddiethedean/transmutation"
)

// schemaExpr resolves the schema argument in SQL: an empty string falls back
// to the connection's current schema.
const schemaExpr = "COALESCE(NULLIF($1, ''), current_schema())"

// postgresInspector reads the live schema through information_schema and the
// catalog, on the bound executor so uncommitted DDL in the surrounding
// transaction is visible.
type postgresInspector struct {
	exec tm.Executor
}

func (insp *postgresInspector) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var count int
	err := insp.exec.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables"+
			" WHERE table_schema = "+schemaExpr+" AND table_name = $2",
		schema, table,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query information_schema.tables: %w", err)
	}
	return count > 0, nil
}

func (insp *postgresInspector) ColumnExists(ctx context.Context, schema, table, column string) (bool, error) {
	var count int
	err := insp.exec.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.columns"+
			" WHERE table_schema = "+schemaExpr+" AND table_name = $2 AND column_name = $3",
		schema, table, column,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query information_schema.columns: %w", err)
	}
	return count > 0, nil
}

func (insp *postgresInspector) ColumnDefinition(ctx context.Context, schema, table, column string) (*tm.Column, error) {
	var (
		name       string
		dataType   string
		maxLen     int
		isNullable string
		dflt       sql.NullString
	)
	err := insp.exec.QueryRowContext(ctx,
		"SELECT column_name, data_type, COALESCE(character_maximum_length, 0), is_nullable, column_default"+
			" FROM information_schema.columns"+
			" WHERE table_schema = "+schemaExpr+" AND table_name = $2 AND column_name = $3",
		schema, table, column,
	).Scan(&name, &dataType, &maxLen, &isNullable, &dflt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("column %s.%s does not exist", table, column)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query information_schema.columns: %w", err)
	}

	pk, err := insp.primaryKeyColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	col := insp.buildColumn(name, dataType, maxLen, isNullable, dflt, pk)
	return &col, nil
}

func (insp *postgresInspector) TableDefinition(ctx context.Context, schema, table string) ([]tm.Column, error) {
	rows, err := insp.exec.QueryContext(ctx,
		"SELECT column_name, data_type, COALESCE(character_maximum_length, 0), is_nullable, column_default"+
			" FROM information_schema.columns"+
			" WHERE table_schema = "+schemaExpr+" AND table_name = $2"+
			" ORDER BY ordinal_position",
		schema, table,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query information_schema.columns: %w", err)
	}
	defer rows.Close()

	pk, err := insp.primaryKeyColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	var cols []tm.Column
	for rows.Next() {
		var (
			name       string
			dataType   string
			maxLen     int
			isNullable string
			dflt       sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &maxLen, &isNullable, &dflt); err != nil {
			return nil, fmt.Errorf("failed to query information_schema.columns: %w", err)
		}
		cols = append(cols, insp.buildColumn(name, dataType, maxLen, isNullable, dflt, pk))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query information_schema.columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}

	return cols, nil
}

func (insp *postgresInspector) IndexExists(ctx context.Context, schema, table, index string) (bool, error) {
	var count int
	err := insp.exec.QueryRowContext(ctx,
		"SELECT count(*) FROM pg_indexes"+
			" WHERE schemaname = "+schemaExpr+" AND tablename = $2 AND indexname = $3",
		schema, table, index,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query pg_indexes: %w", err)
	}
	return count > 0, nil
}

func (insp *postgresInspector) IndexDefinition(ctx context.Context, schema, table, index string) (*tm.Index, error) {
	rows, err := insp.exec.QueryContext(ctx,
		"SELECT a.attname, ix.indisunique"+
			" FROM pg_catalog.pg_index ix"+
			" JOIN pg_catalog.pg_class i ON i.oid = ix.indexrelid"+
			" JOIN pg_catalog.pg_class t ON t.oid = ix.indrelid"+
			" JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace"+
			" JOIN pg_catalog.pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)"+
			" WHERE n.nspname = "+schemaExpr+" AND t.relname = $2 AND i.relname = $3"+
			" ORDER BY array_position(ix.indkey, a.attnum)",
		schema, table, index,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", index, err)
	}
	defer rows.Close()

	def := tm.Index{Name: index, Table: table}
	for rows.Next() {
		var col string
		if err := rows.Scan(&col, &def.Unique); err != nil {
			return nil, fmt.Errorf("failed to query index %s: %w", index, err)
		}
		def.Columns = append(def.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", index, err)
	}
	if len(def.Columns) == 0 {
		return nil, fmt.Errorf("index %s does not exist", index)
	}

	return &def, nil
}

func (insp *postgresInspector) ConstraintExists(ctx context.Context, schema, table, constraint string) (bool, error) {
	var count int
	err := insp.exec.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.table_constraints"+
			" WHERE table_schema = "+schemaExpr+" AND table_name = $2 AND constraint_name = $3",
		schema, table, constraint,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query information_schema.table_constraints: %w", err)
	}
	return count > 0, nil
}

func (insp *postgresInspector) ConstraintDefinition(ctx context.Context, schema, table, constraint string) (*tm.Constraint, error) {
	var conType string
	err := insp.exec.QueryRowContext(ctx,
		"SELECT constraint_type FROM information_schema.table_constraints"+
			" WHERE table_schema = "+schemaExpr+" AND table_name = $2 AND constraint_name = $3",
		schema, table, constraint,
	).Scan(&conType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("constraint %s does not exist", constraint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query information_schema.table_constraints: %w", err)
	}

	def := tm.Constraint{Name: constraint, Table: table}

	switch conType {
	case "UNIQUE", "PRIMARY KEY":
		def.Type = tm.ConstraintUnique
		if conType == "PRIMARY KEY" {
			def.Type = tm.ConstraintPrimaryKey
		}
		def.Columns, err = insp.keyColumns(ctx, schema, table, constraint)
		if err != nil {
			return nil, err
		}

	case "FOREIGN KEY":
		def.Type = tm.ConstraintForeignKey
		def.Columns, err = insp.keyColumns(ctx, schema, table, constraint)
		if err != nil {
			return nil, err
		}
		if err := insp.foreignKeyTarget(ctx, schema, constraint, &def); err != nil {
			return nil, err
		}

	case "CHECK":
		def.Type = tm.ConstraintCheck
		def.Check, err = insp.checkClause(ctx, schema, constraint)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("constraint %s has unknown type %q", constraint, conType)
	}

	return &def, nil
}

// ---

func (insp *postgresInspector) buildColumn(
	name, dataType string, maxLen int, isNullable string, dflt sql.NullString, pk map[string]bool,
) tm.Column {
	col := tm.Column{
		Name:       name,
		Type:       parseType(dataType, maxLen),
		Nullable:   isNullable == "YES",
		PrimaryKey: pk[name],
	}
	if dflt.Valid {
		lit := stripCast(dflt.String)
		col.Default = &lit
	}
	return col
}

func (insp *postgresInspector) primaryKeyColumns(ctx context.Context, schema, table string) (map[string]bool, error) {
	rows, err := insp.exec.QueryContext(ctx,
		"SELECT kcu.column_name"+
			" FROM information_schema.table_constraints tc"+
			" JOIN information_schema.key_column_usage kcu"+
			" ON kcu.constraint_name = tc.constraint_name"+
			" AND kcu.table_schema = tc.table_schema AND kcu.table_name = tc.table_name"+
			" WHERE tc.table_schema = "+schemaExpr+" AND tc.table_name = $2"+
			" AND tc.constraint_type = 'PRIMARY KEY'",
		schema, table,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key of %s: %w", table, err)
	}
	defer rows.Close()

	pk := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("failed to query primary key of %s: %w", table, err)
		}
		pk[col] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query primary key of %s: %w", table, err)
	}

	return pk, nil
}

func (insp *postgresInspector) keyColumns(ctx context.Context, schema, table, constraint string) ([]string, error) {
	rows, err := insp.exec.QueryContext(ctx,
		"SELECT column_name FROM information_schema.key_column_usage"+
			" WHERE table_schema = "+schemaExpr+" AND table_name = $2 AND constraint_name = $3"+
			" ORDER BY ordinal_position",
		schema, table, constraint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query constraint %s: %w", constraint, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("failed to query constraint %s: %w", constraint, err)
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query constraint %s: %w", constraint, err)
	}

	return cols, nil
}

func (insp *postgresInspector) foreignKeyTarget(ctx context.Context, schema, constraint string, def *tm.Constraint) error {
	rows, err := insp.exec.QueryContext(ctx,
		"SELECT rc.delete_rule, rc.update_rule, ccu.table_name, ccu.column_name"+
			" FROM information_schema.referential_constraints rc"+
			" JOIN information_schema.constraint_column_usage ccu"+
			" ON ccu.constraint_name = rc.constraint_name AND ccu.constraint_schema = rc.constraint_schema"+
			" WHERE rc.constraint_schema = "+schemaExpr+" AND rc.constraint_name = $2",
		schema, constraint,
	)
	if err != nil {
		return fmt.Errorf("failed to query constraint %s: %w", constraint, err)
	}
	defer rows.Close()

	for rows.Next() {
		var deleteRule, updateRule, refTable, refColumn string
		if err := rows.Scan(&deleteRule, &updateRule, &refTable, &refColumn); err != nil {
			return fmt.Errorf("failed to query constraint %s: %w", constraint, err)
		}
		def.RefTable = refTable
		def.RefColumns = append(def.RefColumns, refColumn)
		def.OnDelete = normalizeRule(deleteRule)
		def.OnUpdate = normalizeRule(updateRule)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to query constraint %s: %w", constraint, err)
	}
	if def.RefTable == "" {
		return fmt.Errorf("constraint %s does not exist", constraint)
	}

	return nil
}

func (insp *postgresInspector) checkClause(ctx context.Context, schema, constraint string) (string, error) {
	var clause string
	err := insp.exec.QueryRowContext(ctx,
		"SELECT check_clause FROM information_schema.check_constraints"+
			" WHERE constraint_schema = "+schemaExpr+" AND constraint_name = $2",
		schema, constraint,
	).Scan(&clause)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("constraint %s does not exist", constraint)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query constraint %s: %w", constraint, err)
	}
	return stripOuterParens(clause), nil
}

// ---

// normalizeRule drops the implicit referential action so round-tripped
// foreign keys compile without a redundant clause.
func normalizeRule(rule string) string {
	if rule == "NO ACTION" {
		return ""
	}
	return rule
}

// stripCast removes the trailing type cast the server appends to stored
// defaults ('admin'::character varying). Casts buried inside expressions,
// as in nextval('users_id_seq'::regclass), are left alone.
func stripCast(lit string) string {
	idx := strings.LastIndex(lit, "::")
	if idx < 0 {
		return lit
	}
	if strings.ContainsAny(lit[idx+2:], "()'\"") {
		return lit
	}
	return lit[:idx]
}

// stripOuterParens unwraps one enclosing paren pair when it spans the whole
// expression, as stored check clauses do.
func stripOuterParens(expr string) string {
	for len(expr) >= 2 && expr[0] == '(' && expr[len(expr)-1] == ')' {
		depth := 0
		wraps := true
		for i, r := range expr {
			switch r {
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 && i < len(expr)-1 {
				wraps = false
				break
			}
		}
		if !wraps {
			break
		}
		expr = expr[1 : len(expr)-1]
	}
	return expr
}

// parseType maps an information_schema data_type back to the abstract type
// set. Unrecognized types round-trip verbatim as raw types.
func parseType(dataType string, maxLen int) tm.ColumnType {
	switch dataType {
	case "integer", "smallint":
		return tm.Integer()
	case "bigint":
		return tm.BigInt()
	case "double precision", "real":
		return tm.Float()
	case "boolean":
		return tm.Boolean()
	case "text":
		return tm.Text()
	case "character varying":
		if maxLen > 0 {
			return tm.Varchar(maxLen)
		}
		return tm.ColumnType{Name: tm.TypeVarchar}
	case "timestamp without time zone", "timestamp with time zone":
		return tm.Timestamp()
	case "date":
		return tm.Date()
	case "bytea":
		return tm.Blob()
	}
	return tm.RawType(dataType)
}
