package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	tm "github.com/eddiethedean/transmutation"
)

// schemaExpr resolves the schema argument in SQL: an empty string falls back
// to the connection's current database.
const schemaExpr = "COALESCE(NULLIF(?, ''), DATABASE())"

// mysqlInspector reads the live schema through information_schema on the
// bound executor. MySQL and MariaDB expose the same tables with small
// differences in how defaults are stored, normalized in renderDefault.
type mysqlInspector struct {
	exec tm.Executor
}

func (insp *mysqlInspector) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var count int
	err := insp.exec.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.TABLES"+
			" WHERE TABLE_SCHEMA = "+schemaExpr+" AND TABLE_NAME = ?",
		schema, table,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query information_schema.TABLES: %w", err)
	}
	return count > 0, nil
}

func (insp *mysqlInspector) ColumnExists(ctx context.Context, schema, table, column string) (bool, error) {
	var count int
	err := insp.exec.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.COLUMNS"+
			" WHERE TABLE_SCHEMA = "+schemaExpr+" AND TABLE_NAME = ? AND COLUMN_NAME = ?",
		schema, table, column,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query information_schema.COLUMNS: %w", err)
	}
	return count > 0, nil
}

func (insp *mysqlInspector) ColumnDefinition(ctx context.Context, schema, table, column string) (*tm.Column, error) {
	var (
		name       string
		dataType   string
		columnType string
		maxLen     int
		isNullable string
		dflt       sql.NullString
		columnKey  string
	)
	err := insp.exec.QueryRowContext(ctx,
		"SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, COALESCE(CHARACTER_MAXIMUM_LENGTH, 0),"+
			" IS_NULLABLE, COLUMN_DEFAULT, COLUMN_KEY"+
			" FROM information_schema.COLUMNS"+
			" WHERE TABLE_SCHEMA = "+schemaExpr+" AND TABLE_NAME = ? AND COLUMN_NAME = ?",
		schema, table, column,
	).Scan(&name, &dataType, &columnType, &maxLen, &isNullable, &dflt, &columnKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("column %s.%s does not exist", table, column)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query information_schema.COLUMNS: %w", err)
	}

	col := buildColumn(name, dataType, columnType, maxLen, isNullable, dflt, columnKey)
	return &col, nil
}

func (insp *mysqlInspector) TableDefinition(ctx context.Context, schema, table string) ([]tm.Column, error) {
	rows, err := insp.exec.QueryContext(ctx,
		"SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, COALESCE(CHARACTER_MAXIMUM_LENGTH, 0),"+
			" IS_NULLABLE, COLUMN_DEFAULT, COLUMN_KEY"+
			" FROM information_schema.COLUMNS"+
			" WHERE TABLE_SCHEMA = "+schemaExpr+" AND TABLE_NAME = ?"+
			" ORDER BY ORDINAL_POSITION",
		schema, table,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query information_schema.COLUMNS: %w", err)
	}
	defer rows.Close()

	var cols []tm.Column
	for rows.Next() {
		var (
			name       string
			dataType   string
			columnType string
			maxLen     int
			isNullable string
			dflt       sql.NullString
			columnKey  string
		)
		if err := rows.Scan(&name, &dataType, &columnType, &maxLen, &isNullable, &dflt, &columnKey); err != nil {
			return nil, fmt.Errorf("failed to query information_schema.COLUMNS: %w", err)
		}
		cols = append(cols, buildColumn(name, dataType, columnType, maxLen, isNullable, dflt, columnKey))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query information_schema.COLUMNS: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}

	return cols, nil
}

func (insp *mysqlInspector) IndexExists(ctx context.Context, schema, table, index string) (bool, error) {
	var count int
	err := insp.exec.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.STATISTICS"+
			" WHERE TABLE_SCHEMA = "+schemaExpr+" AND TABLE_NAME = ? AND INDEX_NAME = ?",
		schema, table, index,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query information_schema.STATISTICS: %w", err)
	}
	return count > 0, nil
}

func (insp *mysqlInspector) IndexDefinition(ctx context.Context, schema, table, index string) (*tm.Index, error) {
	rows, err := insp.exec.QueryContext(ctx,
		"SELECT COLUMN_NAME, NON_UNIQUE FROM information_schema.STATISTICS"+
			" WHERE TABLE_SCHEMA = "+schemaExpr+" AND TABLE_NAME = ? AND INDEX_NAME = ?"+
			" ORDER BY SEQ_IN_INDEX",
		schema, table, index,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", index, err)
	}
	defer rows.Close()

	def := tm.Index{Name: index, Table: table}
	for rows.Next() {
		var (
			col       string
			nonUnique int
		)
		if err := rows.Scan(&col, &nonUnique); err != nil {
			return nil, fmt.Errorf("failed to query index %s: %w", index, err)
		}
		def.Columns = append(def.Columns, col)
		def.Unique = nonUnique == 0
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", index, err)
	}
	if len(def.Columns) == 0 {
		return nil, fmt.Errorf("index %s does not exist", index)
	}

	return &def, nil
}

func (insp *mysqlInspector) ConstraintExists(ctx context.Context, schema, table, constraint string) (bool, error) {
	var count int
	err := insp.exec.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.TABLE_CONSTRAINTS"+
			" WHERE CONSTRAINT_SCHEMA = "+schemaExpr+" AND TABLE_NAME = ? AND CONSTRAINT_NAME = ?",
		schema, table, constraint,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query information_schema.TABLE_CONSTRAINTS: %w", err)
	}
	return count > 0, nil
}

func (insp *mysqlInspector) ConstraintDefinition(ctx context.Context, schema, table, constraint string) (*tm.Constraint, error) {
	var conType string
	err := insp.exec.QueryRowContext(ctx,
		"SELECT CONSTRAINT_TYPE FROM information_schema.TABLE_CONSTRAINTS"+
			" WHERE CONSTRAINT_SCHEMA = "+schemaExpr+" AND TABLE_NAME = ? AND CONSTRAINT_NAME = ?",
		schema, table, constraint,
	).Scan(&conType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("constraint %s does not exist", constraint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query information_schema.TABLE_CONSTRAINTS: %w", err)
	}

	def := tm.Constraint{Name: constraint, Table: table}

	switch conType {
	case "UNIQUE", "PRIMARY KEY":
		def.Type = tm.ConstraintUnique
		if conType == "PRIMARY KEY" {
			def.Type = tm.ConstraintPrimaryKey
		}
		if err := insp.keyColumns(ctx, schema, table, constraint, &def); err != nil {
			return nil, err
		}

	case "FOREIGN KEY":
		def.Type = tm.ConstraintForeignKey
		if err := insp.keyColumns(ctx, schema, table, constraint, &def); err != nil {
			return nil, err
		}
		if err := insp.referentialRules(ctx, schema, constraint, &def); err != nil {
			return nil, err
		}

	case "CHECK":
		def.Type = tm.ConstraintCheck
		clause, err := insp.checkClause(ctx, schema, constraint)
		if err != nil {
			return nil, err
		}
		def.Check = clause

	default:
		return nil, fmt.Errorf("constraint %s has unknown type %q", constraint, conType)
	}

	return &def, nil
}

// ---

// keyColumns fills the constraint's own columns and, for foreign keys, the
// referenced table and columns, which MySQL exposes on the same rows.
func (insp *mysqlInspector) keyColumns(ctx context.Context, schema, table, constraint string, def *tm.Constraint) error {
	rows, err := insp.exec.QueryContext(ctx,
		"SELECT COLUMN_NAME, COALESCE(REFERENCED_TABLE_NAME, ''), COALESCE(REFERENCED_COLUMN_NAME, '')"+
			" FROM information_schema.KEY_COLUMN_USAGE"+
			" WHERE CONSTRAINT_SCHEMA = "+schemaExpr+" AND TABLE_NAME = ? AND CONSTRAINT_NAME = ?"+
			" ORDER BY ORDINAL_POSITION",
		schema, table, constraint,
	)
	if err != nil {
		return fmt.Errorf("failed to query constraint %s: %w", constraint, err)
	}
	defer rows.Close()

	for rows.Next() {
		var col, refTable, refCol string
		if err := rows.Scan(&col, &refTable, &refCol); err != nil {
			return fmt.Errorf("failed to query constraint %s: %w", constraint, err)
		}
		def.Columns = append(def.Columns, col)
		if refTable != "" {
			def.RefTable = refTable
			def.RefColumns = append(def.RefColumns, refCol)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to query constraint %s: %w", constraint, err)
	}
	if len(def.Columns) == 0 {
		return fmt.Errorf("constraint %s does not exist", constraint)
	}

	return nil
}

func (insp *mysqlInspector) referentialRules(ctx context.Context, schema, constraint string, def *tm.Constraint) error {
	var deleteRule, updateRule string
	err := insp.exec.QueryRowContext(ctx,
		"SELECT DELETE_RULE, UPDATE_RULE FROM information_schema.REFERENTIAL_CONSTRAINTS"+
			" WHERE CONSTRAINT_SCHEMA = "+schemaExpr+" AND CONSTRAINT_NAME = ?",
		schema, constraint,
	).Scan(&deleteRule, &updateRule)
	if err != nil {
		return fmt.Errorf("failed to query constraint %s: %w", constraint, err)
	}

	def.OnDelete = normalizeRule(deleteRule)
	def.OnUpdate = normalizeRule(updateRule)
	return nil
}

func (insp *mysqlInspector) checkClause(ctx context.Context, schema, constraint string) (string, error) {
	var clause string
	err := insp.exec.QueryRowContext(ctx,
		"SELECT CHECK_CLAUSE FROM information_schema.CHECK_CONSTRAINTS"+
			" WHERE CONSTRAINT_SCHEMA = "+schemaExpr+" AND CONSTRAINT_NAME = ?",
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

func buildColumn(
	name, dataType, columnType string, maxLen int, isNullable string, dflt sql.NullString, columnKey string,
) tm.Column {
	col := tm.Column{
		Name:       name,
		Type:       parseType(dataType, columnType, maxLen),
		Nullable:   isNullable == "YES",
		PrimaryKey: columnKey == "PRI",
	}
	if dflt.Valid && !strings.EqualFold(dflt.String, "NULL") {
		lit := renderDefault(dataType, dflt.String)
		col.Default = &lit
	}
	return col
}

// renderDefault turns a stored COLUMN_DEFAULT back into a SQL literal. MySQL
// stores string defaults bare (admin), MariaDB stores them pre-quoted
// ('admin'); expression defaults pass through.
func renderDefault(dataType, dflt string) string {
	if strings.HasPrefix(dflt, "'") {
		return dflt
	}
	if strings.HasPrefix(strings.ToUpper(dflt), "CURRENT_TIMESTAMP") {
		return dflt
	}

	switch dataType {
	case "char", "varchar", "text", "tinytext", "mediumtext", "longtext",
		"enum", "set", "datetime", "timestamp", "date", "time":
		return "'" + escapeString(dflt) + "'"
	}
	return dflt
}

// normalizeRule drops the implicit referential action so round-tripped
// foreign keys compile without a redundant clause. MariaDB reports it as
// RESTRICT, MySQL as NO ACTION.
func normalizeRule(rule string) string {
	if rule == "NO ACTION" || rule == "RESTRICT" {
		return ""
	}
	return rule
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

// parseType maps an information_schema column type back to the abstract type
// set. COLUMN_TYPE disambiguates tinyint(1), the boolean convention; other
// unrecognized types round-trip verbatim through it.
func parseType(dataType, columnType string, maxLen int) tm.ColumnType {
	if columnType == "tinyint(1)" {
		return tm.Boolean()
	}

	switch dataType {
	case "int", "smallint", "mediumint", "tinyint":
		return tm.Integer()
	case "bigint":
		return tm.BigInt()
	case "double", "float", "real":
		return tm.Float()
	case "text", "tinytext", "mediumtext", "longtext":
		return tm.Text()
	case "varchar":
		if maxLen > 0 {
			return tm.Varchar(maxLen)
		}
		return tm.ColumnType{Name: tm.TypeVarchar}
	case "datetime", "timestamp":
		return tm.Timestamp()
	case "date":
		return tm.Date()
	case "blob", "tinyblob", "mediumblob", "longblob":
		return tm.Blob()
	}
	return tm.RawType(columnType)
}

// originally from https://gist.github.com/siddontang/8875771
func escapeString(sql string) string { //nolint:cyclop
	const prealloc = 2
	dest := make([]rune, 0, prealloc*len(sql))

	for _, character := range sql {
		var escape rune

		switch character {
		case 0:
			escape = '0'
		case '\n':
			escape = 'n'
		case '\r':
			escape = 'r'
		case '\\':
			escape = '\\'
		case '\'':
			escape = '\''
		case '"':
			escape = '"'
		case '\032':
			escape = 'Z'
		}

		if escape != 0 {
			dest = append(dest, '\\', escape)
		} else {
			dest = append(dest, character)
		}
	}

	return string(dest)
}
