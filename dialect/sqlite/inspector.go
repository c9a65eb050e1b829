package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	tm "github.com/eddiethedean/transmutation"
)

// sqliteInspector reads the live schema through sqlite_master and the
// table_info, index_list and index_info pragmas, all evaluated on the bound
// executor so uncommitted DDL in the surrounding transaction is visible.
type sqliteInspector struct {
	exec tm.Executor
}

func (insp *sqliteInspector) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var count int
	err := insp.exec.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT count(*) FROM %ssqlite_master WHERE type = 'table' AND name = ?",
		insp.schemaPrefix(schema),
	), table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query sqlite_master: %w", err)
	}
	return count > 0, nil
}

func (insp *sqliteInspector) ColumnExists(ctx context.Context, schema, table, column string) (bool, error) {
	cols, err := insp.tableInfo(ctx, schema, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if c.Name == column {
			return true, nil
		}
	}
	return false, nil
}

func (insp *sqliteInspector) ColumnDefinition(ctx context.Context, schema, table, column string) (*tm.Column, error) {
	cols, err := insp.tableInfo(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if c.Name == column {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("column %s.%s does not exist", table, column)
}

func (insp *sqliteInspector) TableDefinition(ctx context.Context, schema, table string) ([]tm.Column, error) {
	cols, err := insp.tableInfo(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return cols, nil
}

func (insp *sqliteInspector) IndexExists(ctx context.Context, schema, table, index string) (bool, error) {
	entries, err := insp.indexList(ctx, schema, table)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.name == index {
			return true, nil
		}
	}
	return false, nil
}

func (insp *sqliteInspector) IndexDefinition(ctx context.Context, schema, table, index string) (*tm.Index, error) {
	entries, err := insp.indexList(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.name != index {
			continue
		}
		cols, err := insp.indexColumns(ctx, schema, index)
		if err != nil {
			return nil, err
		}
		return &tm.Index{Name: index, Table: table, Columns: cols, Unique: e.unique}, nil
	}
	return nil, fmt.Errorf("index %s does not exist", index)
}

// ConstraintExists reports unique constraints, which this dialect stores as
// unique indexes. Other constraint flavors cannot be created here and are
// never found.
func (insp *sqliteInspector) ConstraintExists(ctx context.Context, schema, table, constraint string) (bool, error) {
	entries, err := insp.indexList(ctx, schema, table)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.name == constraint && e.unique {
			return true, nil
		}
	}
	return false, nil
}

func (insp *sqliteInspector) ConstraintDefinition(ctx context.Context, schema, table, constraint string) (*tm.Constraint, error) {
	ok, err := insp.ConstraintExists(ctx, schema, table, constraint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("constraint %s does not exist", constraint)
	}

	cols, err := insp.indexColumns(ctx, schema, constraint)
	if err != nil {
		return nil, err
	}
	return &tm.Constraint{
		Name:    constraint,
		Table:   table,
		Type:    tm.ConstraintUnique,
		Columns: cols,
	}, nil
}

// ---

func (insp *sqliteInspector) tableInfo(ctx context.Context, schema, table string) ([]tm.Column, error) {
	rows, err := insp.exec.QueryContext(ctx, fmt.Sprintf(
		"PRAGMA %stable_info(%s)", insp.schemaPrefix(schema), quoteIdent(table),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to query table_info of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []tm.Column
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to query table_info of %s: %w", table, err)
		}

		col := tm.Column{
			Name:       name,
			Type:       parseType(typ),
			Nullable:   notNull == 0 && pk == 0,
			PrimaryKey: pk > 0,
		}
		if dflt.Valid {
			col.Default = &dflt.String
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query table_info of %s: %w", table, err)
	}

	return cols, nil
}

type indexEntry struct {
	name   string
	unique bool
}

func (insp *sqliteInspector) indexList(ctx context.Context, schema, table string) ([]indexEntry, error) {
	rows, err := insp.exec.QueryContext(ctx, fmt.Sprintf(
		"PRAGMA %sindex_list(%s)", insp.schemaPrefix(schema), quoteIdent(table),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to query index_list of %s: %w", table, err)
	}
	defer rows.Close()

	var entries []indexEntry
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, fmt.Errorf("failed to query index_list of %s: %w", table, err)
		}
		entries = append(entries, indexEntry{name: name, unique: unique == 1})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query index_list of %s: %w", table, err)
	}

	return entries, nil
}

func (insp *sqliteInspector) indexColumns(ctx context.Context, schema, index string) ([]string, error) {
	rows, err := insp.exec.QueryContext(ctx, fmt.Sprintf(
		"PRAGMA %sindex_info(%s)", insp.schemaPrefix(schema), quoteIdent(index),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to query index_info of %s: %w", index, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			seqno int
			cid   int
			name  string
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("failed to query index_info of %s: %w", index, err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query index_info of %s: %w", index, err)
	}

	return cols, nil
}

func (insp *sqliteInspector) schemaPrefix(schema string) string {
	if schema == "" {
		return ""
	}
	return quoteIdent(schema) + "."
}

// ---

// parseType maps a declared SQLite column type back to the abstract type
// set. Unrecognized declarations round-trip verbatim as raw types.
func parseType(declared string) tm.ColumnType {
	lower := strings.ToLower(strings.TrimSpace(declared))

	switch {
	case lower == "integer" || lower == "int":
		return tm.Integer()
	case lower == "bigint":
		return tm.BigInt()
	case lower == "real" || lower == "float" || lower == "double":
		return tm.Float()
	case lower == "boolean" || lower == "bool":
		return tm.Boolean()
	case lower == "text":
		return tm.Text()
	case strings.HasPrefix(lower, "varchar"):
		var size int
		if _, err := fmt.Sscanf(lower, "varchar(%d)", &size); err == nil {
			return tm.Varchar(size)
		}
		return tm.ColumnType{Name: tm.TypeVarchar}
	case lower == "timestamp" || lower == "datetime":
		return tm.Timestamp()
	case lower == "date":
		return tm.Date()
	case lower == "blob":
		return tm.Blob()
	}

	return tm.RawType(declared)
}
