package transmutation

import (
	"errors"
	"fmt"
)

// Kind identifies the operation an Alteration performs.
type Kind int

const (
	KindAddColumn Kind = iota
	KindDropColumn
	KindRenameColumn
	KindAlterColumn
	KindCreateTable
	KindDropTable
	KindRenameTable
	KindCopyTable
	KindTruncateTable
	KindCreateIndex
	KindDropIndex
	KindCreateForeignKey
	KindCreateUniqueConstraint
	KindCreateCheckConstraint
	KindDropConstraint
	KindRawSQL
)

func (k Kind) String() string {
	switch k {
	case KindAddColumn:
		return "add_column"
	case KindDropColumn:
		return "drop_column"
	case KindRenameColumn:
		return "rename_column"
	case KindAlterColumn:
		return "alter_column"
	case KindCreateTable:
		return "create_table"
	case KindDropTable:
		return "drop_table"
	case KindRenameTable:
		return "rename_table"
	case KindCopyTable:
		return "copy_table"
	case KindTruncateTable:
		return "truncate_table"
	case KindCreateIndex:
		return "create_index"
	case KindDropIndex:
		return "drop_index"
	case KindCreateForeignKey:
		return "create_foreign_key"
	case KindCreateUniqueConstraint:
		return "create_unique_constraint"
	case KindCreateCheckConstraint:
		return "create_check_constraint"
	case KindDropConstraint:
		return "drop_constraint"
	case KindRawSQL:
		return "raw_sql"
	}
	return "unknown"
}

// ---

// State tracks where an Alteration is in its lifecycle.
type State int

const (
	StatePending State = iota
	StateApplied
	StateReverted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApplied:
		return "applied"
	case StateReverted:
		return "reverted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ---

// Alteration is a single invertible unit of schema change. Build one with the
// constructor for its kind; the payload fields used depend on the kind.
//
// For destructive kinds the engine captures the pre-image from the schema
// inspector into the payload before executing anything, so the inverse can be
// derived afterwards (DropColumn fills Column, DropTable fills Columns,
// DropIndex fills Index, DropConstraint fills Constraint, AlterColumn fills
// PrevColumn). An alteration whose reverse cannot be determined fails before
// any DDL runs.
type Alteration struct {
	Kind   Kind
	Schema string
	Table  string

	Column         *Column
	PrevColumn     *Column
	ColumnName     string
	NewName        string
	Columns        []Column
	WithData       bool
	Index          *Index
	IndexName      string
	Constraint     *Constraint
	ConstraintName string
	SQL            string
	ReverseSQL     string

	state State
}

// State reports the alteration's current lifecycle state.
func (a *Alteration) State() State { return a.state }

// InSchema qualifies the alteration with a schema (database) name and returns
// the alteration for chaining.
func (a *Alteration) InSchema(schema string) *Alteration {
	a.Schema = schema
	return a
}

func (a *Alteration) qualifiedTable() string {
	if a.Schema == "" {
		return a.Table
	}
	return a.Schema + "." + a.Table
}

func (a *Alteration) String() string {
	switch a.Kind {
	case KindAddColumn:
		return fmt.Sprintf("add_column %s.%s", a.qualifiedTable(), a.Column.Name)
	case KindDropColumn:
		return fmt.Sprintf("drop_column %s.%s", a.qualifiedTable(), a.ColumnName)
	case KindRenameColumn:
		return fmt.Sprintf("rename_column %s.%s -> %s", a.qualifiedTable(), a.ColumnName, a.NewName)
	case KindAlterColumn:
		return fmt.Sprintf("alter_column %s.%s", a.qualifiedTable(), a.Column.Name)
	case KindCreateTable:
		return fmt.Sprintf("create_table %s", a.qualifiedTable())
	case KindDropTable:
		return fmt.Sprintf("drop_table %s", a.qualifiedTable())
	case KindRenameTable:
		return fmt.Sprintf("rename_table %s -> %s", a.qualifiedTable(), a.NewName)
	case KindCopyTable:
		return fmt.Sprintf("copy_table %s -> %s", a.qualifiedTable(), a.NewName)
	case KindTruncateTable:
		return fmt.Sprintf("truncate_table %s", a.qualifiedTable())
	case KindCreateIndex:
		return fmt.Sprintf("create_index %s on %s", a.Index.Name, a.qualifiedTable())
	case KindDropIndex:
		return fmt.Sprintf("drop_index %s on %s", a.IndexName, a.qualifiedTable())
	case KindCreateForeignKey:
		return fmt.Sprintf("create_foreign_key %s on %s", a.Constraint.Name, a.qualifiedTable())
	case KindCreateUniqueConstraint:
		return fmt.Sprintf("create_unique_constraint %s on %s", a.Constraint.Name, a.qualifiedTable())
	case KindCreateCheckConstraint:
		return fmt.Sprintf("create_check_constraint %s on %s", a.Constraint.Name, a.qualifiedTable())
	case KindDropConstraint:
		return fmt.Sprintf("drop_constraint %s on %s", a.ConstraintName, a.qualifiedTable())
	case KindRawSQL:
		return "raw_sql"
	}
	return "unknown alteration"
}

// ---
// Constructors, one per kind.

// AddColumn adds column to table.
func AddColumn(table string, column Column) *Alteration {
	return &Alteration{Kind: KindAddColumn, Table: table, Column: &column}
}

// DropColumn drops the named column. The engine captures the column's
// definition before dropping so the operation can be reverted.
func DropColumn(table, column string) *Alteration {
	return &Alteration{Kind: KindDropColumn, Table: table, ColumnName: column}
}

// RenameColumn renames a column from one name to another.
func RenameColumn(table, from, to string) *Alteration {
	return &Alteration{Kind: KindRenameColumn, Table: table, ColumnName: from, NewName: to}
}

// AlterColumn changes an existing column to the given shape. The column is
// addressed by to.Name; its previous shape is captured before the change.
func AlterColumn(table string, to Column) *Alteration {
	return &Alteration{Kind: KindAlterColumn, Table: table, Column: &to}
}

// CreateTable creates a table with the given columns.
func CreateTable(table string, columns ...Column) *Alteration {
	return &Alteration{Kind: KindCreateTable, Table: table, Columns: columns}
}

// DropTable drops a table. The engine captures the table's column definitions
// before dropping so the operation can be reverted.
func DropTable(table string) *Alteration {
	return &Alteration{Kind: KindDropTable, Table: table}
}

// RenameTable renames a table.
func RenameTable(from, to string) *Alteration {
	return &Alteration{Kind: KindRenameTable, Table: from, NewName: to}
}

// CopyTable creates a copy of a table, with its rows when withData is true.
func CopyTable(from, to string, withData bool) *Alteration {
	return &Alteration{Kind: KindCopyTable, Table: from, NewName: to, WithData: withData}
}

// TruncateTable deletes all rows from a table. Its reverse is a no-op: the
// schema is unchanged by truncation and the deleted rows are not restored.
func TruncateTable(table string) *Alteration {
	return &Alteration{Kind: KindTruncateTable, Table: table}
}

// CreateIndex creates an index over the given columns.
func CreateIndex(name, table string, columns ...string) *Alteration {
	return &Alteration{
		Kind:  KindCreateIndex,
		Table: table,
		Index: &Index{Name: name, Table: table, Columns: columns},
	}
}

// CreateUniqueIndex creates a unique index over the given columns.
func CreateUniqueIndex(name, table string, columns ...string) *Alteration {
	return &Alteration{
		Kind:  KindCreateIndex,
		Table: table,
		Index: &Index{Name: name, Table: table, Columns: columns, Unique: true},
	}
}

// DropIndex drops the named index. Table is required because some engines
// address indexes through their table.
func DropIndex(name, table string) *Alteration {
	return &Alteration{Kind: KindDropIndex, Table: table, IndexName: name}
}

// CreateForeignKey adds a named foreign key constraint to table. Set OnDelete
// and OnUpdate on the returned alteration's Constraint if referential actions
// are wanted.
func CreateForeignKey(name, table string, columns []string, refTable string, refColumns []string) *Alteration {
	return &Alteration{
		Kind:  KindCreateForeignKey,
		Table: table,
		Constraint: &Constraint{
			Name:       name,
			Table:      table,
			Type:       ConstraintForeignKey,
			Columns:    columns,
			RefTable:   refTable,
			RefColumns: refColumns,
		},
	}
}

// CreateUniqueConstraint adds a named unique constraint to table.
func CreateUniqueConstraint(name, table string, columns ...string) *Alteration {
	return &Alteration{
		Kind:  KindCreateUniqueConstraint,
		Table: table,
		Constraint: &Constraint{
			Name:    name,
			Table:   table,
			Type:    ConstraintUnique,
			Columns: columns,
		},
	}
}

// CreateCheckConstraint adds a named check constraint to table.
func CreateCheckConstraint(name, table, check string) *Alteration {
	return &Alteration{
		Kind:  KindCreateCheckConstraint,
		Table: table,
		Constraint: &Constraint{
			Name:  name,
			Table: table,
			Type:  ConstraintCheck,
			Check: check,
		},
	}
}

// DropConstraint drops the named constraint. The engine captures the
// constraint's definition before dropping so the operation can be reverted.
func DropConstraint(name, table string) *Alteration {
	return &Alteration{Kind: KindDropConstraint, Table: table, ConstraintName: name}
}

// RawSQL runs forward as given. Because the engine cannot infer an inverse
// for arbitrary SQL, reverse must be supplied as well.
func RawSQL(forward, reverse string) *Alteration {
	return &Alteration{Kind: KindRawSQL, SQL: forward, ReverseSQL: reverse}
}

// ---

// check validates the alteration structurally, before any database contact.
func (a *Alteration) check() error { //nolint:cyclop
	if a.Kind != KindRawSQL && a.Table == "" {
		return errors.New("table name is empty")
	}

	switch a.Kind {
	case KindAddColumn, KindAlterColumn:
		if a.Column == nil || a.Column.Name == "" {
			return errors.New("column is missing a name")
		}
	case KindDropColumn:
		if a.ColumnName == "" {
			return errors.New("column name is empty")
		}
	case KindRenameColumn:
		if a.ColumnName == "" || a.NewName == "" {
			return errors.New("rename requires both an old and a new column name")
		}
	case KindCreateTable:
		if len(a.Columns) == 0 {
			return errors.New("table has no columns")
		}
		for _, c := range a.Columns {
			if c.Name == "" {
				return errors.New("column is missing a name")
			}
		}
	case KindRenameTable, KindCopyTable:
		if a.NewName == "" {
			return errors.New("new table name is empty")
		}
	case KindCreateIndex:
		if a.Index == nil || a.Index.Name == "" {
			return errors.New("index is missing a name")
		}
		if len(a.Index.Columns) == 0 {
			return errors.New("index has no columns")
		}
	case KindDropIndex:
		if a.IndexName == "" {
			return errors.New("index name is empty")
		}
	case KindCreateForeignKey:
		if a.Constraint == nil || a.Constraint.Name == "" {
			return errors.New("constraint is missing a name")
		}
		if len(a.Constraint.Columns) == 0 || a.Constraint.RefTable == "" || len(a.Constraint.RefColumns) == 0 {
			return errors.New("foreign key requires columns, a referenced table and referenced columns")
		}
	case KindCreateUniqueConstraint:
		if a.Constraint == nil || a.Constraint.Name == "" {
			return errors.New("constraint is missing a name")
		}
		if len(a.Constraint.Columns) == 0 {
			return errors.New("unique constraint has no columns")
		}
	case KindCreateCheckConstraint:
		if a.Constraint == nil || a.Constraint.Name == "" {
			return errors.New("constraint is missing a name")
		}
		if a.Constraint.Check == "" {
			return errors.New("check constraint has no expression")
		}
	case KindDropConstraint:
		if a.ConstraintName == "" {
			return errors.New("constraint name is empty")
		}
	case KindRawSQL:
		if a.SQL == "" {
			return errors.New("forward statement is empty")
		}
		if a.ReverseSQL == "" {
			return fmt.Errorf("raw sql has no reverse statement: %w", ErrIrreversible)
		}
	}

	return nil
}

// ---

// Invert derives the inverse alteration. For destructive kinds it relies on
// the pre-image captured during apply and fails with ErrIrreversible when
// that data is absent. A nil, nil return means no inverse DDL is required.
func (a *Alteration) Invert() (*Alteration, error) { //nolint:cyclop
	switch a.Kind {
	case KindAddColumn:
		inv := DropColumn(a.Table, a.Column.Name)
		inv.Schema = a.Schema
		col := *a.Column
		inv.Column = &col
		return inv, nil

	case KindDropColumn:
		if a.Column == nil {
			return nil, fmt.Errorf("cannot invert %s without the dropped column's definition: %w", a, ErrIrreversible)
		}
		inv := AddColumn(a.Table, *a.Column)
		inv.Schema = a.Schema
		return inv, nil

	case KindRenameColumn:
		inv := RenameColumn(a.Table, a.NewName, a.ColumnName)
		inv.Schema = a.Schema
		return inv, nil

	case KindAlterColumn:
		if a.PrevColumn == nil {
			return nil, fmt.Errorf("cannot invert %s without the column's previous definition: %w", a, ErrIrreversible)
		}
		inv := AlterColumn(a.Table, *a.PrevColumn)
		inv.Schema = a.Schema
		cur := *a.Column
		inv.PrevColumn = &cur
		return inv, nil

	case KindCreateTable:
		inv := DropTable(a.Table)
		inv.Schema = a.Schema
		inv.Columns = append([]Column(nil), a.Columns...)
		return inv, nil

	case KindDropTable:
		if len(a.Columns) == 0 {
			return nil, fmt.Errorf("cannot invert %s without the dropped table's definition: %w", a, ErrIrreversible)
		}
		inv := CreateTable(a.Table, a.Columns...)
		inv.Schema = a.Schema
		return inv, nil

	case KindRenameTable:
		inv := RenameTable(a.NewName, a.Table)
		inv.Schema = a.Schema
		return inv, nil

	case KindCopyTable:
		inv := DropTable(a.NewName)
		inv.Schema = a.Schema
		inv.Columns = append([]Column(nil), a.Columns...)
		return inv, nil

	case KindTruncateTable:
		return nil, nil

	case KindCreateIndex:
		inv := DropIndex(a.Index.Name, a.Table)
		inv.Schema = a.Schema
		idx := *a.Index
		inv.Index = &idx
		return inv, nil

	case KindDropIndex:
		if a.Index == nil {
			return nil, fmt.Errorf("cannot invert %s without the dropped index's definition: %w", a, ErrIrreversible)
		}
		inv := &Alteration{Kind: KindCreateIndex, Schema: a.Schema, Table: a.Table}
		idx := *a.Index
		inv.Index = &idx
		return inv, nil

	case KindCreateForeignKey, KindCreateUniqueConstraint, KindCreateCheckConstraint:
		inv := DropConstraint(a.Constraint.Name, a.Table)
		inv.Schema = a.Schema
		con := *a.Constraint
		inv.Constraint = &con
		return inv, nil

	case KindDropConstraint:
		if a.Constraint == nil {
			return nil, fmt.Errorf("cannot invert %s without the dropped constraint's definition: %w", a, ErrIrreversible)
		}
		con := *a.Constraint
		inv := &Alteration{Schema: a.Schema, Table: a.Table, Constraint: &con}
		switch con.Type {
		case ConstraintForeignKey:
			inv.Kind = KindCreateForeignKey
		case ConstraintUnique:
			inv.Kind = KindCreateUniqueConstraint
		case ConstraintCheck:
			inv.Kind = KindCreateCheckConstraint
		default:
			return nil, fmt.Errorf("cannot invert %s: %s constraints cannot be re-created: %w", a, con.Type, ErrIrreversible)
		}
		return inv, nil

	case KindRawSQL:
		if a.ReverseSQL == "" {
			return nil, fmt.Errorf("cannot invert raw sql without a reverse statement: %w", ErrIrreversible)
		}
		return RawSQL(a.ReverseSQL, a.SQL), nil
	}

	return nil, fmt.Errorf("cannot invert unknown alteration kind %d: %w", a.Kind, ErrIrreversible)
}
