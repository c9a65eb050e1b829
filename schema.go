package transmutation

import "fmt"

// TypeName enumerates the abstract column types the engine understands.
// Dialects translate them to and from engine-specific type names.
type TypeName int

const (
	TypeInteger TypeName = iota
	TypeBigInt
	TypeFloat
	TypeBoolean
	TypeText
	TypeVarchar
	TypeTimestamp
	TypeDate
	TypeBlob
	TypeRaw
)

func (t TypeName) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeBoolean:
		return "boolean"
	case TypeText:
		return "text"
	case TypeVarchar:
		return "varchar"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeBlob:
		return "blob"
	case TypeRaw:
		return "raw"
	}
	return "unknown"
}

// ---

// ColumnType describes a column type abstractly. Size carries the length for
// Varchar. Raw, when set, is an engine-specific type emitted verbatim.
type ColumnType struct {
	Name TypeName
	Size int
	Raw  string
}

func (t ColumnType) String() string {
	if t.Name == TypeRaw {
		return t.Raw
	}
	if t.Name == TypeVarchar && t.Size > 0 {
		return fmt.Sprintf("varchar(%d)", t.Size)
	}
	return t.Name.String()
}

func Integer() ColumnType   { return ColumnType{Name: TypeInteger} }
func BigInt() ColumnType    { return ColumnType{Name: TypeBigInt} }
func Float() ColumnType     { return ColumnType{Name: TypeFloat} }
func Boolean() ColumnType   { return ColumnType{Name: TypeBoolean} }
func Text() ColumnType      { return ColumnType{Name: TypeText} }
func Timestamp() ColumnType { return ColumnType{Name: TypeTimestamp} }
func Date() ColumnType      { return ColumnType{Name: TypeDate} }
func Blob() ColumnType      { return ColumnType{Name: TypeBlob} }

// Varchar returns a variable-length string type of the given size.
func Varchar(size int) ColumnType { return ColumnType{Name: TypeVarchar, Size: size} }

// RawType returns a type emitted verbatim, for engine types the abstract set
// does not cover ("JSONB", "DECIMAL(10,2)", ...).
func RawType(raw string) ColumnType { return ColumnType{Name: TypeRaw, Raw: raw} }

// ---

// Column describes the shape of one table column. Default is a SQL literal
// rendered verbatim into DDL; nil means no default.
type Column struct {
	Name       string
	Type       ColumnType
	Nullable   bool
	Default    *string
	PrimaryKey bool
}

// Literal returns a pointer to s, for use as a column default.
func Literal(s string) *string { return &s }

// ---

// Index describes a secondary index.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// ---

// ConstraintType enumerates the table constraint flavors the engine can
// create, drop and introspect.
type ConstraintType int

const (
	ConstraintForeignKey ConstraintType = iota
	ConstraintUnique
	ConstraintCheck
	ConstraintPrimaryKey
)

func (t ConstraintType) String() string {
	switch t {
	case ConstraintForeignKey:
		return "foreign key"
	case ConstraintUnique:
		return "unique"
	case ConstraintCheck:
		return "check"
	case ConstraintPrimaryKey:
		return "primary key"
	}
	return "unknown"
}

// Constraint describes a table constraint. Columns, RefTable, RefColumns,
// OnDelete and OnUpdate apply to foreign keys; Columns to unique and primary
// key constraints; Check to check constraints.
type Constraint struct {
	Name       string
	Table      string
	Type       ConstraintType
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   string
	OnUpdate   string
	Check      string
}
