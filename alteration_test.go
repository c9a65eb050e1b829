package transmutation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eddiethedean/transmutation"
)

var ( // nolint:gochecknoglobals
	ageColumn = transmutation.Column{
		Name:     "age",
		Type:     transmutation.Integer(),
		Nullable: true,
	}
	nameColumn = transmutation.Column{
		Name:    "name",
		Type:    transmutation.Varchar(100),
		Default: transmutation.Literal("'unknown'"),
	}
	idColumn = transmutation.Column{
		Name:       "id",
		Type:       transmutation.Integer(),
		PrimaryKey: true,
	}

	ageIndex = transmutation.Index{
		Name:    "idx_age",
		Table:   "users",
		Columns: []string{"age"},
	}

	groupFk = transmutation.Constraint{
		Name:       "fk_group",
		Table:      "users",
		Type:       transmutation.ConstraintForeignKey,
		Columns:    []string{"group_id"},
		RefTable:   "groups",
		RefColumns: []string{"id"},
		OnDelete:   "CASCADE",
	}
)

//
// -- Tests for Alteration.Invert() ---------
//

var invertTestsTable = []struct { // nolint:gochecknoglobals
	name        string
	alteration  *transmutation.Alteration
	expected    *transmutation.Alteration
	expectError bool
}{
	// -- success cases: ---
	/* s0 */ {
		name:       "test s0: should invert add_column into drop_column",
		alteration: transmutation.AddColumn("users", ageColumn),
		expected: &transmutation.Alteration{
			Kind:       transmutation.KindDropColumn,
			Table:      "users",
			ColumnName: "age",
			Column:     &ageColumn,
		},
	},
	/* s1 */ {
		name: "test s1: should invert drop_column using the captured definition",
		alteration: &transmutation.Alteration{
			Kind:       transmutation.KindDropColumn,
			Table:      "users",
			ColumnName: "age",
			Column:     &ageColumn,
		},
		expected: transmutation.AddColumn("users", ageColumn),
	},
	/* s2 */ {
		name:       "test s2: should invert rename_column by swapping names",
		alteration: transmutation.RenameColumn("users", "login", "username"),
		expected:   transmutation.RenameColumn("users", "username", "login"),
	},
	/* s3 */ {
		name: "test s3: should invert alter_column using the previous definition",
		alteration: &transmutation.Alteration{
			Kind:       transmutation.KindAlterColumn,
			Table:      "users",
			Column:     &nameColumn,
			PrevColumn: &ageColumn,
		},
		expected: &transmutation.Alteration{
			Kind:       transmutation.KindAlterColumn,
			Table:      "users",
			Column:     &ageColumn,
			PrevColumn: &nameColumn,
		},
	},
	/* s4 */ {
		name:       "test s4: should invert create_table into drop_table",
		alteration: transmutation.CreateTable("users", idColumn, ageColumn),
		expected: &transmutation.Alteration{
			Kind:    transmutation.KindDropTable,
			Table:   "users",
			Columns: []transmutation.Column{idColumn, ageColumn},
		},
	},
	/* s5 */ {
		name: "test s5: should invert drop_table using the captured definition",
		alteration: &transmutation.Alteration{
			Kind:    transmutation.KindDropTable,
			Table:   "users",
			Columns: []transmutation.Column{idColumn, ageColumn},
		},
		expected: transmutation.CreateTable("users", idColumn, ageColumn),
	},
	/* s6 */ {
		name:       "test s6: should invert rename_table by swapping names",
		alteration: transmutation.RenameTable("users", "people"),
		expected:   transmutation.RenameTable("people", "users"),
	},
	/* s7 */ {
		name: "test s7: should invert copy_table into drop_table of the copy",
		alteration: &transmutation.Alteration{
			Kind:     transmutation.KindCopyTable,
			Table:    "users",
			NewName:  "users_backup",
			WithData: true,
			Columns:  []transmutation.Column{idColumn},
		},
		expected: &transmutation.Alteration{
			Kind:    transmutation.KindDropTable,
			Table:   "users_backup",
			Columns: []transmutation.Column{idColumn},
		},
	},
	/* s8 */ {
		name:       "test s8: should invert truncate_table into nothing",
		alteration: transmutation.TruncateTable("users"),
		expected:   nil,
	},
	/* s9 */ {
		name:       "test s9: should invert create_index into drop_index",
		alteration: transmutation.CreateIndex("idx_age", "users", "age"),
		expected: &transmutation.Alteration{
			Kind:      transmutation.KindDropIndex,
			Table:     "users",
			IndexName: "idx_age",
			Index:     &ageIndex,
		},
	},
	/* s10 */ {
		name: "test s10: should invert drop_index using the captured definition",
		alteration: &transmutation.Alteration{
			Kind:      transmutation.KindDropIndex,
			Table:     "users",
			IndexName: "idx_age",
			Index:     &ageIndex,
		},
		expected: &transmutation.Alteration{
			Kind:  transmutation.KindCreateIndex,
			Table: "users",
			Index: &ageIndex,
		},
	},
	/* s11 */ {
		name:       "test s11: should invert create_unique_constraint into drop_constraint",
		alteration: transmutation.CreateUniqueConstraint("uq_age", "users", "age"),
		expected: &transmutation.Alteration{
			Kind:           transmutation.KindDropConstraint,
			Table:          "users",
			ConstraintName: "uq_age",
			Constraint: &transmutation.Constraint{
				Name:    "uq_age",
				Table:   "users",
				Type:    transmutation.ConstraintUnique,
				Columns: []string{"age"},
			},
		},
	},
	/* s12 */ {
		name: "test s12: should invert drop_constraint of a foreign key using the captured definition",
		alteration: &transmutation.Alteration{
			Kind:           transmutation.KindDropConstraint,
			Table:          "users",
			ConstraintName: "fk_group",
			Constraint:     &groupFk,
		},
		expected: &transmutation.Alteration{
			Kind:       transmutation.KindCreateForeignKey,
			Table:      "users",
			Constraint: &groupFk,
		},
	},
	/* s13 */ {
		name:       "test s13: should invert raw sql by swapping statements",
		alteration: transmutation.RawSQL("UPDATE users SET age = 1", "UPDATE users SET age = NULL"),
		expected:   transmutation.RawSQL("UPDATE users SET age = NULL", "UPDATE users SET age = 1"),
	},
	/* s14 */ {
		name:       "test s14: should carry the schema onto the inverse",
		alteration: transmutation.RenameTable("users", "people").InSchema("app"),
		expected:   transmutation.RenameTable("people", "users").InSchema("app"),
	},

	// -- error cases: -----
	/* e0 */ {
		name:        "test e0: should refuse to invert drop_column without a captured definition",
		alteration:  transmutation.DropColumn("users", "age"),
		expectError: true,
	},
	/* e1 */ {
		name:        "test e1: should refuse to invert drop_table without a captured definition",
		alteration:  transmutation.DropTable("users"),
		expectError: true,
	},
	/* e2 */ {
		name:        "test e2: should refuse to invert drop_index without a captured definition",
		alteration:  transmutation.DropIndex("idx_age", "users"),
		expectError: true,
	},
	/* e3 */ {
		name:        "test e3: should refuse to invert drop_constraint without a captured definition",
		alteration:  transmutation.DropConstraint("uq_age", "users"),
		expectError: true,
	},
	/* e4 */ {
		name: "test e4: should refuse to invert alter_column without the previous definition",
		alteration: &transmutation.Alteration{
			Kind:   transmutation.KindAlterColumn,
			Table:  "users",
			Column: &ageColumn,
		},
		expectError: true,
	},
	/* e5 */ {
		name: "test e5: should refuse to re-create a dropped primary key",
		alteration: &transmutation.Alteration{
			Kind:           transmutation.KindDropConstraint,
			Table:          "users",
			ConstraintName: "pk",
			Constraint: &transmutation.Constraint{
				Name:    "pk",
				Table:   "users",
				Type:    transmutation.ConstraintPrimaryKey,
				Columns: []string{"id"},
			},
		},
		expectError: true,
	},
}

func TestInvert(t *testing.T) {
	t.Parallel()
	t.Logf("Should derive the inverse of every reversible alteration.")

	for _, test := range invertTestsTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			inverse, err := test.alteration.Invert()

			if test.expectError {
				assert.Error(t, err)
				assert.ErrorIs(t, err, transmutation.ErrIrreversible)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, inverse, test.expected)
			}
		})
	}
}

//
// -- Tests for Alteration.String() ---------
//

var stringTestsTable = []struct { // nolint:gochecknoglobals
	name       string
	alteration *transmutation.Alteration
	expected   string
}{
	/* s0 */ {
		name:       "test s0: should describe add_column",
		alteration: transmutation.AddColumn("users", ageColumn),
		expected:   "add_column users.age",
	},
	/* s1 */ {
		name:       "test s1: should describe drop_column with its schema",
		alteration: transmutation.DropColumn("users", "age").InSchema("app"),
		expected:   "drop_column app.users.age",
	},
	/* s2 */ {
		name:       "test s2: should describe rename_column",
		alteration: transmutation.RenameColumn("users", "login", "username"),
		expected:   "rename_column users.login -> username",
	},
	/* s3 */ {
		name:       "test s3: should describe copy_table",
		alteration: transmutation.CopyTable("users", "users_backup", true),
		expected:   "copy_table users -> users_backup",
	},
	/* s4 */ {
		name:       "test s4: should describe create_index",
		alteration: transmutation.CreateIndex("idx_age", "users", "age"),
		expected:   "create_index idx_age on users",
	},
	/* s5 */ {
		name:       "test s5: should describe drop_constraint",
		alteration: transmutation.DropConstraint("uq_age", "users"),
		expected:   "drop_constraint uq_age on users",
	},
	/* s6 */ {
		name:       "test s6: should describe raw sql",
		alteration: transmutation.RawSQL("SELECT 1", "SELECT 2"),
		expected:   "raw_sql",
	},
}

func TestAlterationString(t *testing.T) {
	t.Parallel()

	for _, test := range stringTestsTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, test.alteration.String(), test.expected)
		})
	}
}

//
// -- Tests for alteration state ------------
//

func TestNewAlterationIsPending(t *testing.T) {
	t.Parallel()

	alt := transmutation.AddColumn("users", ageColumn)
	assert.Equal(t, alt.State(), transmutation.StatePending)
}
