package transmutation_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	_ "modernc.org/sqlite"

	"github.com/eddiethedean/transmutation"
	"github.com/eddiethedean/transmutation/dialect/sqlite"
)

// openTestDB opens an in-memory database. The pool is capped at one
// connection so every scope the migration acquires sees the same memory
// database.
func openTestDB(t *testing.T, fixture ...string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %s", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range fixture {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to initialize test database: %s", err)
		}
	}

	return db
}

// recordingDialect wraps a real dialect and records every statement that
// executed successfully, so tests can assert what ran and in which order.
type recordingDialect struct {
	transmutation.Dialect
	executed []string
}

func (d *recordingDialect) Execute(ctx context.Context, exec transmutation.Executor, stmt string) error {
	if err := d.Dialect.Execute(ctx, exec, stmt); err != nil {
		return err
	}
	d.executed = append(d.executed, stmt)
	return nil
}

// cancellingDialect cancels the caller's context the moment the trigger
// statement comes up and then fails it with the context error. Statements
// running under a detached context are unaffected and delegate as usual.
type cancellingDialect struct {
	transmutation.Dialect
	cancel  context.CancelFunc
	trigger string
}

func (d *cancellingDialect) Execute(ctx context.Context, exec transmutation.Executor, stmt string) error {
	if strings.Contains(stmt, d.trigger) {
		d.cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.Dialect.Execute(ctx, exec, stmt)
}

var usersFixture = []string{ // nolint:gochecknoglobals
	`CREATE TABLE "users" ("id" integer PRIMARY KEY, "name" varchar(20), "address_id" integer)`,
	`INSERT INTO "users" ("id", "name", "address_id") VALUES (1, 'Olivia', 10), (2, 'Liam', 11)`,
}

// fingerprint captures everything the round-trip tests compare: the names of
// all tables and indexes, and the inspected definition of every table.
type fingerprint struct {
	objects []string
	tables  map[string][]transmutation.Column
}

func takeFingerprint(t *testing.T, db *sql.DB) fingerprint {
	t.Helper()

	rows, err := db.Query(
		"SELECT type, name, tbl_name FROM sqlite_master WHERE name NOT LIKE 'sqlite_%' ORDER BY type, name",
	)
	if err != nil {
		t.Fatalf("failed to read sqlite_master: %s", err)
	}
	defer rows.Close()

	fp := fingerprint{tables: map[string][]transmutation.Column{}}
	var tables []string
	for rows.Next() {
		var typ, name, tbl string
		if err := rows.Scan(&typ, &name, &tbl); err != nil {
			t.Fatalf("failed to read sqlite_master: %s", err)
		}
		fp.objects = append(fp.objects, typ+" "+name+" on "+tbl)
		if typ == "table" {
			tables = append(tables, name)
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("failed to read sqlite_master: %s", err)
	}

	insp := sqlite.New().Inspector(db)
	for _, table := range tables {
		cols, err := insp.TableDefinition(context.Background(), "", table)
		if err != nil {
			t.Fatalf("failed to inspect table %s: %s", table, err)
		}
		fp.tables[table] = cols
	}

	return fp
}

//
// -- Tests for the migration lifecycle -----
//

func TestNewMigrationIsIdle(t *testing.T) {
	t.Parallel()

	m := transmutation.New(openTestDB(t), sqlite.New())

	assert.NotEmpty(t, m.ID())
	assert.Equal(t, transmutation.StatusIdle, m.Status())
	assert.Equal(t, 0, m.Alterations())
	assert.Equal(t, 0, m.PendingCount())
	assert.Equal(t, 0, m.AppliedCount())
}

var addRejectionTestsTable = []struct { // nolint:gochecknoglobals
	name       string
	alteration *transmutation.Alteration
	sentinel   error
}{
	/* e0 */ {
		name:       "test e0: should reject an alteration without a table name",
		alteration: transmutation.DropColumn("", "age"),
	},
	/* e1 */ {
		name:       "test e1: should reject raw sql without a reverse statement",
		alteration: transmutation.RawSQL("DROP TRIGGER audit", ""),
		sentinel:   transmutation.ErrIrreversible,
	},
	/* e2 */ {
		name:       "test e2: should reject a kind the dialect cannot express",
		alteration: transmutation.AlterColumn("users", transmutation.Column{Name: "name", Type: transmutation.Text()}),
		sentinel:   transmutation.ErrUnsupported,
	},
}

func TestAddRejectsInvalidAlterations(t *testing.T) {
	t.Parallel()

	for _, test := range addRejectionTestsTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			m := transmutation.New(openTestDB(t), sqlite.New())

			err := m.Add(test.alteration)

			var verr *transmutation.ValidationError
			assert.ErrorAs(t, err, &verr)
			if test.sentinel != nil {
				assert.ErrorIs(t, err, test.sentinel)
			}
			assert.Equal(t, 0, m.Alterations(), "a rejected alteration must not be enqueued")
		})
	}
}

func TestLifecycleMisuse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("should reject upgrading an empty migration", func(t *testing.T) {
		t.Parallel()

		m := transmutation.New(openTestDB(t), sqlite.New())
		assert.ErrorIs(t, m.Upgrade(ctx), transmutation.ErrNoAlterations)
	})

	t.Run("should reject a downgrade without a completed upgrade", func(t *testing.T) {
		t.Parallel()

		m := transmutation.New(openTestDB(t), sqlite.New())
		assert.ErrorIs(t, m.Downgrade(ctx), transmutation.ErrNotUpgraded)
	})

	t.Run("should reject adding and upgrading after a completed upgrade", func(t *testing.T) {
		t.Parallel()

		m := transmutation.New(openTestDB(t, usersFixture...), sqlite.New())
		assert.NoError(t, m.AddColumn("users", ageColumn))
		assert.NoError(t, m.Upgrade(ctx))

		assert.ErrorIs(t, m.AddColumn("users", nameColumn), transmutation.ErrNotIdle)
		assert.ErrorIs(t, m.Upgrade(ctx), transmutation.ErrNotIdle)
	})

	t.Run("should reject a second downgrade", func(t *testing.T) {
		t.Parallel()

		m := transmutation.New(openTestDB(t, usersFixture...), sqlite.New())
		assert.NoError(t, m.AddColumn("users", ageColumn))
		assert.NoError(t, m.Upgrade(ctx))
		assert.NoError(t, m.Downgrade(ctx))

		assert.ErrorIs(t, m.Downgrade(ctx), transmutation.ErrNotUpgraded)
	})

	t.Run("should reject reuse after a failed upgrade", func(t *testing.T) {
		t.Parallel()

		m := transmutation.New(openTestDB(t, usersFixture...), sqlite.New())
		assert.NoError(t, m.ExecuteSQL("INSERT INTO missing (x) VALUES (1)", "SELECT 1"))
		assert.Error(t, m.Upgrade(ctx))

		assert.Equal(t, transmutation.StatusFailed, m.Status())
		assert.ErrorIs(t, m.Upgrade(ctx), transmutation.ErrNotIdle)
		assert.ErrorIs(t, m.Downgrade(ctx), transmutation.ErrNotUpgraded)
	})
}

func TestUpgradeThenDowngrade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t, usersFixture...)
	m := transmutation.New(db, sqlite.New())

	assert.NoError(t, m.AddColumn("users", ageColumn))
	assert.NoError(t, m.Add(transmutation.CreateIndex("idx_age", "users", "age")))
	assert.Equal(t, 2, m.PendingCount())

	assert.NoError(t, m.Upgrade(ctx))
	assert.Equal(t, transmutation.StatusCompleted, m.Status())
	assert.Equal(t, 2, m.AppliedCount())
	assert.Equal(t, 0, m.PendingCount())

	insp := sqlite.New().Inspector(db)
	ok, err := insp.ColumnExists(ctx, "", "users", "age")
	assert.NoError(t, err)
	assert.True(t, ok, "upgrade must add the column")
	ok, err = insp.IndexExists(ctx, "", "users", "idx_age")
	assert.NoError(t, err)
	assert.True(t, ok, "upgrade must create the index")

	assert.NoError(t, m.Downgrade(ctx))
	assert.Equal(t, transmutation.StatusCompleted, m.Status())
	assert.Equal(t, 0, m.AppliedCount())

	ok, err = insp.ColumnExists(ctx, "", "users", "age")
	assert.NoError(t, err)
	assert.False(t, ok, "downgrade must drop the column")
	ok, err = insp.IndexExists(ctx, "", "users", "idx_age")
	assert.NoError(t, err)
	assert.False(t, ok, "downgrade must drop the index")
}

func TestExecuteSQLRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t, usersFixture...)
	m := transmutation.New(db, sqlite.New())

	assert.NoError(t, m.ExecuteSQL(
		`INSERT INTO "users" ("id", "name", "address_id") VALUES (3, 'Emma', 12)`,
		`DELETE FROM "users" WHERE "id" = 3`,
	))

	assert.NoError(t, m.Upgrade(ctx))

	var count int
	assert.NoError(t, db.QueryRow(`SELECT count(*) FROM "users"`).Scan(&count))
	assert.Equal(t, 3, count)

	assert.NoError(t, m.Downgrade(ctx))

	assert.NoError(t, db.QueryRow(`SELECT count(*) FROM "users"`).Scan(&count))
	assert.Equal(t, 2, count)
}

//
// -- Round-trip per alteration kind --------
//

var roundTripTestsTable = []struct { // nolint:gochecknoglobals
	name       string
	fixture    []string
	alteration *transmutation.Alteration
}{
	/* s0 */ {
		name:       "test s0: add_column",
		fixture:    usersFixture,
		alteration: transmutation.AddColumn("users", ageColumn),
	},
	/* s1 */ {
		name:       "test s1: drop_column",
		fixture:    usersFixture,
		alteration: transmutation.DropColumn("users", "address_id"),
	},
	/* s2 */ {
		name:       "test s2: rename_column",
		fixture:    usersFixture,
		alteration: transmutation.RenameColumn("users", "name", "full_name"),
	},
	/* s3 */ {
		name:       "test s3: create_table",
		fixture:    usersFixture,
		alteration: transmutation.CreateTable("places", idColumn, transmutation.Column{Name: "city", Type: transmutation.Varchar(30), Nullable: true}),
	},
	/* s4 */ {
		name: "test s4: drop_table",
		fixture: append(usersFixture,
			`CREATE TABLE "places" ("id" integer PRIMARY KEY, "city" varchar(30), "zipcode" varchar(10) NOT NULL DEFAULT '00000')`,
		),
		alteration: transmutation.DropTable("places"),
	},
	/* s5 */ {
		name:       "test s5: rename_table",
		fixture:    usersFixture,
		alteration: transmutation.RenameTable("users", "members"),
	},
	/* s6 */ {
		name:       "test s6: copy_table",
		fixture:    usersFixture,
		alteration: transmutation.CopyTable("users", "users_backup", true),
	},
	/* s7 */ {
		name:       "test s7: truncate_table",
		fixture:    usersFixture,
		alteration: transmutation.TruncateTable("users"),
	},
	/* s8 */ {
		name:       "test s8: create_index",
		fixture:    usersFixture,
		alteration: transmutation.CreateIndex("idx_name", "users", "name"),
	},
	/* s9 */ {
		name: "test s9: drop_index",
		fixture: append(usersFixture,
			`CREATE UNIQUE INDEX "idx_name" ON "users" ("name")`,
		),
		alteration: transmutation.DropIndex("idx_name", "users"),
	},
	/* s10 */ {
		name:       "test s10: create_unique_constraint",
		fixture:    usersFixture,
		alteration: transmutation.CreateUniqueConstraint("uq_name", "users", "name"),
	},
	/* s11 */ {
		name: "test s11: drop_constraint",
		fixture: append(usersFixture,
			`CREATE UNIQUE INDEX "uq_name" ON "users" ("name")`,
		),
		alteration: transmutation.DropConstraint("uq_name", "users"),
	},
	/* s12 */ {
		name:       "test s12: raw_sql",
		fixture:    usersFixture,
		alteration: transmutation.RawSQL(`UPDATE "users" SET "address_id" = 0`, `UPDATE "users" SET "address_id" = NULL`),
	},
}

// TestRoundTrip checks that upgrade followed by downgrade leaves every
// inspected schema attribute exactly as it was, for each alteration kind the
// sqlite dialect supports.
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for _, test := range roundTripTestsTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			db := openTestDB(t, test.fixture...)
			before := takeFingerprint(t, db)

			m := transmutation.New(db, sqlite.New())
			assert.NoError(t, m.Add(test.alteration))
			assert.NoError(t, m.Upgrade(ctx))
			assert.NoError(t, m.Downgrade(ctx))

			after := takeFingerprint(t, db)
			assert.Equal(t, before.objects, after.objects)
			assert.Equal(t, before.tables, after.tables)
		})
	}
}

//
// -- Ordering and atomicity ----------------
//

func TestDowngradeRevertsInReverseOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &recordingDialect{Dialect: sqlite.New()}
	m := transmutation.New(openTestDB(t, usersFixture...), rec)

	assert.NoError(t, m.AddColumn("users", transmutation.Column{Name: "a", Type: transmutation.Integer(), Nullable: true}))
	assert.NoError(t, m.AddColumn("users", transmutation.Column{Name: "b", Type: transmutation.Integer(), Nullable: true}))
	assert.NoError(t, m.Upgrade(ctx))

	rec.executed = nil
	assert.NoError(t, m.Downgrade(ctx))

	assert.Equal(t, []string{
		`ALTER TABLE "users" DROP COLUMN "b"`,
		`ALTER TABLE "users" DROP COLUMN "a"`,
	}, rec.executed)
}

// TestCompensatingFailureRestoresSchema drives the three-step scenario where
// the last step violates a uniqueness rule: the column picks up the same
// default on both existing rows, so the unique constraint cannot be created
// and the applied steps are compensated in reverse order.
func TestCompensatingFailureRestoresSchema(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t, usersFixture...)
	before := takeFingerprint(t, db)

	m := transmutation.New(db, sqlite.New(),
		transmutation.WithTransactionMode(transmutation.ModeCompensating))

	assert.NoError(t, m.AddColumn("users", transmutation.Column{
		Name:     "age",
		Type:     transmutation.Integer(),
		Nullable: true,
		Default:  transmutation.Literal("1"),
	}))
	assert.NoError(t, m.Add(transmutation.CreateIndex("idx_age", "users", "age")))
	assert.NoError(t, m.Add(transmutation.CreateUniqueConstraint("uq_age", "users", "age")))

	err := m.Upgrade(ctx)

	var xerr *transmutation.ExecutionError
	assert.ErrorAs(t, err, &xerr)
	assert.Equal(t, 2, xerr.Index)
	assert.Equal(t, 2, xerr.Applied)

	assert.Equal(t, transmutation.StatusFailed, m.Status())
	assert.Equal(t, 0, m.AppliedCount())

	after := takeFingerprint(t, db)
	assert.Equal(t, before.objects, after.objects, "compensation must drop the index and the column")
	assert.Equal(t, before.tables, after.tables)
}

// TestNativeFailureRollsBack checks the native-mode guarantee: a mid-queue
// failure is undone by a single transaction rollback and no revert DDL is
// ever issued against the applied steps.
func TestNativeFailureRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &recordingDialect{Dialect: sqlite.New()}
	db := openTestDB(t, usersFixture...)
	before := takeFingerprint(t, db)

	m := transmutation.New(db, rec)
	assert.NoError(t, m.AddColumn("users", ageColumn))
	assert.NoError(t, m.ExecuteSQL("INSERT INTO missing (x) VALUES (1)", "SELECT 1"))

	err := m.Upgrade(ctx)

	var xerr *transmutation.ExecutionError
	assert.ErrorAs(t, err, &xerr)
	assert.Equal(t, 1, xerr.Index)
	assert.Equal(t, 1, xerr.Applied)

	assert.Equal(t, transmutation.StatusFailed, m.Status())
	assert.Equal(t, 0, m.AppliedCount())
	assert.Equal(t, 2, m.PendingCount(), "the rollback returns every item to pending")

	for _, stmt := range rec.executed {
		assert.NotContains(t, stmt, "DROP COLUMN", "native mode must not issue revert DDL")
	}

	after := takeFingerprint(t, db)
	assert.Equal(t, before.objects, after.objects)
	assert.Equal(t, before.tables, after.tables)
}

// TestCompensationSurvivesCancellation cancels the caller's context mid-upgrade
// and checks that the compensation pass still reverts the applied steps: the
// reverts run on a context detached from the caller's.
func TestCompensationSurvivesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := openTestDB(t, usersFixture...)
	before := takeFingerprint(t, db)

	d := &cancellingDialect{Dialect: sqlite.New(), cancel: cancel, trigger: `"b"`}
	m := transmutation.New(db, d,
		transmutation.WithTransactionMode(transmutation.ModeCompensating))

	assert.NoError(t, m.AddColumn("users", transmutation.Column{Name: "a", Type: transmutation.Integer(), Nullable: true}))
	assert.NoError(t, m.AddColumn("users", transmutation.Column{Name: "b", Type: transmutation.Integer(), Nullable: true}))

	err := m.Upgrade(ctx)

	var xerr *transmutation.ExecutionError
	assert.ErrorAs(t, err, &xerr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, xerr.Index)
	assert.Equal(t, 1, xerr.Applied)

	assert.Equal(t, transmutation.StatusFailed, m.Status())
	assert.Equal(t, 0, m.AppliedCount())

	after := takeFingerprint(t, db)
	assert.Equal(t, before.objects, after.objects, "the reverts must run even though the caller gave up")
	assert.Equal(t, before.tables, after.tables)
}
