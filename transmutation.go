// Package transmutation executes database schema migrations as ordered
// queues of reversible alterations.
//
// A Migration collects alterations (create table, add column, create index
// and so on), then applies them all with Upgrade or undoes an upgraded run
// with Downgrade. Each alteration is validated against the live schema
// before anything is executed, and for destructive alterations the engine
// captures the current definition first so the step can be reverted later.
//
// Runs are atomic. On engines with transactional DDL the whole queue
// executes inside one transaction; elsewhere the engine commits step by
// step and compensates a failure by reverting the applied steps in reverse
// order.
package transmutation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Status describes where a Migration is in its lifecycle.
type Status int

const (
	StatusIdle Status = iota
	StatusUpgrading
	StatusDowngrading
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUpgrading:
		return "upgrading"
	case StatusDowngrading:
		return "downgrading"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "idle"
}

// ---

// Migration is an ordered, single-use schema change run. Alterations are
// added while the migration is idle and executed together by Upgrade; a
// completed upgrade can be undone once with Downgrade.
//
// A Migration is not safe for concurrent use.
type Migration struct {
	id      string
	dialect Dialect
	log     *slog.Logger

	queue queue
	coord coordinator

	status     Status
	upgraded   bool
	downgraded bool
}

// Option configures a Migration.
type Option func(*Migration)

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Migration) {
		m.log = log
	}
}

// WithTransactionMode overrides the automatic choice between a native
// transaction and step-wise compensation.
func WithTransactionMode(mode TransactionMode) Option {
	return func(m *Migration) {
		m.coord.mode = mode
	}
}

// New creates an empty Migration that will run against db using dialect.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Migration {
	m := &Migration{
		id:      uuid.New().String(),
		dialect: dialect,
		log:     slog.Default(),
		status:  StatusIdle,
	}
	m.coord = coordinator{db: db, dialect: dialect}

	for _, opt := range opts {
		opt(m)
	}

	m.log = m.log.With("migration", m.id)
	m.coord.log = m.log

	return m
}

// ---

// ID returns the unique identifier assigned to this migration run.
func (m *Migration) ID() string {
	return m.id
}

// Status returns the current lifecycle status.
func (m *Migration) Status() Status {
	return m.status
}

// Alterations returns how many alterations have been added.
func (m *Migration) Alterations() int {
	return m.queue.len()
}

// PendingCount returns how many alterations have not been applied.
func (m *Migration) PendingCount() int {
	pending, _ := m.queue.counts()
	return pending
}

// AppliedCount returns how many alterations are currently applied.
func (m *Migration) AppliedCount() int {
	_, applied := m.queue.counts()
	return applied
}

// ---

// Add appends alterations to the queue. Each alteration is checked for
// structural completeness and against the dialect's capabilities; the first
// rejected one is reported through a ValidationError and nothing is added.
// Alterations can only be added while the migration is idle.
func (m *Migration) Add(alterations ...*Alteration) error {
	if m.status != StatusIdle {
		return fmt.Errorf("cannot add alterations in status %q: %w", m.status, ErrNotIdle)
	}

	for i, a := range alterations {
		if err := a.check(); err != nil {
			return &ValidationError{
				Alteration: a.String(),
				Index:      m.queue.len() + i,
				Err:        err,
			}
		}
		if !m.dialect.Supports(a.Kind) {
			return &ValidationError{
				Alteration: a.String(),
				Index:      m.queue.len() + i,
				Err:        fmt.Errorf("%s does not support %s: %w", m.dialect.Name(), a.Kind, ErrUnsupported),
			}
		}
	}

	for _, a := range alterations {
		m.queue.enqueue(a)
	}

	return nil
}

// AddColumn queues adding column on table.
func (m *Migration) AddColumn(table string, column Column) error {
	return m.Add(AddColumn(table, column))
}

// DropColumn queues dropping column from table.
func (m *Migration) DropColumn(table, column string) error {
	return m.Add(DropColumn(table, column))
}

// RenameColumn queues renaming a column on table.
func (m *Migration) RenameColumn(table, from, to string) error {
	return m.Add(RenameColumn(table, from, to))
}

// RenameTable queues renaming a table.
func (m *Migration) RenameTable(from, to string) error {
	return m.Add(RenameTable(from, to))
}

// CopyTable queues copying a table, rows included.
func (m *Migration) CopyTable(from, to string) error {
	return m.Add(CopyTable(from, to, true))
}

// ExecuteSQL queues a raw statement with its reverse. The reverse is
// required: a raw statement without one cannot take part in a revert and is
// rejected with a ValidationError.
func (m *Migration) ExecuteSQL(statement, reverse string) error {
	return m.Add(RawSQL(statement, reverse))
}

// ---

// Upgrade applies every queued alteration in insertion order. It can be
// called once, on an idle migration with a non-empty queue. On success the
// migration is completed and may be downgraded; on failure the database is
// left as it was before the call (rolled back or compensated) and the
// migration is failed for good.
func (m *Migration) Upgrade(ctx context.Context) error {
	if m.status != StatusIdle {
		return fmt.Errorf("cannot upgrade in status %q: %w", m.status, ErrNotIdle)
	}
	if m.queue.len() == 0 {
		return ErrNoAlterations
	}

	m.status = StatusUpgrading
	m.log.Info("migration upgrade starting",
		"dialect", m.dialect.Name(),
		"mode", m.coord.resolveMode().String(),
		"alterations", m.queue.len())

	start := time.Now()

	if err := m.coord.run(ctx, &m.queue, DirectionUp); err != nil {
		m.status = StatusFailed
		m.log.Error("migration upgrade failed", "err", err)
		return err
	}

	m.status = StatusCompleted
	m.upgraded = true
	m.log.Info("migration upgrade completed",
		"applied", m.AppliedCount(),
		"elapsed", time.Since(start))

	return nil
}

// Downgrade reverts a completed upgrade, newest alteration first. It can be
// called once, and only after Upgrade succeeded. On failure the already
// reverted alterations are re-applied so the schema stays at the upgraded
// state, and the migration is failed for good.
func (m *Migration) Downgrade(ctx context.Context) error {
	if !m.upgraded || m.downgraded || m.status != StatusCompleted {
		return fmt.Errorf("cannot downgrade in status %q: %w", m.status, ErrNotUpgraded)
	}

	m.status = StatusDowngrading
	m.log.Info("migration downgrade starting",
		"dialect", m.dialect.Name(),
		"mode", m.coord.resolveMode().String(),
		"alterations", m.queue.len())

	start := time.Now()

	if err := m.coord.run(ctx, &m.queue, DirectionDown); err != nil {
		m.status = StatusFailed
		m.log.Error("migration downgrade failed", "err", err)
		return err
	}

	m.status = StatusCompleted
	m.downgraded = true
	m.log.Info("migration downgrade completed",
		"reverted", m.queue.len(),
		"elapsed", time.Since(start))

	return nil
}
