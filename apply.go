package transmutation

import (
	"context"
	"fmt"
	"log/slog"
)

// scope bundles everything one coordinator run needs: the executor the run
// owns (transaction or dedicated connection), the dialect, and an inspector
// bound to that same executor.
type scope struct {
	exec    Executor
	dialect Dialect
	insp    Inspector
	log     *slog.Logger
}

func newScope(dialect Dialect, exec Executor, log *slog.Logger) *scope {
	return &scope{
		exec:    exec,
		dialect: dialect,
		insp:    dialect.Inspector(exec),
		log:     log,
	}
}

// ---

// apply runs one alteration forward: precondition validation, pre-image
// snapshot for destructive kinds, compilation, execution. Nothing is executed
// unless validation and snapshotting succeed and the reverse is derivable.
func (s *scope) apply(ctx context.Context, idx int, a *Alteration) error {
	if a.state != StatePending && a.state != StateReverted {
		return &ValidationError{
			Alteration: a.String(),
			Index:      idx,
			Err:        fmt.Errorf("alteration is %s, expected pending", a.state),
		}
	}

	if err := s.validate(ctx, a); err != nil {
		return &ValidationError{Alteration: a.String(), Index: idx, Err: err}
	}
	if err := s.snapshot(ctx, a); err != nil {
		return &ValidationError{Alteration: a.String(), Index: idx, Err: err}
	}
	if _, err := a.Invert(); err != nil {
		return &ValidationError{Alteration: a.String(), Index: idx, Err: err}
	}

	stmts, err := s.dialect.Compile(a)
	if err != nil {
		return &ValidationError{Alteration: a.String(), Index: idx, Err: err}
	}

	s.log.Debug("applying alteration", "index", idx, "alteration", a.String())
	for _, stmt := range stmts {
		s.log.Debug("executing statement", "statement", stmt)
		if err := s.dialect.Execute(ctx, s.exec, stmt); err != nil {
			a.state = StateFailed
			return &ExecutionError{Alteration: a.String(), Index: idx, Stmt: stmt, Err: err}
		}
	}

	a.state = StateApplied
	return nil
}

// revert replays the inverse of an applied alteration. It does not
// re-validate or re-snapshot: the inverse was derived from the pre-image
// captured when the alteration applied.
func (s *scope) revert(ctx context.Context, idx int, a *Alteration) error {
	if a.state != StateApplied {
		return &ValidationError{
			Alteration: a.String(),
			Index:      idx,
			Err:        fmt.Errorf("alteration is %s, expected applied", a.state),
		}
	}

	inv, err := a.Invert()
	if err != nil {
		return &ValidationError{Alteration: a.String(), Index: idx, Err: err}
	}
	if inv == nil {
		a.state = StateReverted
		return nil
	}

	stmts, err := s.dialect.Compile(inv)
	if err != nil {
		return &ValidationError{Alteration: a.String(), Index: idx, Err: err}
	}

	s.log.Debug("reverting alteration", "index", idx, "alteration", a.String())
	for _, stmt := range stmts {
		s.log.Debug("executing statement", "statement", stmt)
		if err := s.dialect.Execute(ctx, s.exec, stmt); err != nil {
			a.state = StateFailed
			return &ExecutionError{Alteration: a.String(), Index: idx, Stmt: stmt, Err: err}
		}
	}

	a.state = StateReverted
	return nil
}

// ---

// validate checks the alteration's preconditions against the live schema.
func (s *scope) validate(ctx context.Context, a *Alteration) error { //nolint:cyclop
	switch a.Kind {
	case KindAddColumn:
		if err := s.requireTable(ctx, a.Schema, a.Table, true); err != nil {
			return err
		}
		return s.requireColumn(ctx, a.Schema, a.Table, a.Column.Name, false)

	case KindDropColumn:
		if err := s.requireTable(ctx, a.Schema, a.Table, true); err != nil {
			return err
		}
		return s.requireColumn(ctx, a.Schema, a.Table, a.ColumnName, true)

	case KindRenameColumn:
		if err := s.requireTable(ctx, a.Schema, a.Table, true); err != nil {
			return err
		}
		if err := s.requireColumn(ctx, a.Schema, a.Table, a.ColumnName, true); err != nil {
			return err
		}
		return s.requireColumn(ctx, a.Schema, a.Table, a.NewName, false)

	case KindAlterColumn:
		if err := s.requireTable(ctx, a.Schema, a.Table, true); err != nil {
			return err
		}
		return s.requireColumn(ctx, a.Schema, a.Table, a.Column.Name, true)

	case KindCreateTable:
		return s.requireTable(ctx, a.Schema, a.Table, false)

	case KindDropTable, KindTruncateTable:
		return s.requireTable(ctx, a.Schema, a.Table, true)

	case KindRenameTable, KindCopyTable:
		if err := s.requireTable(ctx, a.Schema, a.Table, true); err != nil {
			return err
		}
		return s.requireTable(ctx, a.Schema, a.NewName, false)

	case KindCreateIndex:
		if err := s.requireTable(ctx, a.Schema, a.Table, true); err != nil {
			return err
		}
		for _, col := range a.Index.Columns {
			if err := s.requireColumn(ctx, a.Schema, a.Table, col, true); err != nil {
				return err
			}
		}
		return s.requireIndex(ctx, a.Schema, a.Table, a.Index.Name, false)

	case KindDropIndex:
		return s.requireIndex(ctx, a.Schema, a.Table, a.IndexName, true)

	case KindCreateForeignKey:
		if err := s.requireTable(ctx, a.Schema, a.Table, true); err != nil {
			return err
		}
		if err := s.requireTable(ctx, a.Schema, a.Constraint.RefTable, true); err != nil {
			return err
		}
		for _, col := range a.Constraint.Columns {
			if err := s.requireColumn(ctx, a.Schema, a.Table, col, true); err != nil {
				return err
			}
		}
		return s.requireConstraint(ctx, a.Schema, a.Table, a.Constraint.Name, false)

	case KindCreateUniqueConstraint:
		if err := s.requireTable(ctx, a.Schema, a.Table, true); err != nil {
			return err
		}
		for _, col := range a.Constraint.Columns {
			if err := s.requireColumn(ctx, a.Schema, a.Table, col, true); err != nil {
				return err
			}
		}
		return s.requireConstraint(ctx, a.Schema, a.Table, a.Constraint.Name, false)

	case KindCreateCheckConstraint:
		if err := s.requireTable(ctx, a.Schema, a.Table, true); err != nil {
			return err
		}
		return s.requireConstraint(ctx, a.Schema, a.Table, a.Constraint.Name, false)

	case KindDropConstraint:
		return s.requireConstraint(ctx, a.Schema, a.Table, a.ConstraintName, true)

	case KindRawSQL:
		return nil
	}

	return fmt.Errorf("unknown alteration kind %d", a.Kind)
}

// snapshot captures the pre-image destructive kinds need to derive their
// reverse. It runs immediately before the forward DDL, inside the same
// logical step, because the objects will no longer exist afterwards.
func (s *scope) snapshot(ctx context.Context, a *Alteration) error {
	switch a.Kind {
	case KindDropColumn:
		col, err := s.insp.ColumnDefinition(ctx, a.Schema, a.Table, a.ColumnName)
		if err != nil {
			return fmt.Errorf("failed to capture definition of column %s.%s: %w", a.Table, a.ColumnName, err)
		}
		a.Column = col

	case KindAlterColumn:
		col, err := s.insp.ColumnDefinition(ctx, a.Schema, a.Table, a.Column.Name)
		if err != nil {
			return fmt.Errorf("failed to capture definition of column %s.%s: %w", a.Table, a.Column.Name, err)
		}
		a.PrevColumn = col

	case KindDropTable, KindCopyTable:
		cols, err := s.insp.TableDefinition(ctx, a.Schema, a.Table)
		if err != nil {
			return fmt.Errorf("failed to capture definition of table %s: %w", a.Table, err)
		}
		a.Columns = cols

	case KindDropIndex:
		idx, err := s.insp.IndexDefinition(ctx, a.Schema, a.Table, a.IndexName)
		if err != nil {
			return fmt.Errorf("failed to capture definition of index %s: %w", a.IndexName, err)
		}
		a.Index = idx

	case KindDropConstraint:
		con, err := s.insp.ConstraintDefinition(ctx, a.Schema, a.Table, a.ConstraintName)
		if err != nil {
			return fmt.Errorf("failed to capture definition of constraint %s: %w", a.ConstraintName, err)
		}
		a.Constraint = con
	}

	return nil
}

// ---

func (s *scope) requireTable(ctx context.Context, schema, table string, want bool) error {
	ok, err := s.insp.TableExists(ctx, schema, table)
	if err != nil {
		return fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	if want && !ok {
		return fmt.Errorf("table %s does not exist", table)
	}
	if !want && ok {
		return fmt.Errorf("table %s already exists", table)
	}
	return nil
}

func (s *scope) requireColumn(ctx context.Context, schema, table, column string, want bool) error {
	ok, err := s.insp.ColumnExists(ctx, schema, table, column)
	if err != nil {
		return fmt.Errorf("failed to inspect column %s.%s: %w", table, column, err)
	}
	if want && !ok {
		return fmt.Errorf("column %s.%s does not exist", table, column)
	}
	if !want && ok {
		return fmt.Errorf("column %s.%s already exists", table, column)
	}
	return nil
}

func (s *scope) requireIndex(ctx context.Context, schema, table, index string, want bool) error {
	ok, err := s.insp.IndexExists(ctx, schema, table, index)
	if err != nil {
		return fmt.Errorf("failed to inspect index %s: %w", index, err)
	}
	if want && !ok {
		return fmt.Errorf("index %s does not exist", index)
	}
	if !want && ok {
		return fmt.Errorf("index %s already exists", index)
	}
	return nil
}

func (s *scope) requireConstraint(ctx context.Context, schema, table, constraint string, want bool) error {
	ok, err := s.insp.ConstraintExists(ctx, schema, table, constraint)
	if err != nil {
		return fmt.Errorf("failed to inspect constraint %s: %w", constraint, err)
	}
	if want && !ok {
		return fmt.Errorf("constraint %s does not exist", constraint)
	}
	if !want && ok {
		return fmt.Errorf("constraint %s already exists", constraint)
	}
	return nil
}
