package transmutation

import (
	"context"
	"errors"
)

// queue is the ordered collection of alterations owned by a Migration.
// Registration order is application order; reversal walks in strict reverse
// order. Items are never reordered.
type queue struct {
	items []*Alteration
}

func (q *queue) enqueue(a *Alteration) {
	q.items = append(q.items, a)
}

func (q *queue) len() int { return len(q.items) }

// counts derives the pending and applied totals from item states.
func (q *queue) counts() (pending, applied int) {
	for _, a := range q.items {
		switch a.state {
		case StatePending:
			pending++
		case StateApplied:
			applied++
		}
	}
	return pending, applied
}

// ---

// applyAll walks items in registration order, applying each. On the first
// failure it returns the failed item's index and the indices applied during
// this walk, so the caller can drive compensation. A failed index of -1
// means every item applied.
func (q *queue) applyAll(ctx context.Context, sc *scope) (int, []int, error) {
	applied := make([]int, 0, len(q.items))

	for i, a := range q.items {
		if err := sc.apply(ctx, i, a); err != nil {
			setProcessedCount(err, len(applied))
			return i, applied, err
		}
		applied = append(applied, i)
	}

	return -1, applied, nil
}

// revertApplied walks applied items from upto down to 0, reverting each.
// Failures do not stop the walk: cleanup is best effort, and every failure
// is accumulated and surfaced to the caller.
func (q *queue) revertApplied(ctx context.Context, sc *scope, upto int) []RevertFailure {
	var failures []RevertFailure

	for i := upto; i >= 0; i-- {
		a := q.items[i]
		if a.state != StateApplied {
			continue
		}
		if err := sc.revert(ctx, i, a); err != nil {
			failures = append(failures, RevertFailure{Alteration: a.String(), Index: i, Err: err})
		}
	}

	return failures
}

// revertAll walks applied items in strict reverse order, stopping at the
// first failure. This is the downgrade main path.
func (q *queue) revertAll(ctx context.Context, sc *scope) (int, error) {
	reverted := 0

	for i := len(q.items) - 1; i >= 0; i-- {
		a := q.items[i]
		if a.state != StateApplied {
			continue
		}
		if err := sc.revert(ctx, i, a); err != nil {
			setProcessedCount(err, reverted)
			return i, err
		}
		reverted++
	}

	return -1, nil
}

// reapplyReverted re-applies items reverted during a failed downgrade, in
// forward order from the given index, restoring the fully-upgraded state.
// Best effort, accumulating failures like revertApplied.
func (q *queue) reapplyReverted(ctx context.Context, sc *scope, from int) []RevertFailure {
	var failures []RevertFailure

	for i := from; i < len(q.items); i++ {
		a := q.items[i]
		if a.state != StateReverted {
			continue
		}
		if err := sc.apply(ctx, i, a); err != nil {
			failures = append(failures, RevertFailure{Alteration: a.String(), Index: i, Err: err})
		}
	}

	return failures
}

// ---

// resetApplied returns items processed inside an aborted native transaction
// to pending. The failed item is reset too: the rollback undid the whole
// walk, so nothing it touched survived.
func (q *queue) resetApplied() {
	for _, a := range q.items {
		if a.state == StateApplied || a.state == StateFailed {
			a.state = StatePending
		}
	}
}

// resetReverted returns items processed inside an aborted native downgrade
// transaction to applied, the failed item included.
func (q *queue) resetReverted() {
	for _, a := range q.items {
		if a.state == StateReverted || a.state == StateFailed {
			a.state = StateApplied
		}
	}
}

// setProcessedCount records how many items this run had successfully
// processed before err, on whichever typed error carries it.
func setProcessedCount(err error, n int) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		verr.Applied = n
		return
	}
	var xerr *ExecutionError
	if errors.As(err, &xerr) {
		xerr.Applied = n
	}
}
