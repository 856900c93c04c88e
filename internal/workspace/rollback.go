// pattern: Functional Core

package workspace

import (
	"go.uber.org/multierr"

	"benchtree/internal/logging"
)

// rollback is an ordered list of compensating actions accumulated during a
// multi-step operation. Actions are pushed during the forward pass and run
// in reverse, most recent first, only if commit was never called before the
// operation exited.
type rollback struct {
	log       *logging.ScopedLogger
	actions   []rollbackAction
	committed bool
}

type rollbackAction struct {
	name string
	fn   func() error
}

func newRollback(log *logging.ScopedLogger) *rollback {
	return &rollback{log: log}
}

// push registers a compensating action for a completed forward step.
func (r *rollback) push(name string, fn func() error) {
	r.actions = append(r.actions, rollbackAction{name: name, fn: fn})
}

// commit discards all compensating actions; the operation's effects are
// final from here on.
func (r *rollback) commit() {
	r.committed = true
	r.actions = nil
}

// unwind runs the compensating actions in reverse order. Failures are
// aggregated and returned so the caller can report them; the caller must
// still surface the original operation error, never the unwind error, as
// the primary failure.
func (r *rollback) unwind() error {
	if r.committed {
		return nil
	}
	var errs error
	for i := len(r.actions) - 1; i >= 0; i-- {
		action := r.actions[i]
		r.log.Warn("rolling back", "action", action.name)
		if err := action.fn(); err != nil {
			r.log.Error("rollback action failed", "action", action.name, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	r.actions = nil
	return errs
}
