package reconcile

import (
	"fmt"
	"log"
	"sync"
)

// Options configures a reconciliation run.
type Options struct {
	// Logger receives debug traces of the decisions taken. Nil disables them.
	Logger *log.Logger
}

func (o Options) debugf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// Result is the outcome of one run.
type Result struct {
	// Changes are ready to apply, in application order.
	Changes []Change
	// Pending changes are still being observed and must be passed to the
	// next run.
	Pending []Change
}

// Analyse runs the whole pipeline on one batch: correlation, squashing,
// deferral of incomplete changes and final ordering.
//
// An InvariantViolation aborts the run; nothing from the batch may be
// applied and pending is left for the caller to retry with.
func Analyse(side Side, events []Event, pending []Change, opts Options) (Result, error) {
	changes, err := Correlate(events, pending, opts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to correlate %s batch: %w", side, err)
	}

	if side == SideRemote {
		changes = SquashRemote(changes, opts)
	} else {
		changes = Squash(changes, opts)
	}

	ready, deferred := SplitPending(changes)
	res := Result{Changes: Sort(ready), Pending: deferred}
	opts.debugf("%s batch: %d events, %d changes, %d pending", side, len(events), len(res.Changes), len(res.Pending))
	return res, nil
}

// Reconciler runs successive batches of one side, carrying pending changes
// from each run into the next. Pending changes only live in memory; callers
// that want them to survive a restart persist Pending and call Restore.
type Reconciler struct {
	side Side
	opts Options

	mu      sync.Mutex
	pending []Change
}

// NewReconciler creates a reconciler for side.
func NewReconciler(side Side, opts Options) *Reconciler {
	return &Reconciler{side: side, opts: opts}
}

// Side returns the side the reconciler handles.
func (r *Reconciler) Side() Side { return r.side }

// Run reconciles events together with the changes left pending by the
// previous run and returns the changes to apply. On error the pending set
// is left as it was.
func (r *Reconciler) Run(events []Event) ([]Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := Analyse(r.side, events, r.pending, r.opts)
	if err != nil {
		return nil, err
	}
	r.pending = res.Pending
	return res.Changes, nil
}

// Pending returns a copy of the changes waiting for the next run.
func (r *Reconciler) Pending() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Change, len(r.pending))
	for i, c := range r.pending {
		out[i] = c.Clone()
	}
	return out
}

// Restore replaces the pending set, e.g. with one saved before a restart.
func (r *Reconciler) Restore(pending []Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = make([]Change, len(pending))
	for i, c := range pending {
		r.pending[i] = c.Clone()
	}
}
