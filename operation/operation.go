// Package operation defines the pluggable business action the orchestrator
// invokes: close a day, run payroll, generate recurring invoices, dispatch
// a scheduled report. Implementations are owned by their domain modules;
// the orchestrator consumes them through this narrow contract and never
// interprets what they do.
package operation

import (
	"context"
	"fmt"
	"sync"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/id"
)

// Result carries the domain counters an operation reports, e.g.
// {"employees_processed": 12} or {"invoices_generated": 40}. Counters are
// summed into the run summary totals.
type Result struct {
	Counters map[string]int64 `json:"counters,omitempty"`
	Detail   string           `json:"detail,omitempty"`
}

// Operation is implemented once per job kind. Any returned error is a
// per-branch failure the orchestrator records and continues past; it never
// aborts the remaining branches.
type Operation interface {
	Execute(ctx context.Context, b *branch.Branch, period branchrun.Period, forced bool) (*Result, error)
}

// Func adapts a plain function to Operation.
type Func func(ctx context.Context, b *branch.Branch, period branchrun.Period, forced bool) (*Result, error)

// Execute implements Operation.
func (f Func) Execute(ctx context.Context, b *branch.Branch, period branchrun.Period, forced bool) (*Result, error) {
	return f(ctx, b, period, forced)
}

// Error is a domain failure raised by an operation, e.g. an already-closed
// day without the force flag or missing payroll configuration.
type Error struct {
	Kind     branchrun.JobKind
	BranchID id.BranchID
	Msg      string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("operation %s branch %s: %s", e.Kind, e.BranchID.String(), msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Registry maps job kinds to their operations. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ops map[branchrun.JobKind]Operation
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[branchrun.JobKind]Operation)}
}

// Register binds an operation to a job kind, replacing any previous binding.
func (r *Registry) Register(kind branchrun.JobKind, op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[kind] = op
}

// Lookup returns the operation for a job kind, or
// branchrun.ErrUnknownJobKind.
func (r *Registry) Lookup(kind branchrun.JobKind) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[kind]
	if !ok {
		return nil, fmt.Errorf("operation: lookup %q: %w", kind, branchrun.ErrUnknownJobKind)
	}
	return op, nil
}

// Kinds returns the registered job kinds.
func (r *Registry) Kinds() []branchrun.JobKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]branchrun.JobKind, 0, len(r.ops))
	for k := range r.ops {
		kinds = append(kinds, k)
	}
	return kinds
}
