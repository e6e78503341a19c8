package hook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/operation"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type branchStartedEntry struct {
	name string
	hook BranchStarted
}

type branchSucceededEntry struct {
	name string
	hook BranchSucceeded
}

type branchFailedEntry struct {
	name string
	hook BranchFailed
}

type branchSkippedEntry struct {
	name string
	hook BranchSkipped
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type triggerFiredEntry struct {
	name string
	hook TriggerFired
}

// Registry holds registered extensions and fans lifecycle events out to
// them. Hook errors are logged and swallowed: observers never change the
// outcome of a run.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger

	branchStarted   []branchStartedEntry
	branchSucceeded []branchSucceededEntry
	branchFailed    []branchFailedEntry
	branchSkipped   []branchSkippedEntry
	runCompleted    []runCompletedEntry
	triggerFired    []triggerFiredEntry
}

// NewRegistry creates a Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension, wiring it to every hook interface it
// implements.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := e.Name()
	if h, ok := e.(BranchStarted); ok {
		r.branchStarted = append(r.branchStarted, branchStartedEntry{name, h})
	}
	if h, ok := e.(BranchSucceeded); ok {
		r.branchSucceeded = append(r.branchSucceeded, branchSucceededEntry{name, h})
	}
	if h, ok := e.(BranchFailed); ok {
		r.branchFailed = append(r.branchFailed, branchFailedEntry{name, h})
	}
	if h, ok := e.(BranchSkipped); ok {
		r.branchSkipped = append(r.branchSkipped, branchSkippedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(TriggerFired); ok {
		r.triggerFired = append(r.triggerFired, triggerFiredEntry{name, h})
	}
}

func (r *Registry) hookError(name, event string, err error) {
	r.logger.Warn("hook error",
		slog.String("extension", name),
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}

// EmitBranchStarted fans out a branch-started event.
func (r *Registry) EmitBranchStarted(ctx context.Context, kind branchrun.JobKind, b *branch.Branch, periodKey string) {
	r.mu.RLock()
	entries := r.branchStarted
	r.mu.RUnlock()

	for _, e := range entries {
		if err := e.hook.OnBranchStarted(ctx, kind, b, periodKey); err != nil {
			r.hookError(e.name, "branch_started", err)
		}
	}
}

// EmitBranchSucceeded fans out a branch-succeeded event.
func (r *Registry) EmitBranchSucceeded(ctx context.Context, kind branchrun.JobKind, b *branch.Branch, periodKey string, res *operation.Result, elapsed time.Duration) {
	r.mu.RLock()
	entries := r.branchSucceeded
	r.mu.RUnlock()

	for _, e := range entries {
		if err := e.hook.OnBranchSucceeded(ctx, kind, b, periodKey, res, elapsed); err != nil {
			r.hookError(e.name, "branch_succeeded", err)
		}
	}
}

// EmitBranchFailed fans out a branch-failed event.
func (r *Registry) EmitBranchFailed(ctx context.Context, kind branchrun.JobKind, b *branch.Branch, periodKey string, failure error) {
	r.mu.RLock()
	entries := r.branchFailed
	r.mu.RUnlock()

	for _, e := range entries {
		if err := e.hook.OnBranchFailed(ctx, kind, b, periodKey, failure); err != nil {
			r.hookError(e.name, "branch_failed", err)
		}
	}
}

// EmitBranchSkipped fans out a branch-skipped event.
func (r *Registry) EmitBranchSkipped(ctx context.Context, kind branchrun.JobKind, b *branch.Branch, periodKey string, reason SkipReason) {
	r.mu.RLock()
	entries := r.branchSkipped
	r.mu.RUnlock()

	for _, e := range entries {
		if err := e.hook.OnBranchSkipped(ctx, kind, b, periodKey, reason); err != nil {
			r.hookError(e.name, "branch_skipped", err)
		}
	}
}

// EmitRunCompleted fans out a run-completed event.
func (r *Registry) EmitRunCompleted(ctx context.Context, kind branchrun.JobKind, periodKey string, succeeded, failed, skipped int) {
	r.mu.RLock()
	entries := r.runCompleted
	r.mu.RUnlock()

	for _, e := range entries {
		if err := e.hook.OnRunCompleted(ctx, kind, periodKey, succeeded, failed, skipped); err != nil {
			r.hookError(e.name, "run_completed", err)
		}
	}
}

// EmitTriggerFired fans out a trigger-fired event.
func (r *Registry) EmitTriggerFired(ctx context.Context, entryName string, kind branchrun.JobKind) {
	r.mu.RLock()
	entries := r.triggerFired
	r.mu.RUnlock()

	for _, e := range entries {
		if err := e.hook.OnTriggerFired(ctx, entryName, kind); err != nil {
			r.hookError(e.name, "trigger_fired", err)
		}
	}
}
