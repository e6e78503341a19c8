// Package orchestrator implements the branch job orchestrator: it resolves
// target branches, guards every (job kind, branch, period) tuple with a
// distributed lock and the run ledger, scopes execution to the branch,
// invokes the job operation, records the outcome, and aggregates a run
// summary.
//
// Partial-failure isolation is the central invariant: one branch's failure
// never aborts processing of the remaining branches. Only an invalid
// explicit branch filter aborts the whole invocation, before any branch is
// touched.
package orchestrator

import (
	"log/slog"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/hook"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/ledger"
	"github.com/oryxerp/branchrun/lock"
	"github.com/oryxerp/branchrun/operation"
)

// Orchestrator coordinates one run of a job kind across its target
// branches. All collaborators are injected at construction; the
// orchestrator holds no shared mutable state of its own, so multiple
// invocations (and multiple instances) may run concurrently; coordination
// happens entirely through the lock store and the ledger store.
type Orchestrator struct {
	dir    branch.Directory
	locker lock.Locker
	ledger ledger.Store
	ops    *operation.Registry
	hooks  *hook.Registry

	config   branchrun.Config
	logger   *slog.Logger
	runnerID id.RunnerID
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithConfig replaces the default configuration (lock TTLs, stale factor,
// concurrency).
func WithConfig(cfg branchrun.Config) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithConcurrency sets how many branches one invocation processes in
// parallel. Each branch's critical section is independently locked, so
// concurrent processing is safe; the default of 1 processes sequentially
// and bounds database connection usage.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.config.Concurrency = n }
}

// WithHooks attaches a lifecycle hook registry.
func WithHooks(hooks *hook.Registry) Option {
	return func(o *Orchestrator) { o.hooks = hooks }
}

// New creates an Orchestrator with explicit dependencies.
func New(dir branch.Directory, locker lock.Locker, led ledger.Store, ops *operation.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dir:      dir,
		locker:   locker,
		ledger:   led,
		ops:      ops,
		config:   branchrun.DefaultConfig(),
		logger:   slog.Default(),
		runnerID: id.NewRunnerID(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunnerID identifies this orchestrator instance in logs.
func (o *Orchestrator) RunnerID() id.RunnerID { return o.runnerID }
