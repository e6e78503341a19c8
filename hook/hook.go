// Package hook provides lifecycle hooks for orchestrator and trigger
// events. Extensions implement any subset of the optional interfaces and
// are registered once; the registry fans events out and logs hook errors
// without ever letting them affect a run.
package hook

import (
	"context"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/operation"
)

// SkipReason explains why a branch was skipped rather than run.
type SkipReason string

const (
	// SkipLocked means another run holds the branch's lock right now, or
	// the lock store was unreachable.
	SkipLocked SkipReason = "locked"
	// SkipAlreadyRan means the ledger blocked admission: the period already
	// completed or a fresh pending run exists.
	SkipAlreadyRan SkipReason = "already-ran"
)

// Extension is the base interface all hooks implement.
type Extension interface {
	Name() string
}

// BranchStarted is invoked after lock and ledger admission, immediately
// before the operation executes.
type BranchStarted interface {
	OnBranchStarted(ctx context.Context, kind branchrun.JobKind, b *branch.Branch, periodKey string) error
}

// BranchSucceeded is invoked after a branch's operation completed and its
// success was recorded.
type BranchSucceeded interface {
	OnBranchSucceeded(ctx context.Context, kind branchrun.JobKind, b *branch.Branch, periodKey string, res *operation.Result, elapsed time.Duration) error
}

// BranchFailed is invoked when a branch attempt fails, whether in ledger
// admission or in the operation itself.
type BranchFailed interface {
	OnBranchFailed(ctx context.Context, kind branchrun.JobKind, b *branch.Branch, periodKey string, err error) error
}

// BranchSkipped is invoked when a branch was skipped without executing.
type BranchSkipped interface {
	OnBranchSkipped(ctx context.Context, kind branchrun.JobKind, b *branch.Branch, periodKey string, reason SkipReason) error
}

// RunCompleted is invoked once per orchestrator invocation after all
// branches were processed.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, kind branchrun.JobKind, periodKey string, succeeded, failed, skipped int) error
}

// TriggerFired is invoked when the trigger scheduler fires a schedule entry.
type TriggerFired interface {
	OnTriggerFired(ctx context.Context, entryName string, kind branchrun.JobKind) error
}
