package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/hook"
	"github.com/oryxerp/branchrun/ledger"
	"github.com/oryxerp/branchrun/operation"
	"github.com/oryxerp/branchrun/scope"
)

// RunOptions parameterizes one orchestrator invocation.
type RunOptions struct {
	// Filter selects target branches; a zero filter means all active
	// branches. Unknown explicit identifiers abort the invocation with
	// branchrun.ErrBranchNotFound before any branch is processed.
	Filter branch.Filter

	// Anchor is the trigger time the period is derived from; zero means
	// the current time.
	Anchor time.Time

	// Forced bypasses ledger admission (operator override). The
	// distributed lock still applies, and the outcome is still recorded.
	Forced bool

	// NextRun, when set, is stored on success records as the next eligible
	// run time. Trigger-driven invocations of recurring kinds set it.
	NextRun *time.Time
}

type outcomeKind int

const (
	// outcomeNone marks a branch the run never reached, e.g. after
	// cancellation.
	outcomeNone outcomeKind = iota
	outcomeSucceeded
	outcomeFailed
	outcomeLocked
	outcomeAlreadyRan
)

type branchOutcome struct {
	kind   outcomeKind
	result *operation.Result
	err    error
}

// Run executes the job kind once for every target branch's current period.
// It returns an error only for invocation-level failures (unknown job kind,
// invalid branch filter, context cancellation); every per-branch problem is
// isolated into the Summary and processing continues with the remaining
// branches.
func (o *Orchestrator) Run(ctx context.Context, kind branchrun.JobKind, opts RunOptions) (*Summary, error) {
	op, err := o.ops.Lookup(kind)
	if err != nil {
		return nil, err
	}

	anchor := opts.Anchor
	if anchor.IsZero() {
		anchor = time.Now().UTC()
	}
	period := branchrun.PeriodFor(kind, anchor)

	branches, err := branch.Resolve(ctx, o.dir, opts.Filter)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		JobKind:   kind,
		PeriodKey: period.Key(),
		StartedAt: time.Now().UTC(),
		Attempted: len(branches),
		Counters:  make(map[string]int64),
	}

	o.logger.Info("run started",
		slog.String("job_kind", string(kind)),
		slog.String("period_key", period.Key()),
		slog.String("runner_id", o.runnerID.String()),
		slog.Int("branches", len(branches)),
		slog.Bool("forced", opts.Forced),
	)

	// Branches are processed independently; with Concurrency 1 this is a
	// plain sequential loop in resolution order.
	outcomes := make([]branchOutcome, len(branches))
	var g errgroup.Group
	limit := o.config.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, b := range branches {
		g.Go(func() error {
			// Cancellation between branches aborts the invocation; branches
			// already in flight finish and record their outcome.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			outcomes[i] = o.processBranch(ctx, op, kind, period, b, opts)
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		o.logger.Warn("run canceled",
			slog.String("job_kind", string(kind)),
			slog.String("period_key", period.Key()),
			slog.String("error", waitErr.Error()),
		)
		return nil, fmt.Errorf("orchestrator: run %s: %w", kind, waitErr)
	}

	for i, out := range outcomes {
		b := branches[i]
		switch out.kind {
		case outcomeSucceeded:
			summary.Succeeded++
			if out.result != nil {
				for name, v := range out.result.Counters {
					summary.Counters[name] += v
				}
			}
		case outcomeFailed:
			summary.Failed++
			summary.Errors = append(summary.Errors, BranchError{
				BranchID:   b.ID,
				BranchCode: b.Code,
				Message:    out.err.Error(),
			})
		case outcomeLocked:
			summary.Locked++
		case outcomeAlreadyRan:
			summary.AlreadyRan++
		}
	}
	summary.FinishedAt = time.Now().UTC()

	if o.hooks != nil {
		o.hooks.EmitRunCompleted(ctx, kind, period.Key(), summary.Succeeded, summary.Failed, summary.Skipped())
	}

	o.logger.Info("run finished",
		slog.String("job_kind", string(kind)),
		slog.String("period_key", period.Key()),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int("locked", summary.Locked),
		slog.Int("already_ran", summary.AlreadyRan),
	)

	return summary, nil
}

// processBranch runs the full per-branch state machine:
// lock → ledger admission → scoped execution → outcome recording.
// Lock release and scope release are deferred so they run on every path.
func (o *Orchestrator) processBranch(ctx context.Context, op operation.Operation, kind branchrun.JobKind, period branchrun.Period, b *branch.Branch, opts RunOptions) branchOutcome {
	key := branchrun.RunKey(kind, b.ID, period)
	log := o.logger.With(
		slog.String("job_kind", string(kind)),
		slog.String("branch_id", b.ID.String()),
		slog.String("period_key", period.Key()),
	)

	h, err := o.locker.Acquire(ctx, key, o.config.LockTTL(kind))
	if err != nil {
		// A degraded lock store skips the branch rather than failing the
		// run; the next scheduler tick retries. Acquisition never reports
		// success on error, so this cannot double-execute.
		log.Warn("lock store unavailable, skipping branch",
			slog.String("outcome", "skipped_locked"),
			slog.String("error", err.Error()),
		)
		o.emitSkipped(ctx, kind, b, period, hook.SkipLocked)
		return branchOutcome{kind: outcomeLocked}
	}
	if h == nil {
		log.Info("branch locked by another run, skipping",
			slog.String("outcome", "skipped_locked"),
		)
		o.emitSkipped(ctx, kind, b, period, hook.SkipLocked)
		return branchOutcome{kind: outcomeLocked}
	}
	defer func() {
		if relErr := o.locker.Release(ctx, h); relErr != nil {
			log.Error("lock release error", slog.String("error", relErr.Error()))
		}
	}()

	rec := ledger.NewRecord(kind, b.ID, period)
	rec.Forced = opts.Forced
	ok, err := o.ledger.TryBegin(ctx, rec, o.config.StaleThreshold(kind), opts.Forced)
	if err != nil {
		admissionErr := fmt.Errorf("ledger admission: %w", err)
		log.Error("ledger admission error",
			slog.String("outcome", "failed"),
			slog.String("error", err.Error()),
		)
		if o.hooks != nil {
			o.hooks.EmitBranchFailed(ctx, kind, b, period.Key(), admissionErr)
		}
		return branchOutcome{kind: outcomeFailed, err: admissionErr}
	}
	if !ok {
		log.Info("period already ran, skipping",
			slog.String("outcome", "skipped_already_ran"),
		)
		o.emitSkipped(ctx, kind, b, period, hook.SkipAlreadyRan)
		return branchOutcome{kind: outcomeAlreadyRan}
	}

	if o.hooks != nil {
		o.hooks.EmitBranchStarted(ctx, kind, b, period.Key())
	}

	started := time.Now().UTC()
	res, opErr := o.invoke(ctx, op, kind, b, period, opts.Forced)
	elapsed := time.Since(started)

	if opErr != nil {
		if recErr := o.ledger.RecordFailure(ctx, key, opErr.Error()); recErr != nil {
			log.Error("record failure error", slog.String("error", recErr.Error()))
		}
		log.Error("branch run failed",
			slog.String("outcome", "failed"),
			slog.Duration("elapsed", elapsed),
			slog.String("error", opErr.Error()),
		)
		if o.hooks != nil {
			o.hooks.EmitBranchFailed(ctx, kind, b, period.Key(), opErr)
		}
		return branchOutcome{kind: outcomeFailed, err: opErr}
	}

	payload, marshalErr := json.Marshal(res)
	if marshalErr != nil {
		// The result payload is advisory; the run still counts as a
		// success without it.
		log.Warn("result marshal error", slog.String("error", marshalErr.Error()))
		payload = nil
	}
	if recErr := o.ledger.RecordSuccess(ctx, key, payload, opts.NextRun); recErr != nil {
		log.Error("record success error", slog.String("error", recErr.Error()))
	}

	log.Info("branch run succeeded",
		slog.String("outcome", "succeeded"),
		slog.Duration("elapsed", elapsed),
	)
	if o.hooks != nil {
		o.hooks.EmitBranchSucceeded(ctx, kind, b, period.Key(), res, elapsed)
	}
	return branchOutcome{kind: outcomeSucceeded, result: res}
}

// invoke executes the operation inside the branch scope, recovering panics
// at the iteration boundary so no single branch can take down the run.
func (o *Orchestrator) invoke(ctx context.Context, op operation.Operation, kind branchrun.JobKind, b *branch.Branch, period branchrun.Period, forced bool) (res *operation.Result, err error) {
	scoped, release, scopeErr := scope.Enter(ctx, b.ID)
	if scopeErr != nil {
		return nil, scopeErr
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			err = &operation.Error{Kind: kind, BranchID: b.ID, Msg: fmt.Sprintf("panic: %v", r)}
		}
	}()

	return op.Execute(scoped, b, period, forced)
}

func (o *Orchestrator) emitSkipped(ctx context.Context, kind branchrun.JobKind, b *branch.Branch, period branchrun.Period, reason hook.SkipReason) {
	if o.hooks != nil {
		o.hooks.EmitBranchSkipped(ctx, kind, b, period.Key(), reason)
	}
}
