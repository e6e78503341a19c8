package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/hook"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/ledger"
	"github.com/oryxerp/branchrun/lock"
	"github.com/oryxerp/branchrun/operation"
	"github.com/oryxerp/branchrun/orchestrator"
	"github.com/oryxerp/branchrun/scope"
	"github.com/oryxerp/branchrun/store/memory"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var anchor = time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)

func seedBranches(s *memory.Store, codes ...string) []*branch.Branch {
	branches := make([]*branch.Branch, 0, len(codes))
	for _, code := range codes {
		b := &branch.Branch{
			Entity: branchrun.NewEntity(),
			ID:     id.NewBranchID(),
			Code:   code,
			Name:   code + " Branch",
			Active: true,
		}
		s.PutBranch(b)
		branches = append(branches, b)
	}
	return branches
}

func newOrchestrator(s *memory.Store, ops *operation.Registry, opts ...orchestrator.Option) *orchestrator.Orchestrator {
	opts = append([]orchestrator.Option{orchestrator.WithLogger(quiet)}, opts...)
	return orchestrator.New(s, s, s, ops, opts...)
}

func TestRunAllBranchesSucceed(t *testing.T) {
	t.Parallel()

	s := memory.New()
	seedBranches(s, "MAIN", "WEST", "EAST")

	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, _ *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			return &operation.Result{Counters: map[string]int64{"entries_posted": 4}}, nil
		},
	))

	o := newOrchestrator(s, ops)
	summary, err := o.Run(context.Background(), branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Attempted != 3 || summary.Succeeded != 3 {
		t.Errorf("summary attempted/succeeded = %d/%d, want 3/3", summary.Attempted, summary.Succeeded)
	}
	if summary.Failed != 0 || summary.Locked != 0 || summary.AlreadyRan != 0 {
		t.Errorf("summary skips = failed %d locked %d already_ran %d, want zero", summary.Failed, summary.Locked, summary.AlreadyRan)
	}
	if summary.Counters["entries_posted"] != 12 {
		t.Errorf("aggregated counter = %d, want 12", summary.Counters["entries_posted"])
	}
	if summary.PeriodKey != "2026-03-15" {
		t.Errorf("period key = %q, want 2026-03-15", summary.PeriodKey)
	}
}

func TestRunRecordsLedgerOutcomes(t *testing.T) {
	t.Parallel()

	s := memory.New()
	branches := seedBranches(s, "MAIN")

	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, _ *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			return &operation.Result{Counters: map[string]int64{"entries_posted": 1}}, nil
		},
	))

	o := newOrchestrator(s, ops)
	if _, err := o.Run(context.Background(), branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	key := branchrun.RunKey(branchrun.CloseDay, branches[0].ID, branchrun.PeriodFor(branchrun.CloseDay, anchor))
	rec, err := s.GetRecord(context.Background(), key)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if rec.Status != ledger.StatusSuccess {
		t.Errorf("record status = %q, want success", rec.Status)
	}
	if rec.FinishedAt == nil {
		t.Error("FinishedAt not set on success record")
	}
	if len(rec.Result) == 0 {
		t.Error("result payload not recorded")
	}
}

func TestRunPartialFailureIsolation(t *testing.T) {
	t.Parallel()

	s := memory.New()
	branches := seedBranches(s, "ALPHA", "BRAVO", "CHARLIE")

	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, b *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			if b.Code == "BRAVO" {
				return nil, errors.New("unbalanced journal")
			}
			return &operation.Result{}, nil
		},
	))

	o := newOrchestrator(s, ops)
	summary, err := o.Run(context.Background(), branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("summary succeeded/failed = %d/%d, want 2/1", summary.Succeeded, summary.Failed)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("summary errors = %d, want 1", len(summary.Errors))
	}
	if summary.Errors[0].BranchCode != "BRAVO" {
		t.Errorf("failed branch = %q, want BRAVO", summary.Errors[0].BranchCode)
	}

	// The failed branch has a failed ledger record, the others success.
	period := branchrun.PeriodFor(branchrun.CloseDay, anchor)
	for _, b := range branches {
		rec, recErr := s.GetRecord(context.Background(), branchrun.RunKey(branchrun.CloseDay, b.ID, period))
		if recErr != nil {
			t.Fatalf("GetRecord(%s) error = %v", b.Code, recErr)
		}
		want := ledger.StatusSuccess
		if b.Code == "BRAVO" {
			want = ledger.StatusFailed
		}
		if rec.Status != want {
			t.Errorf("branch %s record status = %q, want %q", b.Code, rec.Status, want)
		}
	}
}

func TestRunLockedBranchSkipped(t *testing.T) {
	t.Parallel()

	s := memory.New()
	branches := seedBranches(s, "MAIN", "WEST")

	// Another run already holds WEST's lock for this period.
	period := branchrun.PeriodFor(branchrun.CloseDay, anchor)
	westKey := branchrun.RunKey(branchrun.CloseDay, branches[1].ID, period)
	if h, err := s.Acquire(context.Background(), westKey, time.Minute); err != nil || h == nil {
		t.Fatalf("pre-acquire = %v, %v", h, err)
	}

	var mu sync.Mutex
	executed := make(map[string]bool)
	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, b *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			mu.Lock()
			executed[b.Code] = true
			mu.Unlock()
			return &operation.Result{}, nil
		},
	))

	o := newOrchestrator(s, ops)
	summary, err := o.Run(context.Background(), branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Succeeded != 1 || summary.Locked != 1 {
		t.Errorf("summary succeeded/locked = %d/%d, want 1/1", summary.Succeeded, summary.Locked)
	}
	if executed["WEST"] {
		t.Error("locked branch was executed")
	}
	if !executed["MAIN"] {
		t.Error("unlocked branch was not executed")
	}
}

func TestRunAlreadyRanSkipped(t *testing.T) {
	t.Parallel()

	s := memory.New()
	branches := seedBranches(s, "MAIN")
	ctx := context.Background()

	// The period already completed successfully.
	period := branchrun.PeriodFor(branchrun.CloseDay, anchor)
	rec := ledger.NewRecord(branchrun.CloseDay, branches[0].ID, period)
	if ok, err := s.TryBegin(ctx, rec, time.Hour, false); err != nil || !ok {
		t.Fatalf("TryBegin() = %v, %v", ok, err)
	}
	if err := s.RecordSuccess(ctx, rec.Key, nil, nil); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}

	executions := 0
	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, _ *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			executions++
			return &operation.Result{}, nil
		},
	))

	o := newOrchestrator(s, ops)
	summary, err := o.Run(ctx, branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.AlreadyRan != 1 || summary.Succeeded != 0 {
		t.Errorf("summary already_ran/succeeded = %d/%d, want 1/0", summary.AlreadyRan, summary.Succeeded)
	}
	if executions != 0 {
		t.Errorf("operation executed %d times over a completed period", executions)
	}
}

func TestRunForcedBypassesLedger(t *testing.T) {
	t.Parallel()

	s := memory.New()
	branches := seedBranches(s, "MAIN")
	ctx := context.Background()

	period := branchrun.PeriodFor(branchrun.CloseDay, anchor)
	rec := ledger.NewRecord(branchrun.CloseDay, branches[0].ID, period)
	if ok, err := s.TryBegin(ctx, rec, time.Hour, false); err != nil || !ok {
		t.Fatalf("TryBegin() = %v, %v", ok, err)
	}
	if err := s.RecordSuccess(ctx, rec.Key, nil, nil); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}

	executions := 0
	var sawForced bool
	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, _ *branch.Branch, _ branchrun.Period, forced bool) (*operation.Result, error) {
			executions++
			sawForced = forced
			return &operation.Result{}, nil
		},
	))

	o := newOrchestrator(s, ops)
	summary, err := o.Run(ctx, branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor, Forced: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Succeeded != 1 {
		t.Errorf("summary succeeded = %d, want 1", summary.Succeeded)
	}
	if executions != 1 {
		t.Errorf("operation executed %d times, want 1", executions)
	}
	if !sawForced {
		t.Error("operation did not observe the forced flag")
	}

	got, err := s.GetRecord(ctx, rec.Key)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if !got.Forced {
		t.Error("forced re-run record not marked forced")
	}
}

func TestRunUnknownBranchAbortsBeforeWork(t *testing.T) {
	t.Parallel()

	s := memory.New()
	seedBranches(s, "MAIN", "WEST")
	ctx := context.Background()

	executions := 0
	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, _ *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			executions++
			return &operation.Result{}, nil
		},
	))

	o := newOrchestrator(s, ops)
	_, err := o.Run(ctx, branchrun.CloseDay, orchestrator.RunOptions{
		Anchor: anchor,
		Filter: branch.Filter{Codes: []string{"MAIN", "NOPE"}},
	})
	if !errors.Is(err, branchrun.ErrBranchNotFound) {
		t.Fatalf("Run() error = %v, want ErrBranchNotFound", err)
	}
	if executions != 0 {
		t.Errorf("operation executed %d times despite aborted resolution", executions)
	}
}

func TestRunUnknownJobKind(t *testing.T) {
	t.Parallel()

	s := memory.New()
	seedBranches(s, "MAIN")

	o := newOrchestrator(s, operation.NewRegistry())
	_, err := o.Run(context.Background(), branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor})
	if !errors.Is(err, branchrun.ErrUnknownJobKind) {
		t.Fatalf("Run() error = %v, want ErrUnknownJobKind", err)
	}
}

func TestRunScopesExecutionToBranch(t *testing.T) {
	t.Parallel()

	s := memory.New()
	seedBranches(s, "MAIN")

	var scopedCtx context.Context
	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(ctx context.Context, b *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			scopedCtx = ctx
			got, ok := scope.BranchFrom(ctx)
			if !ok {
				t.Error("no branch scope active during execution")
			}
			if got.String() != b.ID.String() {
				t.Errorf("scoped branch = %s, want %s", got, b.ID)
			}
			return &operation.Result{}, nil
		},
	))

	o := newOrchestrator(s, ops)
	if _, err := o.Run(context.Background(), branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The scope must be released once the branch iteration finished.
	if _, ok := scope.BranchFrom(scopedCtx); ok {
		t.Error("branch scope still active after run")
	}
}

func TestRunPanicIsolated(t *testing.T) {
	t.Parallel()

	s := memory.New()
	seedBranches(s, "ALPHA", "BRAVO")

	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, b *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			if b.Code == "ALPHA" {
				panic("corrupted journal index")
			}
			return &operation.Result{}, nil
		},
	))

	o := newOrchestrator(s, ops)
	summary, err := o.Run(context.Background(), branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("summary succeeded/failed = %d/%d, want 1/1", summary.Succeeded, summary.Failed)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("summary errors = %d, want 1", len(summary.Errors))
	}
	if msg := summary.Errors[0].Message; msg == "" {
		t.Error("panic produced empty error message")
	}
}

func TestConcurrentRunsExecuteOnce(t *testing.T) {
	t.Parallel()

	s := memory.New()
	seedBranches(s, "MAIN")

	var mu sync.Mutex
	executions := 0
	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, _ *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			mu.Lock()
			executions++
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			return &operation.Result{}, nil
		},
	))

	o := newOrchestrator(s, ops)

	var wg sync.WaitGroup
	summaries := make([]*orchestrator.Summary, 2)
	for i := range summaries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := o.Run(context.Background(), branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor})
			if err != nil {
				t.Errorf("Run() error = %v", err)
				return
			}
			summaries[i] = sum
		}()
	}
	wg.Wait()

	if executions != 1 {
		t.Fatalf("operation executed %d times across concurrent runs, want 1", executions)
	}

	succeeded, skipped := 0, 0
	for _, sum := range summaries {
		if sum == nil {
			t.Fatal("missing summary")
		}
		succeeded += sum.Succeeded
		skipped += sum.Locked + sum.AlreadyRan
	}
	if succeeded != 1 || skipped != 1 {
		t.Errorf("total succeeded/skipped = %d/%d, want 1/1", succeeded, skipped)
	}
}

// unavailableLocker simulates a degraded lock store: every acquisition
// attempt errors.
type unavailableLocker struct{}

func (unavailableLocker) Acquire(context.Context, string, time.Duration) (*lock.Handle, error) {
	return nil, fmt.Errorf("lock store: dial tcp: %w", branchrun.ErrLockStoreUnavailable)
}

func (unavailableLocker) Release(context.Context, *lock.Handle) error { return nil }

func TestRunLockStoreUnavailableSkipsBranches(t *testing.T) {
	t.Parallel()

	s := memory.New()
	branches := seedBranches(s, "MAIN", "WEST")
	ctx := context.Background()

	executions := 0
	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, _ *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			executions++
			return &operation.Result{}, nil
		},
	))

	o := orchestrator.New(s, unavailableLocker{}, s, ops, orchestrator.WithLogger(quiet))
	summary, err := o.Run(ctx, branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for a degraded lock store", err)
	}

	if summary.Locked != 2 || summary.Failed != 0 || summary.Succeeded != 0 {
		t.Errorf("summary locked/failed/succeeded = %d/%d/%d, want 2/0/0",
			summary.Locked, summary.Failed, summary.Succeeded)
	}
	if executions != 0 {
		t.Errorf("operation executed %d times without a lock", executions)
	}

	// No admission happened, so no ledger record exists for either branch.
	period := branchrun.PeriodFor(branchrun.CloseDay, anchor)
	for _, b := range branches {
		key := branchrun.RunKey(branchrun.CloseDay, b.ID, period)
		if _, recErr := s.GetRecord(ctx, key); !errors.Is(recErr, branchrun.ErrRecordNotFound) {
			t.Errorf("GetRecord(%s) error = %v, want ErrRecordNotFound", b.Code, recErr)
		}
	}

	// No branch scope leaked past the iterations.
	if _, ok := scope.BranchFrom(ctx); ok {
		t.Error("branch scope active after run with degraded lock store")
	}
}

// failingLedger errors on every admission attempt.
type failingLedger struct{}

func (failingLedger) TryBegin(context.Context, *ledger.Record, time.Duration, bool) (bool, error) {
	return false, errors.New("connection reset by peer")
}

func (failingLedger) RecordSuccess(context.Context, string, json.RawMessage, *time.Time) error {
	return nil
}

func (failingLedger) RecordFailure(context.Context, string, string) error { return nil }

func (failingLedger) GetRecord(context.Context, string) (*ledger.Record, error) {
	return nil, branchrun.ErrRecordNotFound
}

// failureCounter observes branch-failed hook emissions.
type failureCounter struct {
	failed  int
	lastErr error
}

func (f *failureCounter) Name() string { return "failure-counter" }

func (f *failureCounter) OnBranchFailed(_ context.Context, _ branchrun.JobKind, _ *branch.Branch, _ string, err error) error {
	f.failed++
	f.lastErr = err
	return nil
}

func TestRunLedgerErrorEmitsFailedHook(t *testing.T) {
	t.Parallel()

	s := memory.New()
	seedBranches(s, "MAIN")

	executions := 0
	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, _ *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			executions++
			return &operation.Result{}, nil
		},
	))

	hooks := hook.NewRegistry(quiet)
	counter := &failureCounter{}
	hooks.Register(counter)

	o := orchestrator.New(s, s, failingLedger{}, ops,
		orchestrator.WithLogger(quiet),
		orchestrator.WithHooks(hooks),
	)
	summary, err := o.Run(context.Background(), branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Failed != 1 {
		t.Errorf("summary failed = %d, want 1", summary.Failed)
	}
	if counter.failed != 1 {
		t.Errorf("failed hook emitted %d times, want 1", counter.failed)
	}
	if counter.lastErr == nil {
		t.Error("failed hook received nil error")
	}
	if executions != 0 {
		t.Errorf("operation executed %d times despite admission error", executions)
	}
}

func TestRunCanceledBetweenBranches(t *testing.T) {
	t.Parallel()

	s := memory.New()
	seedBranches(s, "ALPHA", "BRAVO", "CHARLIE")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first branch cancels the invocation mid-run.
	executions := 0
	ops := operation.NewRegistry()
	ops.Register(branchrun.CloseDay, operation.Func(
		func(_ context.Context, _ *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			executions++
			cancel()
			return &operation.Result{}, nil
		},
	))

	o := newOrchestrator(s, ops)
	_, err := o.Run(ctx, branchrun.CloseDay, orchestrator.RunOptions{Anchor: anchor})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if executions != 1 {
		t.Errorf("operation executed %d times after cancellation, want 1", executions)
	}
}

func TestRunFilterResolvesSubset(t *testing.T) {
	t.Parallel()

	s := memory.New()
	branches := seedBranches(s, "MAIN", "WEST", "EAST")

	var mu sync.Mutex
	executed := make(map[string]bool)
	ops := operation.NewRegistry()
	ops.Register(branchrun.Payroll, operation.Func(
		func(_ context.Context, b *branch.Branch, _ branchrun.Period, _ bool) (*operation.Result, error) {
			mu.Lock()
			executed[b.Code] = true
			mu.Unlock()
			return &operation.Result{}, nil
		},
	))

	o := newOrchestrator(s, ops)
	summary, err := o.Run(context.Background(), branchrun.Payroll, orchestrator.RunOptions{
		Anchor: anchor,
		Filter: branch.Filter{IDs: []id.BranchID{branches[0].ID}, Codes: []string{"EAST"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Attempted != 2 || summary.Succeeded != 2 {
		t.Errorf("summary attempted/succeeded = %d/%d, want 2/2", summary.Attempted, summary.Succeeded)
	}
	if executed["WEST"] {
		t.Error("filtered-out branch was executed")
	}
	if summary.PeriodKey != "2026-03" {
		t.Errorf("payroll period key = %q, want 2026-03", summary.PeriodKey)
	}
}
