// Package trigger runs persisted schedule entries on a tick loop and fires
// the orchestrator when an entry comes due.
//
// Concurrent scheduler instances are safe without leader election: each
// fire is guarded by a per-entry TTL lock, and every downstream run is
// independently idempotent through the distributed lock and the run ledger.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
)

// RunFunc invokes the orchestrator for a due entry with the fire time as
// the period anchor and the entry's next computed fire time. This breaks
// the import cycle: the application provides the implementation on top of
// orchestrator.Run.
type RunFunc func(ctx context.Context, e *Entry, anchor time.Time, nextRun time.Time) error

// Emitter emits trigger lifecycle events.
// hook.Registry satisfies this interface via EmitTriggerFired.
type Emitter interface {
	EmitTriggerFired(ctx context.Context, entryName string, kind branchrun.JobKind)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithEntryLockTTL sets the TTL for per-entry locks.
func WithEntryLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.entryLockTTL = d }
}

// Scheduler fires due schedule entries on a tick loop.
type Scheduler struct {
	store   Store
	run     RunFunc
	emitter Emitter
	ownerID id.RunnerID
	logger  *slog.Logger

	tickInterval time.Duration
	entryLockTTL time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, run RunFunc, emitter Emitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		run:          run,
		emitter:      emitter,
		ownerID:      id.NewRunnerID(),
		logger:       logger,
		tickInterval: 30 * time.Second,
		entryLockTTL: time.Minute,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("trigger scheduler started",
		slog.String("owner_id", s.ownerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("trigger scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick processes all currently due entries once. Exported so callers can
// drive the scheduler from their own loop or from tests.
func (s *Scheduler) Tick(ctx context.Context) {
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		s.logger.Error("list entries error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if !e.Due(now) {
			continue
		}
		s.fireEntry(ctx, e, now)
	}
}

func (s *Scheduler) fireEntry(ctx context.Context, e *Entry, now time.Time) {
	acquired, err := s.store.AcquireEntryLock(ctx, e.ID, s.ownerID, s.entryLockTTL)
	if err != nil {
		s.logger.Error("acquire entry lock error",
			slog.String("entry", e.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return // Another scheduler instance got it.
	}
	defer func() {
		if relErr := s.store.ReleaseEntryLock(ctx, e.ID, s.ownerID); relErr != nil {
			s.logger.Error("release entry lock error",
				slog.String("entry", e.Name),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	next, nextErr := e.Spec.Next(now)
	if nextErr != nil {
		s.logger.Error("compute next run error",
			slog.String("entry", e.Name),
			slog.String("error", nextErr.Error()),
		)
		return
	}

	if runErr := s.run(ctx, e, now, next); runErr != nil {
		// Invocation-level failure (bad filter, unknown kind). NextRunAt
		// stays untouched so the entry is retried on the next tick.
		s.logger.Error("trigger run error",
			slog.String("entry", e.Name),
			slog.String("job_kind", string(e.JobKind)),
			slog.String("error", runErr.Error()),
		)
		return
	}

	// One write advances both timestamps.
	e.LastRunAt = &now
	e.NextRunAt = &next
	if updateErr := s.store.UpdateEntry(ctx, e); updateErr != nil {
		s.logger.Error("update entry after fire error",
			slog.String("entry", e.Name),
			slog.String("error", updateErr.Error()),
		)
	}

	if s.emitter != nil {
		s.emitter.EmitTriggerFired(ctx, e.Name, e.JobKind)
	}

	s.logger.Info("trigger fired",
		slog.String("entry", e.Name),
		slog.String("job_kind", string(e.JobKind)),
		slog.Time("next_run_at", next),
	)
}

// Register validates a schedule entry, computes its initial NextRunAt, and
// persists it. Re-registration of the same name is idempotent.
func Register(ctx context.Context, store Store, e *Entry, now time.Time) error {
	if !e.JobKind.Valid() {
		return fmt.Errorf("trigger: register %q: %w", e.Name, branchrun.ErrUnknownJobKind)
	}

	next, err := e.Spec.Next(now.UTC())
	if err != nil {
		return fmt.Errorf("trigger: register %q: %w", e.Name, err)
	}

	if e.ID.IsNil() {
		e.ID = id.NewScheduleID()
	}
	if e.CreatedAt.IsZero() {
		e.Entity = branchrun.NewEntity()
	}
	e.NextRunAt = &next

	if regErr := store.RegisterEntry(ctx, e); regErr != nil {
		// Idempotent: an entry with the same name already exists.
		if errors.Is(regErr, branchrun.ErrDuplicateEntry) {
			return nil
		}
		return fmt.Errorf("trigger: register %q: %w", e.Name, regErr)
	}

	return nil
}
