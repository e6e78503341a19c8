package trigger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/schedule"
	"github.com/oryxerp/branchrun/store/memory"
	"github.com/oryxerp/branchrun/trigger"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newEntry(name string, kind branchrun.JobKind) *trigger.Entry {
	return &trigger.Entry{
		Name:    name,
		JobKind: kind,
		Spec:    schedule.Spec{Frequency: schedule.Daily, TimeOfDay: "23:30"},
		Enabled: true,
	}
}

func TestRegisterComputesNextRun(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	e := newEntry("nightly-close", branchrun.CloseDay)
	if err := trigger.Register(ctx, s, e, now); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if e.ID.IsNil() {
		t.Error("Register() did not assign an ID")
	}
	want := time.Date(2026, 3, 16, 23, 30, 0, 0, time.UTC)
	if e.NextRunAt == nil || !e.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", e.NextRunAt, want)
	}

	// Re-registration of the same name is idempotent.
	again := newEntry("nightly-close", branchrun.CloseDay)
	if err := trigger.Register(ctx, s, again, now); err != nil {
		t.Fatalf("re-Register() error = %v", err)
	}

	entries, err := s.ListEntries(ctx)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("ListEntries() returned %d entries after idempotent register, want 1", len(entries))
	}
}

func TestRegisterRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	s := memory.New()
	e := newEntry("year-end", branchrun.JobKind("year-end"))

	err := trigger.Register(context.Background(), s, e, time.Now().UTC())
	if !errors.Is(err, branchrun.ErrUnknownJobKind) {
		t.Fatalf("Register() error = %v, want ErrUnknownJobKind", err)
	}
}

func TestRegisterRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	s := memory.New()
	e := newEntry("bad-clock", branchrun.CloseDay)
	e.Spec.TimeOfDay = "25:99"

	if err := trigger.Register(context.Background(), s, e, time.Now().UTC()); err == nil {
		t.Fatal("Register() accepted invalid time of day")
	}
}

func makeDue(t *testing.T, s *memory.Store, e *trigger.Entry) {
	t.Helper()

	past := time.Now().UTC().Add(-time.Minute)
	e.NextRunAt = &past
	if err := s.UpdateEntry(context.Background(), e); err != nil {
		t.Fatalf("UpdateEntry() error = %v", err)
	}
}

func TestTickFiresDueEntry(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEntry("nightly-close", branchrun.CloseDay)
	if err := trigger.Register(ctx, s, e, now); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	makeDue(t, s, e)

	fired := 0
	var gotEntry *trigger.Entry
	var gotNext time.Time
	run := func(_ context.Context, fe *trigger.Entry, _ time.Time, next time.Time) error {
		fired++
		gotEntry = fe
		gotNext = next
		return nil
	}

	sched := trigger.NewScheduler(s, run, nil, quiet)
	sched.Tick(ctx)

	if fired != 1 {
		t.Fatalf("run fired %d times, want 1", fired)
	}
	if gotEntry.Name != "nightly-close" {
		t.Errorf("fired entry = %q", gotEntry.Name)
	}
	if !gotNext.After(now) {
		t.Errorf("computed next run %v not after now", gotNext)
	}

	// The entry advanced: LastRunAt set, NextRunAt in the future.
	updated, err := s.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if updated.LastRunAt == nil {
		t.Error("LastRunAt not recorded after fire")
	}
	if updated.NextRunAt == nil || !updated.NextRunAt.After(now) {
		t.Errorf("NextRunAt = %v, want future", updated.NextRunAt)
	}

	// A second tick must not fire again.
	sched.Tick(ctx)
	if fired != 1 {
		t.Errorf("run fired %d times after second tick, want 1", fired)
	}
}

func TestTickSkipsNotDueAndDisabled(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	future := newEntry("nightly-close", branchrun.CloseDay)
	if err := trigger.Register(ctx, s, future, now); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	disabled := newEntry("monthly-payroll", branchrun.Payroll)
	disabled.Spec = schedule.Spec{Frequency: schedule.Monthly, TimeOfDay: "06:00", DayOfMonth: 1}
	if err := trigger.Register(ctx, s, disabled, now); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	makeDue(t, s, disabled)
	disabled.Enabled = false
	if err := s.UpdateEntry(ctx, disabled); err != nil {
		t.Fatalf("UpdateEntry() error = %v", err)
	}

	fired := 0
	run := func(_ context.Context, _ *trigger.Entry, _, _ time.Time) error {
		fired++
		return nil
	}

	trigger.NewScheduler(s, run, nil, quiet).Tick(ctx)

	if fired != 0 {
		t.Errorf("run fired %d times, want 0", fired)
	}
}

func TestTickLeavesNextRunOnError(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	e := newEntry("nightly-close", branchrun.CloseDay)
	if err := trigger.Register(ctx, s, e, time.Now().UTC()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	makeDue(t, s, e)
	dueAt := *e.NextRunAt

	run := func(_ context.Context, _ *trigger.Entry, _, _ time.Time) error {
		return errors.New("store unreachable")
	}

	sched := trigger.NewScheduler(s, run, nil, quiet)
	sched.Tick(ctx)

	// NextRunAt untouched so the entry fires again on the next tick.
	updated, err := s.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if updated.NextRunAt == nil || !updated.NextRunAt.Equal(dueAt) {
		t.Errorf("NextRunAt = %v, want unchanged %v", updated.NextRunAt, dueAt)
	}
	if updated.LastRunAt != nil {
		t.Errorf("LastRunAt = %v after failed fire, want nil", updated.LastRunAt)
	}
}

func TestTickRespectsEntryLock(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	e := newEntry("nightly-close", branchrun.CloseDay)
	if err := trigger.Register(ctx, s, e, time.Now().UTC()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	makeDue(t, s, e)

	// Another scheduler instance holds this entry's lock.
	if ok, err := s.AcquireEntryLock(ctx, e.ID, id.NewRunnerID(), time.Minute); err != nil || !ok {
		t.Fatalf("AcquireEntryLock() = %v, %v", ok, err)
	}

	fired := 0
	run := func(_ context.Context, _ *trigger.Entry, _, _ time.Time) error {
		fired++
		return nil
	}

	trigger.NewScheduler(s, run, nil, quiet).Tick(ctx)

	if fired != 0 {
		t.Errorf("run fired %d times while entry locked, want 0", fired)
	}
}

// writeCountStore counts entry persistence calls made by the scheduler.
type writeCountStore struct {
	*memory.Store
	entryWrites   int
	lastRunWrites int
}

func (s *writeCountStore) UpdateEntry(ctx context.Context, e *trigger.Entry) error {
	s.entryWrites++
	return s.Store.UpdateEntry(ctx, e)
}

func (s *writeCountStore) UpdateEntryLastRun(ctx context.Context, entryID id.ScheduleID, at time.Time) error {
	s.lastRunWrites++
	return s.Store.UpdateEntryLastRun(ctx, entryID, at)
}

func TestTickPersistsEntryOnce(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEntry("nightly-close", branchrun.CloseDay)
	if err := trigger.Register(ctx, mem, e, now); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	makeDue(t, mem, e)

	run := func(_ context.Context, _ *trigger.Entry, _, _ time.Time) error {
		return nil
	}

	counting := &writeCountStore{Store: mem}
	trigger.NewScheduler(counting, run, nil, quiet).Tick(ctx)

	// The fire advances LastRunAt and NextRunAt with a single write.
	if total := counting.entryWrites + counting.lastRunWrites; total != 1 {
		t.Fatalf("entry persisted %d times per fire, want 1", total)
	}

	updated, err := mem.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if updated.LastRunAt == nil {
		t.Error("LastRunAt not recorded after fire")
	}
	if updated.NextRunAt == nil || !updated.NextRunAt.After(now) {
		t.Errorf("NextRunAt = %v, want future", updated.NextRunAt)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := memory.New()
	sched := trigger.NewScheduler(s, func(_ context.Context, _ *trigger.Entry, _, _ time.Time) error {
		return nil
	}, nil, quiet, trigger.WithTickInterval(10*time.Millisecond))

	ctx := context.Background()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
