package trigger

import (
	"context"
	"time"

	"github.com/oryxerp/branchrun/id"
)

// Store defines the persistence contract for schedule entries.
// Implementations return branchrun.ErrEntryNotFound and
// branchrun.ErrDuplicateEntry where noted.
type Store interface {
	// RegisterEntry persists a new schedule entry. Returns
	// branchrun.ErrDuplicateEntry if the name already exists.
	RegisterEntry(ctx context.Context, e *Entry) error

	// GetEntry retrieves a schedule entry by ID.
	GetEntry(ctx context.Context, entryID id.ScheduleID) (*Entry, error)

	// ListEntries returns all schedule entries.
	ListEntries(ctx context.Context) ([]*Entry, error)

	// UpdateEntry persists changes to an existing entry.
	UpdateEntry(ctx context.Context, e *Entry) error

	// UpdateEntryLastRun records when an entry last fired.
	UpdateEntryLastRun(ctx context.Context, entryID id.ScheduleID, at time.Time) error

	// DeleteEntry removes an entry by ID.
	DeleteEntry(ctx context.Context, entryID id.ScheduleID) error

	// AcquireEntryLock attempts to take the per-entry lock. Returns true
	// when this owner now holds it; false when another owner's unexpired
	// lock exists.
	AcquireEntryLock(ctx context.Context, entryID id.ScheduleID, owner id.RunnerID, ttl time.Duration) (bool, error)

	// ReleaseEntryLock releases the per-entry lock if held by owner;
	// releasing a lock held by someone else is a no-op.
	ReleaseEntryLock(ctx context.Context, entryID id.ScheduleID, owner id.RunnerID) error
}
