package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/ledger"
	"github.com/oryxerp/branchrun/lock"
	"github.com/oryxerp/branchrun/trigger"
)

// Ensure Store implements every subsystem contract at compile time.
var (
	_ ledger.Store     = (*Store)(nil)
	_ trigger.Store    = (*Store)(nil)
	_ branch.Directory = (*Store)(nil)
	_ lock.Locker      = (*Store)(nil)
)

// memLock is one held distributed lock.
type memLock struct {
	owner   string
	expires time.Time
}

// Store is a fully in-memory implementation of store.Store and lock.Locker.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	branches map[string]*branch.Branch // key: branch ID
	records  map[string]*ledger.Record // key: run key
	entries  map[string]*trigger.Entry // key: schedule ID
	locks    map[string]memLock        // key: run key
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		branches: make(map[string]*branch.Branch),
		records:  make(map[string]*ledger.Record),
		entries:  make(map[string]*trigger.Entry),
		locks:    make(map[string]memLock),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Distributed lock
// ──────────────────────────────────────────────────

// Acquire attempts a single set-if-absent for the key. Expired holds are
// taken over.
func (m *Store) Acquire(_ context.Context, key string, ttl time.Duration) (*lock.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if l, held := m.locks[key]; held && l.expires.After(now) {
		return nil, nil // held elsewhere
	}

	owner := id.NewRunnerID()
	m.locks[key] = memLock{owner: owner.String(), expires: now.Add(ttl)}
	return &lock.Handle{Key: key, Owner: owner, TTL: ttl, AcquiredAt: now}, nil
}

// Release frees the lock if this handle's owner still holds it.
func (m *Store) Release(_ context.Context, h *lock.Handle) error {
	if h == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if l, held := m.locks[h.Key]; held && l.owner == h.Owner.String() {
		delete(m.locks, h.Key)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Run ledger
// ──────────────────────────────────────────────────

// TryBegin admits a new attempt unless a success or a fresh pending record
// exists for the key. Forced admission always succeeds.
func (m *Store) TryBegin(_ context.Context, rec *ledger.Record, stale time.Duration, forced bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.records[rec.Key]; ok && !forced {
		switch existing.Status {
		case ledger.StatusSuccess:
			return false, nil
		case ledger.StatusPending:
			if !existing.Stale(stale, now) {
				return false, nil
			}
		case ledger.StatusFailed:
			// Failed runs may always be retried.
		}
	}

	cp := *rec
	cp.UpdatedAt = now
	m.records[rec.Key] = &cp
	return true, nil
}

// RecordSuccess finalizes the record for key as succeeded.
func (m *Store) RecordSuccess(_ context.Context, key string, result json.RawMessage, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[key]
	if !ok {
		return branchrun.ErrRecordNotFound
	}

	now := time.Now().UTC()
	r.Status = ledger.StatusSuccess
	r.FinishedAt = &now
	r.Result = result
	r.NextRunAt = nextRunAt
	r.Error = ""
	r.UpdatedAt = now
	return nil
}

// RecordFailure finalizes the record for key as failed.
func (m *Store) RecordFailure(_ context.Context, key string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[key]
	if !ok {
		return branchrun.ErrRecordNotFound
	}

	now := time.Now().UTC()
	r.Status = ledger.StatusFailed
	r.FinishedAt = &now
	r.Error = errMsg
	r.UpdatedAt = now
	return nil
}

// GetRecord retrieves the current record for key.
func (m *Store) GetRecord(_ context.Context, key string) (*ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[key]
	if !ok {
		return nil, branchrun.ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Branch directory
// ──────────────────────────────────────────────────

// PutBranch seeds a branch. Branches are owned by the admin layer in
// production; this exists for tests and development.
func (m *Store) PutBranch(b *branch.Branch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *b
	m.branches[b.ID.String()] = &cp
}

// ListActive returns all active branches sorted by code.
func (m *Store) ListActive(_ context.Context) ([]*branch.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*branch.Branch, 0, len(m.branches))
	for _, b := range m.branches {
		if !b.Active {
			continue
		}
		cp := *b
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].Code < result[k].Code
	})

	return result, nil
}

// GetBranch retrieves a branch by ID.
func (m *Store) GetBranch(_ context.Context, branchID id.BranchID) (*branch.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.branches[branchID.String()]
	if !ok {
		return nil, branchrun.ErrBranchNotFound
	}
	cp := *b
	return &cp, nil
}

// GetBranchByCode retrieves a branch by its code.
func (m *Store) GetBranchByCode(_ context.Context, code string) (*branch.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.branches {
		if b.Code == code {
			cp := *b
			return &cp, nil
		}
	}
	return nil, branchrun.ErrBranchNotFound
}

// ──────────────────────────────────────────────────
// Trigger schedule store
// ──────────────────────────────────────────────────

// RegisterEntry persists a new schedule entry. Returns an error if the name
// already exists.
func (m *Store) RegisterEntry(_ context.Context, e *trigger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entries {
		if existing.Name == e.Name {
			return branchrun.ErrDuplicateEntry
		}
	}

	cp := *e
	m.entries[e.ID.String()] = &cp
	return nil
}

// GetEntry retrieves a schedule entry by ID.
func (m *Store) GetEntry(_ context.Context, entryID id.ScheduleID) (*trigger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, branchrun.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// ListEntries returns all schedule entries.
func (m *Store) ListEntries(_ context.Context) ([]*trigger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*trigger.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// UpdateEntry persists changes to an existing entry.
func (m *Store) UpdateEntry(_ context.Context, e *trigger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, ok := m.entries[key]; !ok {
		return branchrun.ErrEntryNotFound
	}

	cp := *e
	cp.UpdatedAt = time.Now().UTC()
	m.entries[key] = &cp
	return nil
}

// UpdateEntryLastRun records when an entry last fired.
func (m *Store) UpdateEntryLastRun(_ context.Context, entryID id.ScheduleID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return branchrun.ErrEntryNotFound
	}
	e.LastRunAt = &at
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteEntry removes an entry by ID.
func (m *Store) DeleteEntry(_ context.Context, entryID id.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.entries[key]; !ok {
		return branchrun.ErrEntryNotFound
	}
	delete(m.entries, key)
	return nil
}

// AcquireEntryLock attempts to take the per-entry lock.
func (m *Store) AcquireEntryLock(_ context.Context, entryID id.ScheduleID, owner id.RunnerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return false, branchrun.ErrEntryNotFound
	}

	now := time.Now().UTC()
	if e.LockedBy != "" && e.LockedBy != owner.String() {
		if e.LockedUntil != nil && e.LockedUntil.After(now) {
			return false, nil // lock still valid
		}
	}

	until := now.Add(ttl)
	e.LockedBy = owner.String()
	e.LockedUntil = &until
	return true, nil
}

// ReleaseEntryLock releases the per-entry lock.
func (m *Store) ReleaseEntryLock(_ context.Context, entryID id.ScheduleID, owner id.RunnerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil // entry gone, no-op
	}

	if e.LockedBy != owner.String() {
		return nil // not our lock, no-op
	}

	e.LockedBy = ""
	e.LockedUntil = nil
	return nil
}
