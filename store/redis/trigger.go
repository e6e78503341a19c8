package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/schedule"
	"github.com/oryxerp/branchrun/trigger"
)

// ── JSON model for KV storage ──

type entryEntity struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	JobKind     string        `json:"job_kind"`
	Spec        schedule.Spec `json:"spec"`
	Filter      branch.Filter `json:"filter,omitempty"`
	Enabled     bool          `json:"enabled"`
	LastRunAt   *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time    `json:"next_run_at,omitempty"`
	LockedBy    string        `json:"locked_by"`
	LockedUntil *time.Time    `json:"locked_until,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func toEntryEntity(e *trigger.Entry) *entryEntity {
	return &entryEntity{
		ID:          e.ID.String(),
		Name:        e.Name,
		JobKind:     string(e.JobKind),
		Spec:        e.Spec,
		Filter:      e.Filter,
		Enabled:     e.Enabled,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromEntryEntity(e *entryEntity) (*trigger.Entry, error) {
	eID, err := id.ParseScheduleID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("branchrun/redis: parse entry id: %w", err)
	}

	return &trigger.Entry{
		Entity: branchrun.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:          eID,
		Name:        e.Name,
		JobKind:     branchrun.JobKind(e.JobKind),
		Spec:        e.Spec,
		Filter:      e.Filter,
		Enabled:     e.Enabled,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
	}, nil
}

// RegisterEntry persists a new schedule entry.
func (s *Store) RegisterEntry(ctx context.Context, entry *trigger.Entry) error {
	eID := entry.ID.String()
	key := entryKey(eID)

	// Check for duplicate name.
	existing, err := s.client.HGet(ctx, entryNamesKey, entry.Name).Result()
	if err != nil && !isRedisNil(err) {
		return fmt.Errorf("branchrun/redis: register entry check name: %w", err)
	}
	if existing != "" {
		return branchrun.ErrDuplicateEntry
	}

	e := toEntryEntity(entry)
	if setErr := s.setEntity(ctx, key, e); setErr != nil {
		return fmt.Errorf("branchrun/redis: register entry set: %w", setErr)
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, entryIDsKey, eID)
	pipe.HSet(ctx, entryNamesKey, entry.Name, eID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("branchrun/redis: register entry indexes: %w", err)
	}
	return nil
}

// GetEntry retrieves a schedule entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.ScheduleID) (*trigger.Entry, error) {
	var e entryEntity
	if err := s.getEntity(ctx, entryKey(entryID.String()), &e); err != nil {
		if isNotFound(err) {
			return nil, branchrun.ErrEntryNotFound
		}
		return nil, fmt.Errorf("branchrun/redis: get entry: %w", err)
	}
	return fromEntryEntity(&e)
}

// ListEntries returns all schedule entries.
func (s *Store) ListEntries(ctx context.Context) ([]*trigger.Entry, error) {
	ids, err := s.client.SMembers(ctx, entryIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("branchrun/redis: list entries: %w", err)
	}

	entries := make([]*trigger.Entry, 0, len(ids))
	for _, eID := range ids {
		var e entryEntity
		if getErr := s.getEntity(ctx, entryKey(eID), &e); getErr != nil {
			continue
		}
		entry, convErr := fromEntryEntity(&e)
		if convErr != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// UpdateEntry updates a schedule entry.
func (s *Store) UpdateEntry(ctx context.Context, entry *trigger.Entry) error {
	key := entryKey(entry.ID.String())
	exists, err := s.entityExists(ctx, key)
	if err != nil {
		return fmt.Errorf("branchrun/redis: update entry exists: %w", err)
	}
	if !exists {
		return branchrun.ErrEntryNotFound
	}

	e := toEntryEntity(entry)
	e.UpdatedAt = now()
	return s.setEntity(ctx, key, e)
}

// UpdateEntryLastRun records when a schedule entry last fired.
func (s *Store) UpdateEntryLastRun(ctx context.Context, entryID id.ScheduleID, at time.Time) error {
	key := entryKey(entryID.String())
	var e entryEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return branchrun.ErrEntryNotFound
		}
		return fmt.Errorf("branchrun/redis: update last run get: %w", err)
	}

	e.LastRunAt = &at
	e.UpdatedAt = now()
	return s.setEntity(ctx, key, &e)
}

// DeleteEntry removes a schedule entry by ID.
func (s *Store) DeleteEntry(ctx context.Context, entryID id.ScheduleID) error {
	eID := entryID.String()
	key := entryKey(eID)

	// Get name for name index cleanup.
	var e entryEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return branchrun.ErrEntryNotFound
		}
		return fmt.Errorf("branchrun/redis: delete entry get: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, entryIDsKey, eID)
	if e.Name != "" {
		pipe.HDel(ctx, entryNamesKey, e.Name)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("branchrun/redis: delete entry: %w", err)
	}
	return nil
}

// AcquireEntryLock attempts to take the per-entry lock.
func (s *Store) AcquireEntryLock(ctx context.Context, entryID id.ScheduleID, owner id.RunnerID, ttl time.Duration) (bool, error) {
	key := entryKey(entryID.String())
	oID := owner.String()
	t := now()
	until := t.Add(ttl)

	// Read current entity.
	var e entryEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return false, branchrun.ErrEntryNotFound
		}
		return false, fmt.Errorf("branchrun/redis: acquire entry lock get: %w", err)
	}

	// Check current lock state.
	if e.LockedBy != "" && e.LockedBy != oID {
		// Someone else holds the lock -- check if expired.
		if e.LockedUntil != nil && e.LockedUntil.After(t) {
			return false, nil // lock still valid
		}
	}

	// Acquire or re-acquire.
	e.LockedBy = oID
	e.LockedUntil = &until
	e.UpdatedAt = t
	if err := s.setEntity(ctx, key, &e); err != nil {
		return false, fmt.Errorf("branchrun/redis: acquire entry lock set: %w", err)
	}
	return true, nil
}

// ReleaseEntryLock releases the per-entry lock.
func (s *Store) ReleaseEntryLock(ctx context.Context, entryID id.ScheduleID, owner id.RunnerID) error {
	key := entryKey(entryID.String())
	oID := owner.String()

	var e entryEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return nil // entry gone, no-op
		}
		return fmt.Errorf("branchrun/redis: release entry lock get: %w", err)
	}

	if e.LockedBy != oID {
		return nil // not our lock, no-op
	}

	e.LockedBy = ""
	e.LockedUntil = nil
	e.UpdatedAt = now()
	return s.setEntity(ctx, key, &e)
}
