package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/trigger"
)

// RegisterEntry persists a new schedule entry. Returns an error if the name
// already exists.
func (s *Store) RegisterEntry(ctx context.Context, entry *trigger.Entry) error {
	m, err := toScheduleEntryModel(entry)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return branchrun.ErrDuplicateEntry
		}
		return fmt.Errorf("branchrun/bun: register entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a schedule entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.ScheduleID) (*trigger.Entry, error) {
	m := new(scheduleEntryModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, branchrun.ErrEntryNotFound
		}
		return nil, fmt.Errorf("branchrun/bun: get entry: %w", err)
	}
	return fromScheduleEntryModel(m)
}

// ListEntries returns all schedule entries.
func (s *Store) ListEntries(ctx context.Context) ([]*trigger.Entry, error) {
	var models []scheduleEntryModel
	err := s.db.NewSelect().Model(&models).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("branchrun/bun: list entries: %w", err)
	}

	entries := make([]*trigger.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromScheduleEntryModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("branchrun/bun: list entries convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpdateEntry updates a schedule entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateEntry(ctx context.Context, entry *trigger.Entry) error {
	m, err := toScheduleEntryModel(entry)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("branchrun/bun: update entry: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return branchrun.ErrEntryNotFound
	}
	return nil
}

// UpdateEntryLastRun records when a schedule entry last fired.
func (s *Store) UpdateEntryLastRun(ctx context.Context, entryID id.ScheduleID, at time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("branchrun_schedule_entries").
		Set("last_run_at = ?", at).
		Set("updated_at = NOW()").
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("branchrun/bun: update entry last run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return branchrun.ErrEntryNotFound
	}
	return nil
}

// DeleteEntry removes a schedule entry by ID.
func (s *Store) DeleteEntry(ctx context.Context, entryID id.ScheduleID) error {
	res, err := s.db.NewDelete().
		TableExpr("branchrun_schedule_entries").
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("branchrun/bun: delete entry: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return branchrun.ErrEntryNotFound
	}
	return nil
}

// AcquireEntryLock attempts to take the per-entry lock.
// Succeeds when no lock exists, the lock expired, or this owner already
// holds it.
func (s *Store) AcquireEntryLock(ctx context.Context, entryID id.ScheduleID, owner id.RunnerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	until := now.Add(ttl)
	oID := owner.String()

	res, err := s.db.NewUpdate().
		TableExpr("branchrun_schedule_entries").
		Set("locked_by = ?", oID).
		Set("locked_until = ?", until).
		Set("updated_at = NOW()").
		Where("id = ?", entryID.String()).
		Where("(locked_by IS NULL OR locked_until < ? OR locked_by = ?)", now, oID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("branchrun/bun: acquire entry lock: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		// Check if the entry exists at all.
		exists, existErr := s.db.NewSelect().
			TableExpr("branchrun_schedule_entries").
			Where("id = ?", entryID.String()).
			Exists(ctx)
		if existErr != nil {
			return false, fmt.Errorf("branchrun/bun: check entry exists: %w", existErr)
		}
		if !exists {
			return false, branchrun.ErrEntryNotFound
		}
		// Entry exists but lock is held by someone else.
		return false, nil
	}

	return true, nil
}

// ReleaseEntryLock releases the per-entry lock.
func (s *Store) ReleaseEntryLock(ctx context.Context, entryID id.ScheduleID, owner id.RunnerID) error {
	_, err := s.db.NewUpdate().
		TableExpr("branchrun_schedule_entries").
		Set("locked_by = NULL").
		Set("locked_until = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", entryID.String()).
		Where("locked_by = ?", owner.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("branchrun/bun: release entry lock: %w", err)
	}
	return nil
}
