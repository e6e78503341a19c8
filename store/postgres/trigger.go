package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/trigger"
)

// RegisterEntry persists a new schedule entry. Returns an error if the name
// already exists.
func (s *Store) RegisterEntry(ctx context.Context, entry *trigger.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO branchrun_schedule_entries (
			id, name, job_kind, spec, filter,
			enabled, last_run_at, next_run_at, locked_by, locked_until,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID.String(), entry.Name, string(entry.JobKind), entry.Spec, entry.Filter,
		entry.Enabled, entry.LastRunAt, entry.NextRunAt, nilIfEmpty(entry.LockedBy), entry.LockedUntil,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return branchrun.ErrDuplicateEntry
		}
		return fmt.Errorf("branchrun/postgres: register entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a schedule entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.ScheduleID) (*trigger.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, name, job_kind, spec, filter,
			enabled, last_run_at, next_run_at, locked_by, locked_until,
			created_at, updated_at
		FROM branchrun_schedule_entries
		WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, branchrun.ErrEntryNotFound
		}
		return nil, fmt.Errorf("branchrun/postgres: get entry: %w", err)
	}
	return e, nil
}

// ListEntries returns all schedule entries.
func (s *Store) ListEntries(ctx context.Context) ([]*trigger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, name, job_kind, spec, filter,
			enabled, last_run_at, next_run_at, locked_by, locked_until,
			created_at, updated_at
		FROM branchrun_schedule_entries
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("branchrun/postgres: list entries: %w", err)
	}
	defer rows.Close()

	var entries []*trigger.Entry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("branchrun/postgres: scan entry row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("branchrun/postgres: iterate entry rows: %w", err)
	}
	return entries, nil
}

// UpdateEntry updates a schedule entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateEntry(ctx context.Context, entry *trigger.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE branchrun_schedule_entries SET
			name = $2, job_kind = $3, spec = $4, filter = $5,
			enabled = $6, last_run_at = $7, next_run_at = $8,
			locked_by = $9, locked_until = $10,
			updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Name, string(entry.JobKind), entry.Spec, entry.Filter,
		entry.Enabled, entry.LastRunAt, entry.NextRunAt,
		nilIfEmpty(entry.LockedBy), entry.LockedUntil,
	)
	if err != nil {
		return fmt.Errorf("branchrun/postgres: update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return branchrun.ErrEntryNotFound
	}
	return nil
}

// UpdateEntryLastRun records when a schedule entry last fired.
func (s *Store) UpdateEntryLastRun(ctx context.Context, entryID id.ScheduleID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE branchrun_schedule_entries
		SET last_run_at = $2, updated_at = NOW()
		WHERE id = $1`,
		entryID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("branchrun/postgres: update entry last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return branchrun.ErrEntryNotFound
	}
	return nil
}

// DeleteEntry removes a schedule entry by ID.
func (s *Store) DeleteEntry(ctx context.Context, entryID id.ScheduleID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM branchrun_schedule_entries WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("branchrun/postgres: delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
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

	tag, err := s.pool.Exec(ctx, `
		UPDATE branchrun_schedule_entries
		SET locked_by = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
		  AND (locked_by IS NULL OR locked_until < $4 OR locked_by = $2)`,
		entryID.String(), oID, until, now,
	)
	if err != nil {
		return false, fmt.Errorf("branchrun/postgres: acquire entry lock: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Check if the entry exists at all.
		var exists bool
		existErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM branchrun_schedule_entries WHERE id = $1)`,
			entryID.String(),
		).Scan(&exists)
		if existErr != nil {
			return false, fmt.Errorf("branchrun/postgres: check entry exists: %w", existErr)
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
	_, err := s.pool.Exec(ctx, `
		UPDATE branchrun_schedule_entries
		SET locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		entryID.String(), owner.String(),
	)
	if err != nil {
		return fmt.Errorf("branchrun/postgres: release entry lock: %w", err)
	}
	return nil
}

// scanEntry scans a single schedule entry row.
func scanEntry(row pgx.Row) (*trigger.Entry, error) {
	var (
		e      trigger.Entry
		idStr  string
		kind   string
		lockBy *string
	)
	err := row.Scan(
		&idStr, &e.Name, &kind, &e.Spec, &e.Filter,
		&e.Enabled, &e.LastRunAt, &e.NextRunAt, &lockBy, &e.LockedUntil,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseScheduleID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("branchrun/postgres: parse entry id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	e.JobKind = branchrun.JobKind(kind)
	if lockBy != nil {
		e.LockedBy = *lockBy
	}

	return &e, nil
}
