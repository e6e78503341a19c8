package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/ledger"
)

// TryBegin admits a run attempt in a single upsert. The conflict clause only
// overwrites a failed record, a pending record past the stale cutoff, or any
// record when the attempt is forced; zero rows affected means the attempt
// was blocked by a success or a fresh pending record.
func (s *Store) TryBegin(ctx context.Context, rec *ledger.Record, stale time.Duration, forced bool) (bool, error) {
	staleCutoff := time.Now().UTC().Add(-stale)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO branchrun_run_records (
			key, id, job_kind, branch_id, period_key, status,
			started_at, forced, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (key) DO UPDATE SET
			id = EXCLUDED.id,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			finished_at = NULL,
			result = NULL,
			error = NULL,
			next_run_at = NULL,
			forced = EXCLUDED.forced,
			updated_at = NOW()
		WHERE $10
		   OR branchrun_run_records.status = 'failed'
		   OR (branchrun_run_records.status = 'pending' AND branchrun_run_records.started_at <= $11)`,
		rec.Key, rec.ID.String(), string(rec.JobKind), rec.BranchID.String(), rec.PeriodKey, string(rec.Status),
		rec.StartedAt, rec.Forced, rec.CreatedAt,
		forced, staleCutoff,
	)
	if err != nil {
		return false, fmt.Errorf("branchrun/postgres: try begin: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// RecordSuccess finalizes the record for key as succeeded.
func (s *Store) RecordSuccess(ctx context.Context, key string, result json.RawMessage, nextRunAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE branchrun_run_records
		SET status = 'success', finished_at = NOW(), result = $2,
		    next_run_at = $3, error = NULL, updated_at = NOW()
		WHERE key = $1`,
		key, result, nextRunAt,
	)
	if err != nil {
		return fmt.Errorf("branchrun/postgres: record success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return branchrun.ErrRecordNotFound
	}
	return nil
}

// RecordFailure finalizes the record for key as failed.
func (s *Store) RecordFailure(ctx context.Context, key string, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE branchrun_run_records
		SET status = 'failed', finished_at = NOW(), error = $2, updated_at = NOW()
		WHERE key = $1`,
		key, errMsg,
	)
	if err != nil {
		return fmt.Errorf("branchrun/postgres: record failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return branchrun.ErrRecordNotFound
	}
	return nil
}

// GetRecord retrieves the current record for key.
func (s *Store) GetRecord(ctx context.Context, key string) (*ledger.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			key, id, job_kind, branch_id, period_key, status,
			started_at, finished_at, result, error, next_run_at, forced,
			created_at, updated_at
		FROM branchrun_run_records
		WHERE key = $1`,
		key,
	)

	rec, err := scanRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, branchrun.ErrRecordNotFound
		}
		return nil, fmt.Errorf("branchrun/postgres: get record: %w", err)
	}
	return rec, nil
}

// scanRecord scans a single run record row.
func scanRecord(row pgx.Row) (*ledger.Record, error) {
	var (
		rec       ledger.Record
		idStr     string
		branchStr string
		kind      string
		status    string
		errMsg    *string
	)
	err := row.Scan(
		&rec.Key, &idStr, &kind, &branchStr, &rec.PeriodKey, &status,
		&rec.StartedAt, &rec.FinishedAt, &rec.Result, &errMsg, &rec.NextRunAt, &rec.Forced,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseRunID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("branchrun/postgres: parse run id %q: %w", idStr, parseErr)
	}
	rec.ID = parsedID

	parsedBranch, parseErr := id.ParseBranchID(branchStr)
	if parseErr != nil {
		return nil, fmt.Errorf("branchrun/postgres: parse branch id %q: %w", branchStr, parseErr)
	}
	rec.BranchID = parsedBranch

	rec.JobKind = branchrun.JobKind(kind)
	rec.Status = ledger.Status(status)
	if errMsg != nil {
		rec.Error = *errMsg
	}

	return &rec, nil
}
