package bunstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/ledger"
)

// TryBegin admits a run attempt in a single upsert. The conflict clause only
// overwrites a failed record, a pending record past the stale cutoff, or any
// record when the attempt is forced.
func (s *Store) TryBegin(ctx context.Context, rec *ledger.Record, stale time.Duration, forced bool) (bool, error) {
	staleCutoff := time.Now().UTC().Add(-stale)
	m := toRunRecordModel(rec)

	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT (key) DO UPDATE").
		Set("id = EXCLUDED.id").
		Set("status = EXCLUDED.status").
		Set("started_at = EXCLUDED.started_at").
		Set("finished_at = NULL").
		Set("result = NULL").
		Set("error = NULL").
		Set("next_run_at = NULL").
		Set("forced = EXCLUDED.forced").
		Set("updated_at = NOW()").
		Where("? OR branchrun_run_records.status = 'failed' OR (branchrun_run_records.status = 'pending' AND branchrun_run_records.started_at <= ?)",
			forced, staleCutoff).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("branchrun/bun: try begin: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows > 0, nil
}

// RecordSuccess finalizes the record for key as succeeded.
func (s *Store) RecordSuccess(ctx context.Context, key string, result json.RawMessage, nextRunAt *time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("branchrun_run_records").
		Set("status = 'success'").
		Set("finished_at = NOW()").
		Set("result = ?", result).
		Set("next_run_at = ?", nextRunAt).
		Set("error = NULL").
		Set("updated_at = NOW()").
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("branchrun/bun: record success: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return branchrun.ErrRecordNotFound
	}
	return nil
}

// RecordFailure finalizes the record for key as failed.
func (s *Store) RecordFailure(ctx context.Context, key string, errMsg string) error {
	res, err := s.db.NewUpdate().
		TableExpr("branchrun_run_records").
		Set("status = 'failed'").
		Set("finished_at = NOW()").
		Set("error = ?", errMsg).
		Set("updated_at = NOW()").
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("branchrun/bun: record failure: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return branchrun.ErrRecordNotFound
	}
	return nil
}

// GetRecord retrieves the current record for key.
func (s *Store) GetRecord(ctx context.Context, key string) (*ledger.Record, error) {
	m := new(runRecordModel)
	err := s.db.NewSelect().Model(m).
		Where("key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, branchrun.ErrRecordNotFound
		}
		return nil, fmt.Errorf("branchrun/bun: get record: %w", err)
	}
	return fromRunRecordModel(m)
}
