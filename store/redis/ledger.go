package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/ledger"
)

// ── JSON model for KV storage ──

type recordEntity struct {
	ID         string          `json:"id"`
	Key        string          `json:"key"`
	JobKind    string          `json:"job_kind"`
	BranchID   string          `json:"branch_id"`
	PeriodKey  string          `json:"period_key"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	NextRunAt  *time.Time      `json:"next_run_at,omitempty"`
	Forced     bool            `json:"forced"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toRecordEntity(r *ledger.Record) *recordEntity {
	return &recordEntity{
		ID:         r.ID.String(),
		Key:        r.Key,
		JobKind:    string(r.JobKind),
		BranchID:   r.BranchID.String(),
		PeriodKey:  r.PeriodKey,
		Status:     string(r.Status),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Result:     r.Result,
		Error:      r.Error,
		NextRunAt:  r.NextRunAt,
		Forced:     r.Forced,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func fromRecordEntity(e *recordEntity) (*ledger.Record, error) {
	rID, err := id.ParseRunID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("branchrun/redis: parse run id: %w", err)
	}
	bID, err := id.ParseBranchID(e.BranchID)
	if err != nil {
		return nil, fmt.Errorf("branchrun/redis: parse branch id: %w", err)
	}

	return &ledger.Record{
		Entity: branchrun.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:         rID,
		Key:        e.Key,
		JobKind:    branchrun.JobKind(e.JobKind),
		BranchID:   bID,
		PeriodKey:  e.PeriodKey,
		Status:     ledger.Status(e.Status),
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		Result:     e.Result,
		Error:      e.Error,
		NextRunAt:  e.NextRunAt,
		Forced:     e.Forced,
	}, nil
}

// TryBegin admits a new run attempt. The read-check-write here is not
// atomic; callers hold the run's distributed lock across TryBegin, so no
// second writer can interleave on the same key.
func (s *Store) TryBegin(ctx context.Context, rec *ledger.Record, stale time.Duration, forced bool) (bool, error) {
	key := recordKey(rec.Key)

	var existing recordEntity
	err := s.getEntity(ctx, key, &existing)
	if err != nil && !isNotFound(err) {
		return false, fmt.Errorf("branchrun/redis: try begin get: %w", err)
	}

	t := now()
	if err == nil && !forced {
		switch ledger.Status(existing.Status) {
		case ledger.StatusSuccess:
			return false, nil
		case ledger.StatusPending:
			if t.Sub(existing.StartedAt) < stale {
				return false, nil
			}
		case ledger.StatusFailed:
			// Failed runs may always be retried.
		}
	}

	e := toRecordEntity(rec)
	e.UpdatedAt = t
	if setErr := s.setEntity(ctx, key, e); setErr != nil {
		return false, fmt.Errorf("branchrun/redis: try begin set: %w", setErr)
	}
	return true, nil
}

// RecordSuccess finalizes the record for key as succeeded.
func (s *Store) RecordSuccess(ctx context.Context, runKey string, result json.RawMessage, nextRunAt *time.Time) error {
	key := recordKey(runKey)

	var e recordEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return branchrun.ErrRecordNotFound
		}
		return fmt.Errorf("branchrun/redis: record success get: %w", err)
	}

	t := now()
	e.Status = string(ledger.StatusSuccess)
	e.FinishedAt = &t
	e.Result = result
	e.NextRunAt = nextRunAt
	e.Error = ""
	e.UpdatedAt = t
	if err := s.setEntity(ctx, key, &e); err != nil {
		return fmt.Errorf("branchrun/redis: record success set: %w", err)
	}
	return nil
}

// RecordFailure finalizes the record for key as failed.
func (s *Store) RecordFailure(ctx context.Context, runKey string, errMsg string) error {
	key := recordKey(runKey)

	var e recordEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return branchrun.ErrRecordNotFound
		}
		return fmt.Errorf("branchrun/redis: record failure get: %w", err)
	}

	t := now()
	e.Status = string(ledger.StatusFailed)
	e.FinishedAt = &t
	e.Error = errMsg
	e.UpdatedAt = t
	if err := s.setEntity(ctx, key, &e); err != nil {
		return fmt.Errorf("branchrun/redis: record failure set: %w", err)
	}
	return nil
}

// GetRecord retrieves the current record for key.
func (s *Store) GetRecord(ctx context.Context, runKey string) (*ledger.Record, error) {
	var e recordEntity
	if err := s.getEntity(ctx, recordKey(runKey), &e); err != nil {
		if isNotFound(err) {
			return nil, branchrun.ErrRecordNotFound
		}
		return nil, fmt.Errorf("branchrun/redis: get record: %w", err)
	}
	return fromRecordEntity(&e)
}
