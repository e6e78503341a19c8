// Package ledger provides the durable run ledger: the record of whether a
// (job kind, branch, period) run has completed or is in progress.
//
// The ledger and the distributed lock are independent layers. The lock
// prevents concurrent execution; the ledger prevents re-execution after a
// completed success, e.g. a scheduler firing twice for the same period due
// to clock skew. Both must pass before an operation is invoked.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
)

// Status is the lifecycle state of a run record.
type Status string

const (
	// StatusPending means an attempt has been admitted and is in progress.
	StatusPending Status = "pending"
	// StatusSuccess means the attempt completed successfully.
	StatusSuccess Status = "success"
	// StatusFailed means the attempt failed; a new attempt may be admitted.
	StatusFailed Status = "failed"
)

// Record is one durable run attempt for a (job kind, branch, period) key.
// A record transitions pending → {success|failed} exactly once per attempt;
// a new attempt for the same key is only admitted when the prior record is
// failed, absent, or stale-pending, unless the run is forced.
type Record struct {
	branchrun.Entity

	ID         id.RunID          `json:"id"`
	Key        string            `json:"key"`
	JobKind    branchrun.JobKind `json:"job_kind"`
	BranchID   id.BranchID       `json:"branch_id"`
	PeriodKey  string            `json:"period_key"`
	Status     Status            `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`

	// Result is the opaque payload returned by the operation on success.
	Result json.RawMessage `json:"result,omitempty"`

	// Error is the failure message when Status is failed.
	Error string `json:"error,omitempty"`

	// NextRunAt is the next eligible run time for recurring schedule kinds.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	// Forced marks attempts admitted by operator override.
	Forced bool `json:"forced"`
}

// NewRecord returns a pending record for one run attempt.
func NewRecord(kind branchrun.JobKind, branchID id.BranchID, period branchrun.Period) *Record {
	return &Record{
		Entity:    branchrun.NewEntity(),
		ID:        id.NewRunID(),
		Key:       branchrun.RunKey(kind, branchID, period),
		JobKind:   kind,
		BranchID:  branchID,
		PeriodKey: period.Key(),
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}
}

// Stale reports whether a pending record is old enough to be treated as
// abandoned (crash between admission and outcome recording).
func (r *Record) Stale(threshold time.Duration, now time.Time) bool {
	return r.Status == StatusPending && now.Sub(r.StartedAt) >= threshold
}

// Store is the durable ledger contract. Implementations return
// branchrun.ErrRecordNotFound where noted.
type Store interface {
	// TryBegin admits a new attempt for rec.Key and persists rec as the
	// current pending record. It returns false without writing when a
	// success record exists or a pending record younger than stale exists.
	// A pending record at least stale old is treated as abandoned and
	// superseded. With forced, admission always succeeds and any prior
	// record for the key is superseded.
	TryBegin(ctx context.Context, rec *Record, stale time.Duration, forced bool) (bool, error)

	// RecordSuccess finalizes the pending record for key with the
	// operation's result payload and, for recurring schedule kinds, the
	// next eligible run time. Returns branchrun.ErrRecordNotFound if no
	// record exists for the key.
	RecordSuccess(ctx context.Context, key string, result json.RawMessage, nextRunAt *time.Time) error

	// RecordFailure finalizes the pending record for key with the failure
	// message. Returns branchrun.ErrRecordNotFound if no record exists.
	RecordFailure(ctx context.Context, key string, errMsg string) error

	// GetRecord retrieves the current record for key, or
	// branchrun.ErrRecordNotFound.
	GetRecord(ctx context.Context, key string) (*Record, error)
}
