package orchestrator

import (
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
)

// BranchError captures one branch's failure inside a run.
type BranchError struct {
	BranchID   id.BranchID `json:"branch_id"`
	BranchCode string      `json:"branch_code"`
	Message    string      `json:"message"`
}

// Summary is the aggregate report of one orchestrator invocation. It is
// produced fresh per invocation and not persisted; callers decide how to
// report it. Skipped branches (Locked, AlreadyRan) are never conflated with
// failed ones.
type Summary struct {
	JobKind    branchrun.JobKind `json:"job_kind"`
	PeriodKey  string            `json:"period_key"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`

	// Attempted is the number of resolved target branches.
	Attempted int `json:"attempted"`
	// Succeeded branches completed their operation.
	Succeeded int `json:"succeeded"`
	// Failed branches ran their operation and it failed.
	Failed int `json:"failed"`
	// Locked branches were skipped: another run holds the lock, or the
	// lock store was unreachable.
	Locked int `json:"locked"`
	// AlreadyRan branches were skipped by the ledger: the period already
	// completed or a fresh run is in progress.
	AlreadyRan int `json:"already_ran"`

	// Counters sums the domain counters reported by succeeded operations.
	Counters map[string]int64 `json:"counters,omitempty"`

	// Errors lists per-branch failure messages.
	Errors []BranchError `json:"errors,omitempty"`
}

// Skipped returns the total number of branches skipped without executing.
func (s *Summary) Skipped() int { return s.Locked + s.AlreadyRan }
