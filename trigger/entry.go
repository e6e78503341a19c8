package trigger

import (
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/schedule"
)

// Entry is a persisted recurring schedule: which job kind to run, how often,
// and for which branches.
type Entry struct {
	branchrun.Entity

	ID      id.ScheduleID     `json:"id"`
	Name    string            `json:"name"`
	JobKind branchrun.JobKind `json:"job_kind"`
	Spec    schedule.Spec     `json:"spec"`

	// Filter restricts the fire to a branch subset; zero means all active
	// branches.
	Filter branch.Filter `json:"filter,omitempty"`

	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	// LockedBy and LockedUntil implement the per-entry TTL lock that keeps
	// concurrent scheduler instances from double-firing an entry.
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// Due reports whether the entry should fire at the given instant.
func (e *Entry) Due(now time.Time) bool {
	return e.Enabled && e.NextRunAt != nil && !e.NextRunAt.After(now)
}
