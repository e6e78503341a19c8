package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/ledger"
	"github.com/oryxerp/branchrun/schedule"
	"github.com/oryxerp/branchrun/trigger"
)

// ── Branch model ──────────────────────────────────────────────────

type branchModel struct {
	bun.BaseModel `bun:"table:branchrun_branches"`

	ID        string    `bun:"id,pk"`
	Code      string    `bun:"code,notnull,unique"`
	Name      string    `bun:"name,notnull"`
	Active    bool      `bun:"active,notnull,default:true"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toBranchModel(b *branch.Branch) *branchModel {
	return &branchModel{
		ID:        b.ID.String(),
		Code:      b.Code,
		Name:      b.Name,
		Active:    b.Active,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func fromBranchModel(m *branchModel) (*branch.Branch, error) {
	parsedID, err := id.ParseBranchID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("branchrun/bun: parse branch id %q: %w", m.ID, err)
	}

	return &branch.Branch{
		Entity: branchrun.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:     parsedID,
		Code:   m.Code,
		Name:   m.Name,
		Active: m.Active,
	}, nil
}

// ── Run record model ──────────────────────────────────────────────

type runRecordModel struct {
	bun.BaseModel `bun:"table:branchrun_run_records"`

	Key        string          `bun:"key,pk"`
	ID         string          `bun:"id,notnull"`
	JobKind    string          `bun:"job_kind,notnull"`
	BranchID   string          `bun:"branch_id,notnull"`
	PeriodKey  string          `bun:"period_key,notnull"`
	Status     string          `bun:"status,notnull,default:'pending'"`
	StartedAt  time.Time       `bun:"started_at,notnull,default:current_timestamp"`
	FinishedAt *time.Time      `bun:"finished_at"`
	Result     json.RawMessage `bun:"result,type:jsonb"`
	Error      string          `bun:"error"`
	NextRunAt  *time.Time      `bun:"next_run_at"`
	Forced     bool            `bun:"forced,notnull,default:false"`
	CreatedAt  time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

func toRunRecordModel(r *ledger.Record) *runRecordModel {
	return &runRecordModel{
		Key:        r.Key,
		ID:         r.ID.String(),
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

func fromRunRecordModel(m *runRecordModel) (*ledger.Record, error) {
	parsedID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("branchrun/bun: parse run id %q: %w", m.ID, err)
	}
	parsedBranch, err := id.ParseBranchID(m.BranchID)
	if err != nil {
		return nil, fmt.Errorf("branchrun/bun: parse branch id %q: %w", m.BranchID, err)
	}

	return &ledger.Record{
		Entity: branchrun.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         parsedID,
		Key:        m.Key,
		JobKind:    branchrun.JobKind(m.JobKind),
		BranchID:   parsedBranch,
		PeriodKey:  m.PeriodKey,
		Status:     ledger.Status(m.Status),
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		Result:     m.Result,
		Error:      m.Error,
		NextRunAt:  m.NextRunAt,
		Forced:     m.Forced,
	}, nil
}

// ── Schedule entry model ──────────────────────────────────────────

type scheduleEntryModel struct {
	bun.BaseModel `bun:"table:branchrun_schedule_entries"`

	ID          string          `bun:"id,pk"`
	Name        string          `bun:"name,notnull,unique"`
	JobKind     string          `bun:"job_kind,notnull"`
	Spec        json.RawMessage `bun:"spec,notnull,type:jsonb"`
	Filter      json.RawMessage `bun:"filter,type:jsonb"`
	Enabled     bool            `bun:"enabled,notnull,default:true"`
	LastRunAt   *time.Time      `bun:"last_run_at"`
	NextRunAt   *time.Time      `bun:"next_run_at"`
	LockedBy    string          `bun:"locked_by"`
	LockedUntil *time.Time      `bun:"locked_until"`
	CreatedAt   time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

func toScheduleEntryModel(e *trigger.Entry) (*scheduleEntryModel, error) {
	specData, err := json.Marshal(e.Spec)
	if err != nil {
		return nil, fmt.Errorf("branchrun/bun: marshal spec: %w", err)
	}
	filterData, err := json.Marshal(e.Filter)
	if err != nil {
		return nil, fmt.Errorf("branchrun/bun: marshal filter: %w", err)
	}

	return &scheduleEntryModel{
		ID:          e.ID.String(),
		Name:        e.Name,
		JobKind:     string(e.JobKind),
		Spec:        specData,
		Filter:      filterData,
		Enabled:     e.Enabled,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}, nil
}

func fromScheduleEntryModel(m *scheduleEntryModel) (*trigger.Entry, error) {
	parsedID, err := id.ParseScheduleID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("branchrun/bun: parse entry id %q: %w", m.ID, err)
	}

	var spec schedule.Spec
	if err := json.Unmarshal(m.Spec, &spec); err != nil {
		return nil, fmt.Errorf("branchrun/bun: unmarshal spec: %w", err)
	}

	var filter branch.Filter
	if len(m.Filter) > 0 {
		if err := json.Unmarshal(m.Filter, &filter); err != nil {
			return nil, fmt.Errorf("branchrun/bun: unmarshal filter: %w", err)
		}
	}

	return &trigger.Entry{
		Entity: branchrun.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Name:        m.Name,
		JobKind:     branchrun.JobKind(m.JobKind),
		Spec:        spec,
		Filter:      filter,
		Enabled:     m.Enabled,
		LastRunAt:   m.LastRunAt,
		NextRunAt:   m.NextRunAt,
		LockedBy:    m.LockedBy,
		LockedUntil: m.LockedUntil,
	}, nil
}

// ── Lock model ────────────────────────────────────────────────────

type lockModel struct {
	bun.BaseModel `bun:"table:branchrun_locks"`

	Key        string    `bun:"key,pk"`
	Owner      string    `bun:"owner,notnull"`
	AcquiredAt time.Time `bun:"acquired_at,notnull,default:current_timestamp"`
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
}
