package branchrun

import (
	"time"

	"github.com/oryxerp/branchrun/id"
)

// JobKind identifies a category of periodic business operation.
type JobKind string

// Built-in job kinds. Each is implemented by its owning domain module and
// registered with an operation.Registry; the orchestrator never interprets
// what a kind does.
const (
	// CloseDay is the POS end-of-day closing run.
	CloseDay JobKind = "close-day"
	// Payroll is the monthly payroll run.
	Payroll JobKind = "payroll"
	// RecurringInvoices generates recurring rental invoices.
	RecurringInvoices JobKind = "recurring-invoices"
	// ReportDispatch sends scheduled reports.
	ReportDispatch JobKind = "report-dispatch"
)

// Kinds returns all built-in job kinds.
func Kinds() []JobKind {
	return []JobKind{CloseDay, Payroll, RecurringInvoices, ReportDispatch}
}

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case CloseDay, Payroll, RecurringInvoices, ReportDispatch:
		return true
	}
	return false
}

// Granularity is the calendar resolution of a job kind's idempotency bucket.
type Granularity string

const (
	// GranularityDay buckets runs by calendar date.
	GranularityDay Granularity = "day"
	// GranularityMonth buckets runs by year-month.
	GranularityMonth Granularity = "month"
)

// Granularity returns the period resolution for the job kind. Close-day and
// report dispatch run per date; payroll and recurring invoices run per
// year-month.
func (k JobKind) Granularity() Granularity {
	switch k {
	case Payroll, RecurringInvoices:
		return GranularityMonth
	default:
		return GranularityDay
	}
}

// Period is the idempotency bucket for a single run: a calendar date or a
// year-month derived from the trigger's anchor time. It is not a stored
// entity; it travels inside the lock key and the ledger key.
type Period struct {
	anchor time.Time
	gran   Granularity
}

// PeriodFor derives the period for a job kind from an anchor time.
func PeriodFor(k JobKind, anchor time.Time) Period {
	return Period{anchor: anchor.UTC(), gran: k.Granularity()}
}

// DailyPeriod returns a day-granularity period for the given anchor.
func DailyPeriod(anchor time.Time) Period {
	return Period{anchor: anchor.UTC(), gran: GranularityDay}
}

// MonthlyPeriod returns a month-granularity period for the given anchor.
func MonthlyPeriod(anchor time.Time) Period {
	return Period{anchor: anchor.UTC(), gran: GranularityMonth}
}

// Key returns the calendar key: "2006-01-02" for daily periods,
// "2006-01" for monthly ones.
func (p Period) Key() string {
	if p.gran == GranularityMonth {
		return p.anchor.Format("2006-01")
	}
	return p.anchor.Format("2006-01-02")
}

// Anchor returns the UTC anchor time the period was derived from.
func (p Period) Anchor() time.Time { return p.anchor }

// Granularity returns the period's calendar resolution.
func (p Period) Granularity() Granularity { return p.gran }

// IsZero reports whether the period was derived from the zero time.
func (p Period) IsZero() bool { return p.anchor.IsZero() }

// RunKey builds the shared coordination key "{kind}:{branchID}:{periodKey}"
// used by both the distributed lock and the run ledger.
func RunKey(k JobKind, branchID id.BranchID, p Period) string {
	return string(k) + ":" + branchID.String() + ":" + p.Key()
}
