package branchrun

import "time"

// Config holds tuning for the orchestrator and the trigger scheduler.
type Config struct {
	// LockTTLs bounds how long the per-branch distributed lock may be held,
	// per job kind. The TTL must cover the worst-case operation duration:
	// too short and a second process can start the same (branch, period)
	// before the first finishes; too long and a crashed process blocks
	// retries until expiry.
	LockTTLs map[JobKind]time.Duration

	// StaleFactor multiplies a kind's lock TTL to get the age at which a
	// pending ledger record is treated as abandoned and eligible for retry.
	StaleFactor int

	// Concurrency is the number of branches processed in parallel by a
	// single orchestrator invocation. 1 means sequential.
	Concurrency int

	// TickInterval is how often the trigger scheduler checks for due
	// schedule entries.
	TickInterval time.Duration

	// EntryLockTTL is the TTL for the per-entry lock the trigger scheduler
	// takes while firing a schedule entry.
	EntryLockTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults. Lock TTLs follow
// the observed worst-case durations per job kind: 10 minutes for end-of-day
// close, recurring invoices and report dispatch, 15 minutes for payroll.
func DefaultConfig() Config {
	return Config{
		LockTTLs: map[JobKind]time.Duration{
			CloseDay:          10 * time.Minute,
			Payroll:           15 * time.Minute,
			RecurringInvoices: 10 * time.Minute,
			ReportDispatch:    10 * time.Minute,
		},
		StaleFactor:  2,
		Concurrency:  1,
		TickInterval: 30 * time.Second,
		EntryLockTTL: time.Minute,
	}
}

// LockTTL returns the lock TTL for the job kind, defaulting to 10 minutes
// for kinds without an explicit entry.
func (c Config) LockTTL(k JobKind) time.Duration {
	if ttl, ok := c.LockTTLs[k]; ok {
		return ttl
	}
	return 10 * time.Minute
}

// StaleThreshold returns the age at which a pending ledger record for the
// job kind is considered abandoned: StaleFactor times the kind's lock TTL.
func (c Config) StaleThreshold(k JobKind) time.Duration {
	factor := c.StaleFactor
	if factor <= 0 {
		factor = 2
	}
	return time.Duration(factor) * c.LockTTL(k)
}
