// Package lock defines the distributed mutual-exclusion contract that
// guards a (job kind, branch, period) tuple across orchestrator instances.
//
// The lock layer only prevents concurrent execution; it does not prevent
// re-execution of an already-completed run. That is the ledger's job, and
// the two are deliberately independent (see package ledger).
package lock

import (
	"context"
	"time"

	"github.com/oryxerp/branchrun/id"
)

// Handle is proof of ownership of one acquired lock. At most one live
// Handle exists for a key at any instant across all processes; expiry is
// automatic via TTL so a crashed holder never blocks the key forever.
type Handle struct {
	// Key is the owning run key: "{jobKind}:{branchID}:{periodKey}".
	Key string

	// Owner identifies the acquiring runner. Release only clears the key
	// when the stored owner still matches, so releasing an expired handle
	// whose key has since been re-acquired is a no-op.
	Owner id.RunnerID

	// TTL is the automatic-expiry bound requested at acquisition.
	TTL time.Duration

	// AcquiredAt is when the lock was taken.
	AcquiredAt time.Time
}

// Locker is the distributed lock contract.
type Locker interface {
	// Acquire makes a single atomic set-if-absent attempt for the key.
	// It is non-blocking: a nil Handle with a nil error means the key is
	// held elsewhere, and callers must not retry or queue. If the backing
	// store is unreachable the returned error wraps
	// branchrun.ErrLockStoreUnavailable; that is never "acquired".
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error)

	// Release frees the lock held by h. It is idempotent and safe to call
	// after the handle expired; it never needs to succeed for correctness,
	// so callers log release errors rather than propagate them.
	Release(ctx context.Context, h *Handle) error
}
