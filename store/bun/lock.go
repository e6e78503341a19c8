package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/lock"
)

// Acquire attempts a single-statement upsert on the locks table. The
// conflict clause only replaces a row whose expiry has lapsed, so
// acquisition is atomic and abandoned locks are taken over without a reaper.
func (s *Store) Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Handle, error) {
	owner := id.NewRunnerID()
	now := time.Now().UTC()

	m := &lockModel{
		Key:        key,
		Owner:      owner.String(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT (key) DO UPDATE").
		Set("owner = EXCLUDED.owner").
		Set("acquired_at = EXCLUDED.acquired_at").
		Set("expires_at = EXCLUDED.expires_at").
		Where("branchrun_locks.expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("branchrun/bun: acquire lock %q: %w: %w", key, branchrun.ErrLockStoreUnavailable, err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return nil, nil // held elsewhere
	}

	return &lock.Handle{
		Key:        key,
		Owner:      owner,
		TTL:        ttl,
		AcquiredAt: now,
	}, nil
}

// Release deletes the lock row if this handle's owner still holds it.
func (s *Store) Release(ctx context.Context, h *lock.Handle) error {
	if h == nil {
		return nil
	}

	_, err := s.db.NewDelete().
		TableExpr("branchrun_locks").
		Where("key = ?", h.Key).
		Where("owner = ?", h.Owner.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("branchrun/bun: release lock %q: %w", h.Key, err)
	}
	return nil
}
