package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/lock"
)

// Acquire attempts a single-statement upsert on the locks table. The upsert
// only replaces a row whose expiry has lapsed, so acquisition is atomic and
// abandoned locks are taken over without a reaper.
func (s *Store) Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Handle, error) {
	owner := id.NewRunnerID()
	now := time.Now().UTC()
	expires := now.Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO branchrun_locks (key, owner, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET owner = EXCLUDED.owner,
		    acquired_at = EXCLUDED.acquired_at,
		    expires_at = EXCLUDED.expires_at
		WHERE branchrun_locks.expires_at <= $3`,
		key, owner.String(), now, expires,
	)
	if err != nil {
		return nil, fmt.Errorf("branchrun/postgres: acquire lock %q: %w: %w", key, branchrun.ErrLockStoreUnavailable, err)
	}

	if tag.RowsAffected() == 0 {
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

	_, err := s.pool.Exec(ctx,
		`DELETE FROM branchrun_locks WHERE key = $1 AND owner = $2`,
		h.Key, h.Owner.String(),
	)
	if err != nil {
		return fmt.Errorf("branchrun/postgres: release lock %q: %w", h.Key, err)
	}
	return nil
}
