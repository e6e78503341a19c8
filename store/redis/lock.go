package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/lock"
)

// releaseScript deletes the lock key only when the stored owner token still
// matches, so a holder whose TTL already lapsed cannot free a successor's
// lock.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire attempts a single SET NX with TTL. Returns (nil, nil) when another
// holder's unexpired lock exists. Redis handles expiry, so an abandoned lock
// frees itself when the TTL lapses.
func (s *Store) Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Handle, error) {
	owner := id.NewRunnerID()

	ok, err := s.client.SetNX(ctx, lockKey(key), owner.String(), ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("branchrun/redis: acquire lock %q: %w: %w", key, branchrun.ErrLockStoreUnavailable, err)
	}
	if !ok {
		return nil, nil // held elsewhere
	}

	return &lock.Handle{
		Key:        key,
		Owner:      owner,
		TTL:        ttl,
		AcquiredAt: now(),
	}, nil
}

// Release frees the lock if this handle's owner token still holds it.
func (s *Store) Release(ctx context.Context, h *lock.Handle) error {
	if h == nil {
		return nil
	}

	if err := releaseScript.Run(ctx, s.client, []string{lockKey(h.Key)}, h.Owner.String()).Err(); err != nil && !isRedisNil(err) {
		return fmt.Errorf("branchrun/redis: release lock %q: %w", h.Key, err)
	}
	return nil
}
