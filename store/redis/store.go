// Package redis implements store.Store and lock.Locker using Redis. Run
// records, branches, and schedule entries are stored as JSON strings with
// Set and Hash indexes; distributed locks use SET NX with a TTL so expiry
// needs no reaper.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/ledger"
	"github.com/oryxerp/branchrun/lock"
	"github.com/oryxerp/branchrun/trigger"
)

// Compile-time interface checks.
var (
	_ ledger.Store     = (*Store)(nil)
	_ trigger.Store    = (*Store)(nil)
	_ branch.Directory = (*Store)(nil)
	_ lock.Locker      = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
