package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// errNotFound marks a missing entity key internally; callers translate it
// into the subsystem's sentinel.
var errNotFound = errors.New("branchrun/redis: entity not found")

func now() time.Time { return time.Now().UTC() }

func isRedisNil(err error) bool { return errors.Is(err, goredis.Nil) }

func isNotFound(err error) bool { return errors.Is(err, errNotFound) }

// setEntity stores v as a JSON string at key.
func (s *Store) setEntity(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("branchrun/redis: marshal %s: %w", key, err)
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

// getEntity loads the JSON string at key into v.
func (s *Store) getEntity(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return errNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// entityExists reports whether key holds an entity.
func (s *Store) entityExists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
