// Package idempotency provides a Redis-backed seen-before check, used to
// drop provider callbacks that are redelivered after a timeout or retry.
package idempotency

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Key builds a namespaced key from its parts.
func (s *Store) Key(parts ...string) string {
	return "idem:" + strings.Join(parts, ":")
}

// Seen marks key and reports whether it had been marked before. The first
// caller gets false; every caller within the TTL afterwards gets true.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget releases a key marked by Seen, allowing the next delivery through.
// Callers use it when the work behind the mark did not complete.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
