// Package idempotency remembers the result of requests that carried an
// Idempotency-Key header so a retried request gets the original answer.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/revaspay/referrals/internal/apperrors"
)

// DefaultTTL is how long a key is remembered
const DefaultTTL = 24 * time.Hour

const keyPrefix = "referral:idempotency:"

// Store maps an idempotency key to the id of the resource it created
type Store interface {
	// Lookup returns the stored resource id and whether the key was found
	Lookup(ctx context.Context, key string) (string, bool, error)
	// Remember stores the resource id unless the key is already taken
	Remember(ctx context.Context, key, resourceID string) (bool, error)
}

// RedisStore keeps keys in redis with SETNX and a TTL
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a new redis-backed store
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Lookup implements Store
func (s *RedisStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("idempotency lookup", err)
	}
	return value, true, nil
}

// Remember implements Store
func (s *RedisStore) Remember(ctx context.Context, key, resourceID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, resourceID, s.ttl).Result()
	if err != nil {
		return false, wrap("idempotency remember", err)
	}
	return ok, nil
}

func wrap(op string, err error) error {
	if apperrors.IsTransientIO(err) {
		return apperrors.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and single-node runs
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

// Lookup implements Store
func (s *MemoryStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Remember implements Store
func (s *MemoryStore) Remember(ctx context.Context, key, resourceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	s.entries[key] = entry{value: resourceID, expiresAt: now.Add(s.ttl)}
	return true, nil
}
