package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConsumedStore tracks which grant ids have already been spent. Consume must
// be atomic: exactly one caller per id may observe true.
type ConsumedStore interface {
	Consume(ctx context.Context, grantID string, ttl time.Duration) (bool, error)
}

// RedisConsumedStore marks grant ids in Redis. SETNX with a TTL makes the
// claim atomic across processes, and the marker outlives the grant so a
// replayed grant stays dead.
type RedisConsumedStore struct {
	client redis.Cmdable
}

func NewRedisConsumedStore(client redis.Cmdable) *RedisConsumedStore {
	return &RedisConsumedStore{client: client}
}

func grantKey(grantID string) string {
	return "debtgate:grant:consumed:" + grantID
}

func (s *RedisConsumedStore) Consume(ctx context.Context, grantID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, grantKey(grantID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consume grant: %w", err)
	}
	return ok, nil
}

// MemoryConsumedStore mirrors RedisConsumedStore for unit tests and local
// runs.
type MemoryConsumedStore struct {
	mu       sync.Mutex
	consumed map[string]time.Time
}

func NewMemoryConsumedStore() *MemoryConsumedStore {
	return &MemoryConsumedStore{consumed: make(map[string]time.Time)}
}

func (s *MemoryConsumedStore) Consume(_ context.Context, grantID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if expiry, ok := s.consumed[grantID]; ok && now.Before(expiry) {
		return false, nil
	}
	s.consumed[grantID] = now.Add(ttl)
	return true, nil
}
