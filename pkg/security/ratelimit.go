package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitStore records temporary blocks on user actions. The redis-backed
// store survives restarts and is shared across replicas; the in-memory store
// covers single-node and development deployments.
type RateLimitStore interface {
	// Block refuses the action for the user until the given time.
	Block(ctx context.Context, userID uuid.UUID, action string, until time.Time) error

	// IsBlocked reports whether the action is currently blocked.
	IsBlocked(ctx context.Context, userID uuid.UUID, action string) (bool, error)
}

type memoryRateLimitStore struct {
	mu     sync.Mutex
	blocks map[string]time.Time
}

// NewMemoryRateLimitStore creates a process-local rate limit store.
func NewMemoryRateLimitStore() RateLimitStore {
	return &memoryRateLimitStore{blocks: map[string]time.Time{}}
}

func rateLimitKey(userID uuid.UUID, action string) string {
	return fmt.Sprintf("ratelimit:%s:%s", userID, action)
}

func (s *memoryRateLimitStore) Block(_ context.Context, userID uuid.UUID, action string, until time.Time) error {
	s.mu.Lock()
	s.blocks[rateLimitKey(userID, action)] = until
	s.mu.Unlock()
	return nil
}

func (s *memoryRateLimitStore) IsBlocked(_ context.Context, userID uuid.UUID, action string) (bool, error) {
	key := rateLimitKey(userID, action)
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(until) {
		delete(s.blocks, key)
		return false, nil
	}
	return true, nil
}

type redisRateLimitStore struct {
	client *redis.Client
}

// NewRedisRateLimitStore creates a redis-backed rate limit store. Expiry is
// delegated to redis key TTLs.
func NewRedisRateLimitStore(client *redis.Client) RateLimitStore {
	return &redisRateLimitStore{client: client}
}

func (s *redisRateLimitStore) Block(ctx context.Context, userID uuid.UUID, action string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, rateLimitKey(userID, action), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to record rate limit block: %w", err)
	}
	return nil
}

func (s *redisRateLimitStore) IsBlocked(ctx context.Context, userID uuid.UUID, action string) (bool, error) {
	n, err := s.client.Exists(ctx, rateLimitKey(userID, action)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit block: %w", err)
	}
	return n > 0, nil
}

var (
	_ RateLimitStore = (*memoryRateLimitStore)(nil)
	_ RateLimitStore = (*redisRateLimitStore)(nil)
)
