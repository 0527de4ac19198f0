package sheets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// MemoryIDStore remembers identifiers for the lifetime of the process only.
type MemoryIDStore struct {
	mu  sync.Mutex
	ids map[string]string
}

func NewMemoryIDStore() *MemoryIDStore {
	return &MemoryIDStore{ids: map[string]string{}}
}

func (s *MemoryIDStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[key], nil
}

func (s *MemoryIDStore) Set(_ context.Context, key, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[key] = id
	return nil
}

// RedisIDStore keeps identifiers in Redis under prefix+key, without expiry.
type RedisIDStore struct {
	client *redis.Client
	prefix string
}

func NewRedisIDStore(client *redis.Client, prefix string) *RedisIDStore {
	return &RedisIDStore{client: client, prefix: prefix}
}

func (s *RedisIDStore) Get(ctx context.Context, key string) (string, error) {
	id, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read store id: %w", err)
	}
	return id, nil
}

func (s *RedisIDStore) Set(ctx context.Context, key, id string) error {
	if err := s.client.Set(ctx, s.prefix+key, id, 0).Err(); err != nil {
		return fmt.Errorf("failed to save store id: %w", err)
	}
	return nil
}
