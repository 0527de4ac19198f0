// Package idempotency gives submissions an at-most-once contract. The form
// controller attaches a token to each logical submission and reuses it across
// retries; the intake handler claims the token before appending a row.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jellydator/ttlcache/v3"
)

// Status is the state of a token after a claim attempt.
type Status string

const (
	// StatusNew means the caller won the claim and must process the submission.
	StatusNew Status = "new"
	// StatusPending means another request holds the claim right now.
	StatusPending Status = "pending"
	// StatusCompleted means the submission was already persisted.
	StatusCompleted Status = "completed"
)

// DefaultTTL is how long a completed token is remembered.
const DefaultTTL = 24 * time.Hour

// DefaultLease is how long a pending claim holds a token when no lease is
// given. A claim left behind by a crashed request frees itself after it.
const DefaultLease = time.Minute

// Guard claims tokens. Release must be called when processing fails so a
// retry can claim the token again; Complete when the row was persisted.
type Guard interface {
	Claim(ctx context.Context, key string) (Status, error)
	Complete(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// RedisGuard stores token states in Redis so every intake instance shares them.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	lease  time.Duration
}

// NewRedisGuard keeps completed tokens for ttl and pending claims for lease.
func NewRedisGuard(client *redis.Client, prefix string, ttl, lease time.Duration) *RedisGuard {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl, lease: lease}
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (Status, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, string(StatusPending), g.lease).Result()
	if err != nil {
		return "", fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if ok {
		return StatusNew, nil
	}
	current, err := g.client.Get(ctx, g.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return g.Claim(ctx, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return Status(current), nil
}

func (g *RedisGuard) Complete(ctx context.Context, key string) error {
	if err := g.client.Set(ctx, g.prefix+key, string(StatusCompleted), g.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// MemoryGuard keeps token states in a TTL cache local to the process.
type MemoryGuard struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, Status]
	lease time.Duration
}

// NewMemoryGuard keeps completed tokens for ttl and pending claims for lease.
// It starts the cache's expiry loop; call Stop when done.
func NewMemoryGuard(ttl, lease time.Duration) *MemoryGuard {
	if lease <= 0 {
		lease = DefaultLease
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, Status](ttl),
		ttlcache.WithDisableTouchOnHit[string, Status](),
	)
	go cache.Start()
	return &MemoryGuard{cache: cache, lease: lease}
}

func (g *MemoryGuard) Claim(_ context.Context, key string) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if item := g.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	g.cache.Set(key, StatusPending, g.lease)
	return StatusNew, nil
}

func (g *MemoryGuard) Complete(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache.Set(key, StatusCompleted, ttlcache.DefaultTTL)
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache.Delete(key)
	return nil
}

func (g *MemoryGuard) Stop() { g.cache.Stop() }
