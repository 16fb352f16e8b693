// Package infra provides the cache, queue, rate-limit, and idempotency
// facilities the triage pipeline consults opportunistically.
//
// Two backends implement the same contracts: Redis (cross-instance) and
// Memory (in-process). A cache miss is never an error — callers treat the
// cache purely as an accelerator.
package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache is a keyed byte cache with wall-clock TTLs.
type Cache interface {
	// Get returns the cached value and whether it was present. Expired
	// entries are absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// ClearPattern removes all keys matching a glob pattern and returns the
	// number removed.
	ClearPattern(ctx context.Context, pattern string) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a point-in-time cache snapshot.
type Stats struct {
	Keys   int64 `json:"keys"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Queue is a priority FIFO job queue. Higher priority dequeues first; equal
// priority is FIFO. Delivery is at-least-once; callers handle idempotency.
type Queue interface {
	Enqueue(ctx context.Context, queue string, job map[string]any, priority int) error
	// Dequeue returns the next job and whether one was available.
	Dequeue(ctx context.Context, queue string) (map[string]any, bool, error)
	Length(ctx context.Context, queue string) (int64, error)
}

// Limiter is a fixed-window rate limiter. The window starts at the first
// permitted call for a key and the count resets exactly at window expiry.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Idempotency is a single-writer guard: the first caller within the TTL
// acquires, subsequent callers do not.
type Idempotency interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Backend bundles all infra contracts behind one implementation.
type Backend interface {
	Cache
	Queue
	Limiter
	Idempotency
	Close() error
}

// GetJSON reads a cached value and unmarshals it into target. Returns false
// on a miss.
func GetJSON(ctx context.Context, c Cache, key string, target any) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("infra: unmarshal cached value: %w", err)
	}
	return true, nil
}

// SetJSON marshals value and caches it. encoding/json emits map keys in
// sorted order, so equal values always serialize identically.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("infra: marshal value for cache: %w", err)
	}
	return c.Set(ctx, key, raw, ttl)
}
