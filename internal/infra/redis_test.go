package infra

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisFromClient(rdb, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	_, ok, err := r.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	mr.FastForward(2 * time.Minute)
	_, ok, _ = r.Get(ctx, "k")
	assert.False(t, ok, "entry should expire with its TTL")
}

func TestRedisClearPattern(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "triage:a", []byte("1"), time.Minute))
	require.NoError(t, r.Set(ctx, "triage:b", []byte("2"), time.Minute))
	require.NoError(t, r.Set(ctx, "other", []byte("3"), time.Minute))

	removed, err := r.ClearPattern(ctx, "triage:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestRedisQueuePriorityFIFO(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	require.NoError(t, r.Enqueue(ctx, "jobs", map[string]any{"id": "low-1"}, 1))
	require.NoError(t, r.Enqueue(ctx, "jobs", map[string]any{"id": "high-1"}, 5))
	require.NoError(t, r.Enqueue(ctx, "jobs", map[string]any{"id": "high-2"}, 5))

	n, err := r.Length(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	var order []string
	for {
		job, ok, err := r.Dequeue(ctx, "jobs")
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, job["id"].(string))
	}
	assert.Equal(t, []string{"high-1", "high-2", "low-1"}, order)
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	for i := 0; i < 2; i++ {
		ok, err := r.Allow(ctx, "client", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := r.Allow(ctx, "client", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute + time.Second)
	ok, _ = r.Allow(ctx, "client", 2, time.Minute)
	assert.True(t, ok)
}

func TestRedisIdempotency(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	ok, err := r.Acquire(ctx, "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = r.Acquire(ctx, "run-1", time.Minute)
	assert.False(t, ok)
}
