package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Backend on go-redis v9.
type Redis struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedis connects to Redis using a redis:// URL and verifies connectivity
// with a ping. The caller decides whether a connection failure falls back to
// the in-memory backend.
func NewRedis(url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("infra: parse redis url: %w", err)
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("infra: redis ping (%s): %w", opts.Addr, err)
	}

	logger.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	return &Redis{rdb: rdb, logger: logger}, nil
}

// NewRedisFromClient wraps an existing client. Used by tests with miniredis.
func NewRedisFromClient(rdb *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{rdb: rdb, logger: logger}
}

// Close shuts down the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

const (
	cacheHitsKey   = "seiri:cache:hits"
	cacheMissesKey = "seiri:cache:misses"
)

// Get returns the cached value and whether it was present.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		_ = r.rdb.Incr(ctx, cacheMissesKey).Err()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("infra: redis get: %w", err)
	}
	_ = r.rdb.Incr(ctx, cacheHitsKey).Err()
	return val, true, nil
}

// Set stores a value with a TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("infra: redis set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("infra: redis del: %w", err)
	}
	return nil
}

// ClearPattern removes all keys matching a glob pattern using SCAN to avoid
// blocking the server on large keyspaces.
func (r *Redis) ClearPattern(ctx context.Context, pattern string) (int, error) {
	var removed int
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("infra: redis clear pattern: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("infra: redis scan: %w", err)
	}
	return removed, nil
}

// Stats returns keyspace size and hit/miss counters.
func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	size, err := r.rdb.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("infra: redis dbsize: %w", err)
	}
	hits, _ := r.rdb.Get(ctx, cacheHitsKey).Int64()
	misses, _ := r.rdb.Get(ctx, cacheMissesKey).Int64()
	return Stats{Keys: size, Hits: hits, Misses: misses}, nil
}

// queueEnvelope wraps a job with its enqueue sequence number. The sequence
// makes sorted-set members unique and breaks priority ties FIFO.
type queueEnvelope struct {
	Seq int64          `json:"seq"`
	Job map[string]any `json:"job"`
}

func queueKey(queue string) string { return "seiri:queue:" + queue }

// Enqueue adds a job to a priority queue. Jobs live in a sorted set scored
// by -priority with the sequence number as a fractional tiebreak, so ZPOPMIN
// yields highest priority first and FIFO within a priority class.
func (r *Redis) Enqueue(ctx context.Context, queue string, job map[string]any, priority int) error {
	seq, err := r.rdb.Incr(ctx, queueKey(queue)+":seq").Result()
	if err != nil {
		return fmt.Errorf("infra: redis enqueue seq: %w", err)
	}
	raw, err := json.Marshal(queueEnvelope{Seq: seq, Job: job})
	if err != nil {
		return fmt.Errorf("infra: marshal job: %w", err)
	}
	score := float64(-priority) + float64(seq)*1e-12
	if err := r.rdb.ZAdd(ctx, queueKey(queue), redis.Z{Score: score, Member: raw}).Err(); err != nil {
		return fmt.Errorf("infra: redis enqueue: %w", err)
	}
	return nil
}

// Dequeue pops the next job, or reports absence.
func (r *Redis) Dequeue(ctx context.Context, queue string) (map[string]any, bool, error) {
	popped, err := r.rdb.ZPopMin(ctx, queueKey(queue), 1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("infra: redis dequeue: %w", err)
	}
	if len(popped) == 0 {
		return nil, false, nil
	}
	member, ok := popped[0].Member.(string)
	if !ok {
		return nil, false, fmt.Errorf("infra: redis dequeue: unexpected member type %T", popped[0].Member)
	}
	var env queueEnvelope
	if err := json.Unmarshal([]byte(member), &env); err != nil {
		return nil, false, fmt.Errorf("infra: unmarshal job: %w", err)
	}
	return env.Job, true, nil
}

// Length returns the number of jobs waiting in a queue.
func (r *Redis) Length(ctx context.Context, queue string) (int64, error) {
	n, err := r.rdb.ZCard(ctx, queueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("infra: redis queue length: %w", err)
	}
	return n, nil
}

// Allow implements a fixed-window limiter with INCR + EXPIRE. The expiry is
// set only on the first increment, so the window anchors at the first
// permitted call.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	rlKey := "seiri:ratelimit:" + key
	count, err := r.rdb.Incr(ctx, rlKey).Result()
	if err != nil {
		return false, fmt.Errorf("infra: redis rate limit incr: %w", err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, rlKey, window).Err(); err != nil {
			return false, fmt.Errorf("infra: redis rate limit expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

// Acquire implements the idempotency guard with SET NX.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, "seiri:idem:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("infra: redis idempotency: %w", err)
	}
	return ok, nil
}
