package infra

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// memoryEntry is one cached value with its expiry.
type memoryEntry struct {
	value   []byte
	expires time.Time
}

// memoryJob is one queued job.
type memoryJob struct {
	job      map[string]any
	priority int
	seq      int64
}

// memoryWindow tracks one rate-limit key's fixed window.
type memoryWindow struct {
	count int
	reset time.Time
}

// Memory implements Backend with mutex-guarded maps. It is the default when
// REDIS_URL is unset, and the backend used by most tests.
//
// A background goroutine sweeps expired cache entries every minute to bound
// memory. Call Close to stop it.
type Memory struct {
	mu      sync.Mutex
	cache   map[string]memoryEntry
	queues  map[string][]memoryJob
	windows map[string]memoryWindow
	idem    map[string]time.Time
	seq     int64
	hits    int64
	misses  int64

	stopOnce sync.Once
	done     chan struct{}

	// now is swappable for deterministic TTL tests.
	now func() time.Time
}

// NewMemory creates an in-memory backend.
func NewMemory() *Memory {
	m := &Memory{
		cache:   make(map[string]memoryEntry),
		queues:  make(map[string][]memoryJob),
		windows: make(map[string]memoryWindow),
		idem:    make(map[string]time.Time),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go m.sweep()
	return m
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

// Get returns the cached value and whether it was present.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[key]
	if !ok || m.now().After(e.expires) {
		delete(m.cache, key)
		m.misses++
		return nil, false, nil
	}
	m.hits++
	val := make([]byte, len(e.value))
	copy(val, e.value)
	return val, true, nil
}

// Set stores a value with a TTL.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.cache[key] = memoryEntry{value: stored, expires: m.now().Add(ttl)}
	return nil
}

// Delete removes a key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return nil
}

// ClearPattern removes all keys matching a glob pattern.
func (m *Memory) ClearPattern(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int
	for key := range m.cache {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.cache, key)
			removed++
		}
	}
	return removed, nil
}

// Stats returns keyspace size and hit/miss counters.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Keys: int64(len(m.cache)), Hits: m.hits, Misses: m.misses}, nil
}

// Enqueue adds a job to a priority queue.
func (m *Memory) Enqueue(_ context.Context, queue string, job map[string]any, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.queues[queue] = append(m.queues[queue], memoryJob{job: job, priority: priority, seq: m.seq})
	// Highest priority first, FIFO within a priority class.
	sort.SliceStable(m.queues[queue], func(i, j int) bool {
		a, b := m.queues[queue][i], m.queues[queue][j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.seq < b.seq
	})
	return nil
}

// Dequeue pops the next job, or reports absence.
func (m *Memory) Dequeue(_ context.Context, queue string) (map[string]any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.queues[queue]
	if len(jobs) == 0 {
		return nil, false, nil
	}
	head := jobs[0]
	m.queues[queue] = jobs[1:]
	return head.job, true, nil
}

// Length returns the number of jobs waiting in a queue.
func (m *Memory) Length(_ context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queues[queue])), nil
}

// Allow implements the fixed-window limiter.
func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.After(w.reset) {
		m.windows[key] = memoryWindow{count: 1, reset: now.Add(window)}
		return limit >= 1, nil
	}
	if w.count >= limit {
		return false, nil
	}
	w.count++
	m.windows[key] = w
	return true, nil
}

// Acquire implements the idempotency guard.
func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if expiry, ok := m.idem[key]; ok && now.Before(expiry) {
		return false, nil
	}
	m.idem[key] = now.Add(ttl)
	return true, nil
}

// sweep periodically evicts expired cache entries, stale windows, and spent
// idempotency keys.
func (m *Memory) sweep() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Memory) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.cache {
		if now.After(e.expires) {
			delete(m.cache, key)
		}
	}
	for key, w := range m.windows {
		if now.After(w.reset) {
			delete(m.windows, key)
		}
	}
	for key, expiry := range m.idem {
		if now.After(expiry) {
			delete(m.idem, key)
		}
	}
}
