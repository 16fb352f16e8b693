package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seiri-ai/seiri/internal/model"
)

// Store is an append-only entry log. Append must persist the exact entry;
// Iterate replays entries in append order.
type Store interface {
	Append(e Entry) error
	Iterate(fn func(Entry) error) error
	Close() error
}

// Chain links audit entries with SHA-256 hashes. The tail pointer is guarded
// by a mutex: Append reads the tail, computes the hash, and writes the new
// tail under one lock, so the previous_hash each entry uses is exact.
type Chain struct {
	mu     sync.Mutex
	store  Store
	tail   string
	count  int
	lastTS time.Time

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewChain opens a chain over a store, replaying existing entries to recover
// the tail hash.
func NewChain(store Store) (*Chain, error) {
	c := &Chain{store: store, now: time.Now}
	err := store.Iterate(func(e Entry) error {
		c.tail = e.CurrentHash
		c.count++
		if e.Timestamp.After(c.lastTS) {
			c.lastTS = e.Timestamp
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: replay chain: %w", err)
	}
	return c, nil
}

// Append builds, hashes, and persists a new entry for a triage run. The
// timestamp is UTC and strictly increases within the process even if the
// wall clock stalls.
func (c *Chain) Append(caseID string, summaries []model.AgentSummary, piiDetected bool, piiTypes []string, class DataClass) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UTC()
	if !ts.After(c.lastTS) {
		ts = c.lastTS.Add(time.Nanosecond)
	}

	if piiTypes == nil {
		piiTypes = []string{}
	}
	if summaries == nil {
		summaries = []model.AgentSummary{}
	}

	e := Entry{
		AuditID:           uuid.New().String(),
		Timestamp:         ts,
		CaseID:            caseID,
		AgentSummaries:    summaries,
		PIIDetected:       piiDetected,
		PIITypes:          piiTypes,
		PreviousHash:      c.tail,
		RetentionDeadline: RetentionDeadline(class, ts),
	}

	hash, err := ComputeHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.CurrentHash = hash

	if err := c.store.Append(e); err != nil {
		return Entry{}, fmt.Errorf("audit: append entry: %w", err)
	}

	c.tail = hash
	c.count++
	c.lastTS = ts
	return e, nil
}

// Len returns the number of entries appended so far.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Verify walks the stored chain, checking linkage and recomputing every
// hash. Returns the number of entries verified. The first stored entry's
// previous_hash is taken as given: retention purges may have truncated the
// head of the chain.
func (c *Chain) Verify() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var prev string
	var n int
	err := c.store.Iterate(func(e Entry) error {
		if n > 0 && e.PreviousHash != prev {
			return fmt.Errorf("audit: entry %s: previous_hash mismatch at position %d", e.AuditID, n)
		}
		recomputed, err := ComputeHash(e)
		if err != nil {
			return err
		}
		if recomputed != e.CurrentHash {
			return fmt.Errorf("audit: entry %s: current_hash does not match content", e.AuditID)
		}
		prev = e.CurrentHash
		n++
		return nil
	})
	return n, err
}
