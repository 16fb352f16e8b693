// Package breaker implements the circuit breaker guarding the triage
// pipeline against a persistently failing dependency.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker is open. The orchestrator
// fails fast without invoking any agent.
var ErrOpen = errors.New("breaker: circuit_breaker open")

// State is the breaker's lifecycle state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker counts triage-level failures. On reaching the threshold it opens
// for the configured timeout; after the timeout a single trial run is
// admitted (half-open). Success closes the breaker and resets the counter;
// failure reopens it.
type Breaker struct {
	threshold int
	timeout   time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open trial is in flight

	// now is swappable for deterministic tests.
	now func() time.Time
}

// New creates a closed breaker.
func New(threshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		timeout:   timeout,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow reports whether a run may proceed. While open it returns ErrOpen
// until the timeout elapses, then admits exactly one trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.trial = true
		return nil
	case StateHalfOpen:
		if b.trial {
			return ErrOpen
		}
		b.trial = true
		return nil
	}
	return nil
}

// Success records a successful run. Closes the breaker and zeroes the
// failure counter.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trial = false
}

// Failure records a failed run. Opens the breaker when the counter reaches
// the threshold, or immediately when a half-open trial fails.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
		b.trial = false
	}
}

// Reset forces the breaker closed and zeroes the failure counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trial = false
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current failure count. Readers may observe slightly
// stale values under concurrency.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
