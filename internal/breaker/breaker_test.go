package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestOpensAtThreshold(t *testing.T) {
	b := New(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.Failure()
		if err := b.Allow(); err != nil {
			t.Fatalf("breaker opened early after %d failures", i+1)
		}
	}
	b.Failure()
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen at threshold, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open state, got %s", b.State())
	}
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	b := New(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Failure()
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatal("expected open breaker")
	}

	now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open trial to be admitted, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open state, got %s", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatal("second call during trial should be rejected")
	}
}

func TestTrialSuccessCloses(t *testing.T) {
	b := New(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Failure()
	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("trial not admitted: %v", err)
	}
	b.Success()

	if b.State() != StateClosed {
		t.Fatalf("expected closed after trial success, got %s", b.State())
	}
	if b.Failures() != 0 {
		t.Fatalf("expected failure counter reset, got %d", b.Failures())
	}
}

func TestTrialFailureReopens(t *testing.T) {
	b := New(5, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		b.Failure()
	}
	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("trial not admitted: %v", err)
	}
	b.Failure()

	if b.State() != StateOpen {
		t.Fatalf("expected reopen after trial failure, got %s", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatal("expected ErrOpen after reopen")
	}
}

func TestReset(t *testing.T) {
	b := New(1, time.Minute)
	b.Failure()
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatal("expected open breaker")
	}

	b.Reset()
	if err := b.Allow(); err != nil {
		t.Fatalf("expected closed breaker after reset, got %v", err)
	}
	if b.Failures() != 0 {
		t.Fatalf("expected zero failures after reset, got %d", b.Failures())
	}
}
