package breaker

import (
	"testing"
	"time"

	"github.com/collabstack/netopt/internal/config"
)

const endpoint = "wss://x"

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	b := New(&config.BreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenSuccesses: 2,
	})
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure(endpoint)
		if err := b.Allow(endpoint); err != nil {
			t.Fatalf("attempt %d should be allowed below threshold: %v", i+1, err)
		}
	}

	b.RecordFailure(endpoint)
	if b.State(endpoint) != StateOpen {
		t.Fatalf("expected open after 5 failures, got %s", b.State(endpoint))
	}

	err := b.Allow(endpoint)
	if err == nil {
		t.Fatal("expected rejection while open, got nil")
	}
	if !IsCircuitOpen(err) {
		t.Errorf("expected CircuitOpenError, got %T", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure(endpoint)
	}
	b.RecordSuccess(endpoint)
	if b.Failures(endpoint) != 0 {
		t.Errorf("expected failure count reset, got %d", b.Failures(endpoint))
	}
	b.RecordFailure(endpoint)
	if b.State(endpoint) != StateClosed {
		t.Errorf("one failure after reset should stay closed, got %s", b.State(endpoint))
	}
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure(endpoint)
	}

	// Still inside the recovery window.
	*now = now.Add(29 * time.Second)
	if err := b.Allow(endpoint); err == nil {
		t.Fatal("expected rejection inside recovery window")
	}

	// After the window the breaker probes via half-open.
	*now = now.Add(2 * time.Second)
	if err := b.Allow(endpoint); err != nil {
		t.Fatalf("expected half-open probe to be allowed: %v", err)
	}
	if b.State(endpoint) != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State(endpoint))
	}

	b.RecordSuccess(endpoint)
	if b.State(endpoint) != StateHalfOpen {
		t.Fatalf("one success should not close yet, got %s", b.State(endpoint))
	}
	b.RecordSuccess(endpoint)
	if b.State(endpoint) != StateClosed {
		t.Fatalf("expected closed after configured successes, got %s", b.State(endpoint))
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure(endpoint)
	}
	*now = now.Add(31 * time.Second)
	if err := b.Allow(endpoint); err != nil {
		t.Fatalf("expected half-open probe to be allowed: %v", err)
	}

	b.RecordFailure(endpoint)
	if b.State(endpoint) != StateOpen {
		t.Fatalf("expected reopen on half-open failure, got %s", b.State(endpoint))
	}

	// The failure clock restarted: the full recovery window applies again.
	*now = now.Add(29 * time.Second)
	if err := b.Allow(endpoint); err == nil {
		t.Error("expected rejection, failure clock should have reset")
	}
}

func TestBreaker_EndpointsAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure("wss://bad")
	}
	if err := b.Allow("wss://good"); err != nil {
		t.Errorf("unrelated endpoint should be unaffected: %v", err)
	}
}
