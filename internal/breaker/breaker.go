// Package breaker implements a per-endpoint circuit breaker that bounds
// reconnection attempts against known-bad endpoints.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/collabstack/netopt/internal/config"
)

// State is the circuit position for one endpoint.
type State int

// Circuit states. Transitions follow closed → open → half-open → {closed|open}.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the conventional state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitOpenError is returned synchronously, before any I/O, when the
// endpoint's circuit is open.
type CircuitOpenError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (retry after %s)", e.Endpoint, e.RetryAfter)
}

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

type endpointState struct {
	state           State
	failures        int
	lastFailure     time.Time
	halfOpenSuccess int
}

// Breaker tracks circuit state per endpoint URL.
type Breaker struct {
	mu                sync.Mutex
	endpoints         map[string]*endpointState
	failureThreshold  int
	recoveryTimeout   time.Duration
	halfOpenSuccesses int

	now func() time.Time // test hook
}

// New creates a breaker from configuration.
func New(cfg *config.BreakerConfig) *Breaker {
	return &Breaker{
		endpoints:         make(map[string]*endpointState),
		failureThreshold:  cfg.FailureThreshold,
		recoveryTimeout:   cfg.RecoveryTimeout,
		halfOpenSuccesses: cfg.HalfOpenSuccesses,
		now:               time.Now,
	}
}

func (b *Breaker) get(endpoint string) *endpointState {
	es, ok := b.endpoints[endpoint]
	if !ok {
		es = &endpointState{state: StateClosed}
		b.endpoints[endpoint] = es
	}
	return es
}

// Allow reports whether a connection attempt to the endpoint may proceed.
// An open circuit moves to half-open once the recovery timeout elapses;
// until then Allow returns CircuitOpenError without any I/O.
func (b *Breaker) Allow(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.get(endpoint)
	if es.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(es.lastFailure)
	if elapsed >= b.recoveryTimeout {
		es.state = StateHalfOpen
		es.halfOpenSuccess = 0
		return nil
	}
	return &CircuitOpenError{
		Endpoint:   endpoint,
		RetryAfter: b.recoveryTimeout - elapsed,
	}
}

// RecordSuccess registers a successful attempt against the endpoint.
func (b *Breaker) RecordSuccess(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.get(endpoint)
	switch es.state {
	case StateClosed:
		es.failures = 0
	case StateHalfOpen:
		es.halfOpenSuccess++
		if es.halfOpenSuccess >= b.halfOpenSuccesses {
			es.state = StateClosed
			es.failures = 0
			es.halfOpenSuccess = 0
		}
	case StateOpen:
		// A success cannot arrive while open; attempts are rejected.
	}
}

// RecordFailure registers a failed attempt against the endpoint. Reaching
// the failure threshold opens the circuit; any half-open failure reopens it
// and resets the failure clock.
func (b *Breaker) RecordFailure(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.get(endpoint)
	es.lastFailure = b.now()
	switch es.state {
	case StateClosed:
		es.failures++
		if es.failures >= b.failureThreshold {
			es.state = StateOpen
		}
	case StateHalfOpen:
		es.state = StateOpen
		es.halfOpenSuccess = 0
	case StateOpen:
	}
}

// State returns the current circuit state for the endpoint.
func (b *Breaker) State(endpoint string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if es, ok := b.endpoints[endpoint]; ok {
		return es.state
	}
	return StateClosed
}

// Failures returns the consecutive failure count for the endpoint.
func (b *Breaker) Failures(endpoint string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if es, ok := b.endpoints[endpoint]; ok {
		return es.failures
	}
	return 0
}
