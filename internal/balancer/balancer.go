// Package balancer selects the best connection among pool candidates per a
// pluggable strategy.
package balancer

import (
	"fmt"
	"sync"
)

// Strategy names a selection algorithm.
type Strategy string

// Selection strategies
const (
	RoundRobin       Strategy = "round-robin"
	LeastConnections Strategy = "least-connections"
	ResponseTime     Strategy = "response-time"
	Adaptive         Strategy = "adaptive"
)

// ParseStrategy validates a configuration string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case RoundRobin, LeastConnections, ResponseTime, Adaptive:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown load balancing strategy %q", s)
}

// Candidate is the balancer's read-only view of one pooled connection.
// The pool owns the connection; the balancer only scores it.
type Candidate struct {
	ID        string
	LatencyMs float64
	Load      int
	ErrorRate float64 // percent
}

// Adaptive score weights for latency, load, and error rate.
const (
	weightLatency = 0.4
	weightLoad    = 0.3
	weightErrors  = 0.3
)

// Balancer picks a connection id from the eligible candidates.
type Balancer struct {
	mu       sync.Mutex
	strategy Strategy
	rrIndex  uint64
}

// New creates a balancer with the given strategy.
func New(strategy Strategy) *Balancer {
	return &Balancer{strategy: strategy}
}

// Strategy returns the active strategy.
func (b *Balancer) Strategy() Strategy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.strategy
}

// SetStrategy swaps the active strategy (used by adaptation).
func (b *Balancer) SetStrategy(s Strategy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strategy = s
}

// Select picks a connection id. A healthy preferred candidate wins
// outright. Returns false when no candidate is eligible; the caller must
// queue or surface the failure.
func (b *Balancer) Select(candidates []Candidate, preferredID string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	if preferredID != "" {
		for _, c := range candidates {
			if c.ID == preferredID {
				return c.ID, true
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.strategy {
	case LeastConnections:
		return leastConnections(candidates), true
	case ResponseTime:
		return responseTime(candidates), true
	case Adaptive:
		return adaptive(candidates), true
	default:
		b.rrIndex++
		return candidates[b.rrIndex%uint64(len(candidates))].ID, true
	}
}

func leastConnections(candidates []Candidate) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Load < best.Load {
			best = c
		}
	}
	return best.ID
}

func responseTime(candidates []Candidate) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.LatencyMs < best.LatencyMs {
			best = c
		}
	}
	return best.ID
}

func adaptive(candidates []Candidate) string {
	best := candidates[0]
	bestScore := score(best)
	for _, c := range candidates[1:] {
		if s := score(c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best.ID
}

// score favors low latency, low load, and low error rate.
func score(c Candidate) float64 {
	return weightLatency*(100-c.LatencyMs) +
		weightLoad*(100-10*float64(c.Load)) +
		weightErrors*(100-20*c.ErrorRate)
}
