// Package adapt periodically inspects network metrics and retunes
// batching, compression, and connection provisioning.
package adapt

import (
	"context"
	"sort"
	"time"

	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
	"github.com/collabstack/netopt/internal/message"
)

// Patch is one strategy's requested adjustment. Factors multiply the
// current value; a zero factor leaves it alone. The consuming knobs clamp
// results to their configured bounds.
type Patch struct {
	MaxBatchDelayFactor        float64
	CompressionThresholdFactor float64
	ForceAdaptiveCompression   bool
	ProvisionFallback          bool
	Reason                     string
}

// Strategy evaluates one network condition. Evaluate returns nil when the
// condition does not hold.
type Strategy struct {
	Name     string
	Priority int // higher evaluates first
	Evaluate func(m message.NetworkMetrics) *Patch
}

// Actions are the knobs the engine turns. All callbacks are required.
type Actions struct {
	MaxBatchDelay           func() time.Duration
	SetMaxBatchDelay        func(time.Duration)
	CompressionThreshold    func() int
	SetCompressionThreshold func(int)
	SetAdaptiveCompression  func(bool)
	ProvisionFallback       func()
	// OnApplied observes every applied patch, keyed by strategy name.
	OnApplied func(strategy string, patch Patch)
}

// DefaultStrategies builds the standard strategy set against the
// configured quality thresholds.
func DefaultStrategies(cfg *config.MetricsConfig) []Strategy {
	poor := float64(cfg.PoorLatency.Milliseconds())
	excellent := float64(cfg.ExcellentLatency.Milliseconds())

	return []Strategy{
		{
			Name:     "high-error-rate",
			Priority: 40,
			Evaluate: func(m message.NetworkMetrics) *Patch {
				if m.Reliability.ErrorRate <= cfg.ErrorRateCap {
					return nil
				}
				return &Patch{
					ProvisionFallback: true,
					Reason:            "error rate above cap, provisioning fallback",
				}
			},
		},
		{
			Name:     "high-latency",
			Priority: 30,
			Evaluate: func(m message.NetworkMetrics) *Patch {
				if m.Latency.Average <= poor {
					return nil
				}
				// Batch harder and compress more aggressively to spend
				// fewer round trips.
				return &Patch{
					MaxBatchDelayFactor:        1.5,
					CompressionThresholdFactor: 0.8,
					Reason:                     "average latency above poor threshold",
				}
			},
		},
		{
			Name:     "high-bandwidth-usage",
			Priority: 20,
			Evaluate: func(m message.NetworkMetrics) *Patch {
				if m.Throughput.BytesPerSecond <= cfg.BandwidthCap {
					return nil
				}
				return &Patch{
					CompressionThresholdFactor: 0.8,
					ForceAdaptiveCompression:   true,
					Reason:                     "bandwidth usage above cap",
				}
			},
		},
		{
			Name:     "low-latency",
			Priority: 10,
			Evaluate: func(m message.NetworkMetrics) *Patch {
				if m.Latency.Average <= 0 || m.Latency.Average >= excellent {
					return nil
				}
				// Fast network: favor responsiveness over batching.
				return &Patch{
					MaxBatchDelayFactor:        0.75,
					CompressionThresholdFactor: 1.2,
					Reason:                     "average latency below excellent threshold",
				}
			},
		},
	}
}

// Engine drives the strategy set on a fixed interval.
type Engine struct {
	strategies []Strategy
	actions    Actions
	snapshot   func() message.NetworkMetrics
	interval   time.Duration
	log        *log.Logger
}

// New creates an engine. Strategies are evaluated highest priority first.
func New(cfg *config.AdaptationConfig, strategies []Strategy, actions Actions,
	snapshot func() message.NetworkMetrics, logger *log.Logger) *Engine {

	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	return &Engine{
		strategies: sorted,
		actions:    actions,
		snapshot:   snapshot,
		interval:   cfg.Interval,
		log:        logger,
	}
}

// Run ticks until the context ends.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Tick()
		case <-ctx.Done():
			return
		}
	}
}

// Tick evaluates every strategy against a fresh snapshot and applies each
// matching patch in priority order.
func (e *Engine) Tick() {
	m := e.snapshot()
	for _, s := range e.strategies {
		patch := s.Evaluate(m)
		if patch == nil {
			continue
		}
		e.apply(s.Name, *patch)
	}
}

func (e *Engine) apply(strategy string, p Patch) {
	if p.MaxBatchDelayFactor > 0 && p.MaxBatchDelayFactor != 1 {
		cur := e.actions.MaxBatchDelay()
		next := time.Duration(float64(cur) * p.MaxBatchDelayFactor)
		e.actions.SetMaxBatchDelay(next)
	}
	if p.CompressionThresholdFactor > 0 && p.CompressionThresholdFactor != 1 {
		cur := e.actions.CompressionThreshold()
		next := int(float64(cur) * p.CompressionThresholdFactor)
		e.actions.SetCompressionThreshold(next)
	}
	if p.ForceAdaptiveCompression {
		e.actions.SetAdaptiveCompression(true)
	}
	if p.ProvisionFallback {
		e.actions.ProvisionFallback()
	}

	e.log.Debug("adaptation applied: %s (%s)", strategy, p.Reason)
	if e.actions.OnApplied != nil {
		e.actions.OnApplied(strategy, p)
	}
}
