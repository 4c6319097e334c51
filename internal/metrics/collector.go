// Package metrics maintains rolling latency, throughput, reliability, and
// quality statistics for the transport layer.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/message"
)

// Band is the coarse network quality classification derived from the
// rolling average latency.
type Band string

// Quality bands
const (
	BandExcellent Band = "excellent"
	BandGood      Band = "good"
	BandPoor      Band = "poor"
)

type throughputSample struct {
	at       time.Time
	messages int
	bytes    int
}

// Collector accumulates samples and produces NetworkMetrics snapshots.
type Collector struct {
	mu sync.Mutex

	samples   []float64 // latency in ms, append order
	windowCap int

	sends []throughputSample // trailing-second window

	sendAttempts int64
	sendErrors   int64
	delivered    int64
	dropped      int64

	reconnections int

	startedAt    time.Time
	downSince    time.Time // zero while connected
	downAccum    time.Duration
	disconnected bool

	excellent float64 // thresholds in ms
	good      float64
	poor      float64

	now func() time.Time // test hook
}

// New creates a collector from configuration.
func New(cfg *config.MetricsConfig) *Collector {
	c := &Collector{
		windowCap: cfg.WindowCap,
		excellent: float64(cfg.ExcellentLatency.Milliseconds()),
		good:      float64(cfg.GoodLatency.Milliseconds()),
		poor:      float64(cfg.PoorLatency.Milliseconds()),
		now:       time.Now,
	}
	c.startedAt = c.now()
	return c
}

// RecordLatency appends one latency sample. Once the window exceeds its
// cap, the oldest half is pruned.
func (c *Collector) RecordLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, float64(d.Microseconds())/1000.0)
	if len(c.samples) > c.windowCap {
		half := len(c.samples) / 2
		c.samples = append(c.samples[:0], c.samples[half:]...)
	}
}

// RecordSend counts a transmission attempt for throughput accounting.
func (c *Collector) RecordSend(messages, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sendAttempts++
	c.sends = append(c.sends, throughputSample{at: now, messages: messages, bytes: bytes})
	c.pruneSendsLocked(now)
}

// RecordSendError counts a failed transmission attempt.
func (c *Collector) RecordSendError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendAttempts++
	c.sendErrors++
}

// RecordDelivery counts a message reaching its final state: delivered on
// ack (or unacked fire-and-forget success), dropped on retry exhaustion.
func (c *Collector) RecordDelivery(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.delivered++
	} else {
		c.dropped++
	}
}

// RecordReconnect counts one reconnection.
func (c *Collector) RecordReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnections++
}

// SetConnected tracks whether at least one pooled connection is usable,
// feeding the uptime percentage.
func (c *Collector) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if connected && c.disconnected {
		c.downAccum += now.Sub(c.downSince)
		c.disconnected = false
	} else if !connected && !c.disconnected {
		c.downSince = now
		c.disconnected = true
	}
}

func (c *Collector) pruneSendsLocked(now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for ; i < len(c.sends); i++ {
		if c.sends[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		c.sends = append(c.sends[:0], c.sends[i:]...)
	}
}

// WindowLen returns the current latency sample count.
func (c *Collector) WindowLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// Band classifies the rolling average latency.
func (c *Collector) Band() Band {
	return bandFor(c.Snapshot().Latency.Average, c.excellent, c.good)
}

func bandFor(avg, excellent, good float64) Band {
	switch {
	case avg <= excellent:
		return BandExcellent
	case avg <= good:
		return BandGood
	default:
		return BandPoor
	}
}

// Snapshot computes a point-in-time NetworkMetrics copy.
func (c *Collector) Snapshot() message.NetworkMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	var m message.NetworkMetrics

	if n := len(c.samples); n > 0 {
		m.Latency.Current = c.samples[n-1]
		sum := 0.0
		for _, s := range c.samples {
			sum += s
		}
		m.Latency.Average = sum / float64(n)

		sorted := make([]float64, n)
		copy(sorted, c.samples)
		sort.Float64s(sorted)
		m.Latency.P95 = percentile(sorted, 0.95)
		m.Latency.P99 = percentile(sorted, 0.99)
		m.Quality.Jitter = jitter(c.samples, m.Latency.Average)
	}

	now := c.now()
	c.pruneSendsLocked(now)
	for _, s := range c.sends {
		m.Throughput.MessagesPerSecond += float64(s.messages)
		m.Throughput.BytesPerSecond += float64(s.bytes)
	}
	m.Quality.Bandwidth = m.Throughput.BytesPerSecond

	if c.sendAttempts > 0 {
		m.Reliability.ErrorRate = 100 * float64(c.sendErrors) / float64(c.sendAttempts)
		m.Quality.PacketLoss = m.Reliability.ErrorRate
	}
	if total := c.delivered + c.dropped; total > 0 {
		m.Reliability.DeliveryRate = 100 * float64(c.delivered) / float64(total)
	} else {
		m.Reliability.DeliveryRate = 100
	}
	m.Reliability.Reconnections = c.reconnections

	life := now.Sub(c.startedAt)
	down := c.downAccum
	if c.disconnected {
		down += now.Sub(c.downSince)
	}
	if life > 0 {
		m.Reliability.UptimePercent = 100 * (1 - down.Seconds()/life.Seconds())
		if m.Reliability.UptimePercent < 0 {
			m.Reliability.UptimePercent = 0
		}
	} else {
		m.Reliability.UptimePercent = 100
	}

	m.Quality.Band = string(bandFor(m.Latency.Average, c.excellent, c.good))
	return m
}

// percentile reads from an ascending-sorted slice using nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// jitter is the mean absolute deviation from the rolling average.
func jitter(samples []float64, avg float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += math.Abs(s - avg)
	}
	return sum / float64(len(samples))
}
