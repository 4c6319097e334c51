package pool

import "time"

// Health is the per-connection health record surfaced to callers and fed
// into balancing decisions.
type Health struct {
	Connected    bool      `json:"connected"`
	LatencyMs    float64   `json:"latencyMs"` // smoothed round-trip estimate
	Load         int       `json:"load"`      // in-flight sends
	ErrorRate    float64   `json:"errorRate"` // percent of failed sends
	MessagesSent int64     `json:"messagesSent"`
	SendErrors   int64     `json:"sendErrors"`
	Reconnects   int       `json:"reconnects"`
	LastCheck    time.Time `json:"lastCheck"`
}

// HealthPatch is a partial health update. Nil fields keep their current
// value; every applied patch stamps LastCheck.
type HealthPatch struct {
	Connected  *bool
	LatencyMs  *float64
	Load       *int
	Reconnects *int
}

func (h *Health) apply(p HealthPatch, now time.Time) {
	if p.Connected != nil {
		h.Connected = *p.Connected
	}
	if p.LatencyMs != nil {
		h.LatencyMs = *p.LatencyMs
	}
	if p.Load != nil {
		h.Load = *p.Load
	}
	if p.Reconnects != nil {
		h.Reconnects = *p.Reconnects
	}
	h.LastCheck = now
}

// ewma folds a new latency sample into the smoothed estimate. The first
// sample seeds the estimate directly.
func ewma(current, sample float64) float64 {
	if current == 0 {
		return sample
	}
	return 0.8*current + 0.2*sample
}
