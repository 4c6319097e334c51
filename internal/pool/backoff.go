package pool

import (
	"time"

	"github.com/collabstack/netopt/internal/metrics"
)

// Reconnection backoff policies
const (
	PolicyLinear      = "linear"
	PolicyExponential = "exponential"
	PolicyAdaptive    = "adaptive"
)

// backoffDelay computes the wait before reconnect attempt n (1-based).
// The adaptive policy starts from the exponential curve and scales it by
// network quality: a poor network backs off harder, an excellent one
// retries sooner.
func backoffDelay(policy string, attempt int, base, max time.Duration, band metrics.Band) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch policy {
	case PolicyLinear:
		d = base * time.Duration(attempt)
	case PolicyAdaptive:
		d = exponential(base, max, attempt)
		switch band {
		case metrics.BandExcellent:
			d /= 2
		case metrics.BandPoor:
			d *= 2
		case metrics.BandGood:
		}
	default:
		d = exponential(base, max, attempt)
	}

	if d < base {
		d = base
	}
	if d > max {
		d = max
	}
	return d
}

func exponential(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
