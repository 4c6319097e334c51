package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks configuration constraints
func Validate(cfg *Config) error {
	if err := validateEndpoint(&cfg.Endpoint); err != nil {
		return err
	}
	if err := validatePool(&cfg.Pool); err != nil {
		return err
	}
	if err := validateBatch(&cfg.Batch); err != nil {
		return err
	}
	if err := validateCompression(&cfg.Compression); err != nil {
		return err
	}
	if err := validateBreaker(&cfg.Breaker); err != nil {
		return err
	}
	if err := validateMetrics(&cfg.Metrics); err != nil {
		return err
	}
	return validateQueue(&cfg.Queue)
}

// supported URL schemes, keyed by scheme name
var validSchemes = map[string]bool{
	"ws": true, "wss": true, "mqtt": true, "mqtts": true, "tcp": true, "ssl": true,
}

func validateEndpointURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if !validSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("%s has unsupported scheme %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", field)
	}
	return nil
}

// validateEndpoint validates endpoint configuration
func validateEndpoint(cfg *EndpointConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("endpoint URL cannot be empty")
	}
	if err := validateEndpointURL("endpoint URL", cfg.URL); err != nil {
		return err
	}
	if cfg.FallbackURL != "" {
		if err := validateEndpointURL("fallback URL", cfg.FallbackURL); err != nil {
			return err
		}
	}
	if cfg.BridgeQoS > 2 {
		return fmt.Errorf("bridge QoS must be 0, 1, or 2")
	}
	return nil
}

// validatePool validates pool configuration
func validatePool(cfg *PoolConfig) error {
	if cfg.MaxConnections < 1 {
		return fmt.Errorf("pool max connections must be positive")
	}
	switch cfg.Strategy {
	case "round-robin", "least-connections", "response-time", "adaptive":
	default:
		return fmt.Errorf("unknown load balancing strategy %q", cfg.Strategy)
	}
	switch cfg.ReconnectPolicy {
	case "linear", "exponential", "adaptive":
	default:
		return fmt.Errorf("unknown reconnect policy %q", cfg.ReconnectPolicy)
	}
	if cfg.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max reconnect attempts must be positive")
	}
	return nil
}

// validateBatch validates batching configuration
func validateBatch(cfg *BatchConfig) error {
	if cfg.HighDelay <= 0 || cfg.MediumDelay <= 0 || cfg.LowDelay <= 0 {
		return fmt.Errorf("batch flush delays must be positive")
	}
	if cfg.HighDelay > cfg.MediumDelay || cfg.MediumDelay > cfg.LowDelay {
		return fmt.Errorf("batch flush delays must be ordered high <= medium <= low")
	}
	if cfg.MaxMessages < 1 {
		return fmt.Errorf("batch max messages must be positive")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("batch max retries cannot be negative")
	}
	if cfg.AckTimeout <= 0 {
		return fmt.Errorf("ack timeout must be positive")
	}
	return nil
}

// validateCompression validates compression configuration
func validateCompression(cfg *CompressionConfig) error {
	switch cfg.Algorithm {
	case "zstd", "gzip", "deflate":
	default:
		return fmt.Errorf("unknown compression algorithm %q", cfg.Algorithm)
	}
	if cfg.Threshold < 1 {
		return fmt.Errorf("compression threshold must be positive")
	}
	if cfg.JobTimeout <= 0 {
		return fmt.Errorf("compression job timeout must be positive")
	}
	return nil
}

// validateBreaker validates circuit breaker configuration
func validateBreaker(cfg *BreakerConfig) error {
	if cfg.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if cfg.RecoveryTimeout <= 0 {
		return fmt.Errorf("breaker recovery timeout must be positive")
	}
	if cfg.HalfOpenSuccesses < 1 {
		return fmt.Errorf("breaker half-open successes must be positive")
	}
	return nil
}

// validateMetrics validates metrics configuration
func validateMetrics(cfg *MetricsConfig) error {
	if cfg.WindowCap < 2 {
		return fmt.Errorf("metrics window cap must be at least 2")
	}
	if cfg.ExcellentLatency <= 0 || cfg.GoodLatency <= 0 || cfg.PoorLatency <= 0 {
		return fmt.Errorf("latency thresholds must be positive")
	}
	if cfg.ExcellentLatency >= cfg.GoodLatency || cfg.GoodLatency >= cfg.PoorLatency {
		return fmt.Errorf("latency thresholds must be ordered excellent < good < poor")
	}
	return nil
}

// validateQueue validates backpressure configuration
func validateQueue(cfg *QueueConfig) error {
	if cfg.Capacity < 1 {
		return fmt.Errorf("queue capacity must be positive")
	}
	switch cfg.Policy {
	case PolicyRejectNew, PolicyDropOldest:
	default:
		return fmt.Errorf("unknown backpressure policy %q", cfg.Policy)
	}
	return nil
}
