package config

import (
	"flag"
)

// Command line flags (have precedence over environment variables)
var (
	// Endpoint flags
	flagEndpointURL              = flag.String("endpoint-url", "", "Transport endpoint URL (ws, wss, mqtt, mqtts, tcp)")
	flagEndpointFallbackURL      = flag.String("endpoint-fallback-url", "", "Fallback endpoint URL")
	flagEndpointHandshakeTimeout = flag.Duration("endpoint-handshake-timeout", 0, "Endpoint handshake timeout")
	flagEndpointWriteTimeout     = flag.Duration("endpoint-write-timeout", 0, "Endpoint write timeout")
	flagEndpointTLSEnabled       = flag.Bool("endpoint-tls-enabled", false, "Enable endpoint TLS")
	flagEndpointCACert           = flag.String("endpoint-ca-cert", "", "Endpoint CA certificate path")
	flagEndpointClientCert       = flag.String("endpoint-client-cert", "", "Endpoint client certificate path")
	flagEndpointClientKey        = flag.String("endpoint-client-key", "", "Endpoint client key path")
	flagEndpointInsecureSkip     = flag.Bool("endpoint-tls-insecure-skip", false, "Skip endpoint TLS verification")

	// Pool flags
	flagPoolMaxConnections      = flag.Int("pool-max-connections", 0, "Maximum pooled connections")
	flagPoolHealthCheckInterval = flag.Duration("pool-health-check-interval", 0, "Connection health check interval")
	flagPoolStrategy            = flag.String("pool-strategy", "", "Load balancing strategy (round-robin, least-connections, response-time, adaptive)")
	flagPoolReconnectPolicy     = flag.String("pool-reconnect-policy", "", "Reconnect backoff policy (linear, exponential, adaptive)")
	flagPoolReconnectBaseDelay  = flag.Duration("pool-reconnect-base-delay", 0, "Reconnect backoff base delay")
	flagPoolReconnectMaxDelay   = flag.Duration("pool-reconnect-max-delay", 0, "Reconnect backoff max delay")
	flagPoolMaxReconnect        = flag.Int("pool-max-reconnect-attempts", 0, "Maximum reconnect attempts")

	// Batch flags
	flagBatchEnabled      = flag.Bool("batch-enabled", true, "Enable message batching")
	flagBatchHighDelay    = flag.Duration("batch-high-delay", 0, "Flush delay for high priority")
	flagBatchMediumDelay  = flag.Duration("batch-medium-delay", 0, "Flush delay for medium priority")
	flagBatchLowDelay     = flag.Duration("batch-low-delay", 0, "Flush delay for low priority")
	flagBatchMaxMessages  = flag.Int("batch-max-messages", 0, "Maximum messages per batch")
	flagBatchMaxRetries   = flag.Int("batch-max-retries", 0, "Per-message transmission retries")
	flagBatchRetryBackoff = flag.Duration("batch-retry-backoff", 0, "Batch retry backoff")
	flagBatchAckTimeout   = flag.Duration("batch-ack-timeout", 0, "Default acknowledgment timeout")

	// Compression flags
	flagCompressionEnabled   = flag.Bool("compression-enabled", true, "Enable batch compression")
	flagCompressionAdaptive  = flag.Bool("compression-adaptive", true, "Enable adaptive compression")
	flagCompressionAlgorithm = flag.String("compression-algorithm", "", "Compression algorithm (zstd, gzip, deflate)")
	flagCompressionThreshold = flag.Int("compression-threshold", 0, "Compression threshold in bytes")
	flagCompressionWorkers   = flag.Int("compression-workers", 0, "Compression worker count")

	// Breaker flags
	flagBreakerFailureThreshold  = flag.Int("breaker-failure-threshold", 0, "Circuit breaker failure threshold")
	flagBreakerRecoveryTimeout   = flag.Duration("breaker-recovery-timeout", 0, "Circuit breaker recovery timeout")
	flagBreakerHalfOpenSuccesses = flag.Int("breaker-half-open-successes", 0, "Successes required to close a half-open breaker")

	// Queue flags
	flagQueueCapacity = flag.Int("queue-capacity", 0, "Pending queue capacity per queue key")
	flagQueuePolicy   = flag.String("queue-policy", "", "Backpressure policy (reject-new, drop-oldest)")
)

// applyEndpointFlags applies command line flags to endpoint configuration
func applyEndpointFlags(cfg *EndpointConfig) {
	if *flagEndpointURL != "" {
		cfg.URL = *flagEndpointURL
	}
	if *flagEndpointFallbackURL != "" {
		cfg.FallbackURL = *flagEndpointFallbackURL
	}
	if *flagEndpointHandshakeTimeout != 0 {
		cfg.HandshakeTimeout = *flagEndpointHandshakeTimeout
	}
	if *flagEndpointWriteTimeout != 0 {
		cfg.WriteTimeout = *flagEndpointWriteTimeout
	}
	applyEndpointTLSFlags(cfg)
}

func applyEndpointTLSFlags(cfg *EndpointConfig) {
	if isFlagSet("endpoint-tls-enabled") {
		cfg.TLSEnabled = *flagEndpointTLSEnabled
	}
	if *flagEndpointCACert != "" {
		cfg.CACert = *flagEndpointCACert
	}
	if *flagEndpointClientCert != "" {
		cfg.ClientCert = *flagEndpointClientCert
	}
	if *flagEndpointClientKey != "" {
		cfg.ClientKey = *flagEndpointClientKey
	}
	if isFlagSet("endpoint-tls-insecure-skip") {
		cfg.InsecureSkip = *flagEndpointInsecureSkip
	}
}

// applyPoolFlags applies command line flags to pool configuration
func applyPoolFlags(cfg *PoolConfig) {
	if *flagPoolMaxConnections != 0 {
		cfg.MaxConnections = *flagPoolMaxConnections
	}
	if *flagPoolHealthCheckInterval != 0 {
		cfg.HealthCheckInterval = *flagPoolHealthCheckInterval
	}
	if *flagPoolStrategy != "" {
		cfg.Strategy = *flagPoolStrategy
	}
	if *flagPoolReconnectPolicy != "" {
		cfg.ReconnectPolicy = *flagPoolReconnectPolicy
	}
	if *flagPoolReconnectBaseDelay != 0 {
		cfg.ReconnectBaseDelay = *flagPoolReconnectBaseDelay
	}
	if *flagPoolReconnectMaxDelay != 0 {
		cfg.ReconnectMaxDelay = *flagPoolReconnectMaxDelay
	}
	if *flagPoolMaxReconnect != 0 {
		cfg.MaxReconnectAttempts = *flagPoolMaxReconnect
	}
}

// applyBatchFlags applies command line flags to batching configuration
func applyBatchFlags(cfg *BatchConfig) {
	if isFlagSet("batch-enabled") {
		cfg.Enabled = *flagBatchEnabled
	}
	if *flagBatchHighDelay != 0 {
		cfg.HighDelay = *flagBatchHighDelay
	}
	if *flagBatchMediumDelay != 0 {
		cfg.MediumDelay = *flagBatchMediumDelay
	}
	if *flagBatchLowDelay != 0 {
		cfg.LowDelay = *flagBatchLowDelay
	}
	if *flagBatchMaxMessages != 0 {
		cfg.MaxMessages = *flagBatchMaxMessages
	}
	if *flagBatchMaxRetries != 0 {
		cfg.MaxRetries = *flagBatchMaxRetries
	}
	if *flagBatchRetryBackoff != 0 {
		cfg.RetryBackoff = *flagBatchRetryBackoff
	}
	if *flagBatchAckTimeout != 0 {
		cfg.AckTimeout = *flagBatchAckTimeout
	}
}

// applyCompressionFlags applies command line flags to compression configuration
func applyCompressionFlags(cfg *CompressionConfig) {
	if isFlagSet("compression-enabled") {
		cfg.Enabled = *flagCompressionEnabled
	}
	if isFlagSet("compression-adaptive") {
		cfg.Adaptive = *flagCompressionAdaptive
	}
	if *flagCompressionAlgorithm != "" {
		cfg.Algorithm = *flagCompressionAlgorithm
	}
	if *flagCompressionThreshold != 0 {
		cfg.Threshold = *flagCompressionThreshold
	}
	if *flagCompressionWorkers != 0 {
		cfg.Workers = *flagCompressionWorkers
	}
}

// applyBreakerFlags applies command line flags to breaker configuration
func applyBreakerFlags(cfg *BreakerConfig) {
	if *flagBreakerFailureThreshold != 0 {
		cfg.FailureThreshold = *flagBreakerFailureThreshold
	}
	if *flagBreakerRecoveryTimeout != 0 {
		cfg.RecoveryTimeout = *flagBreakerRecoveryTimeout
	}
	if *flagBreakerHalfOpenSuccesses != 0 {
		cfg.HalfOpenSuccesses = *flagBreakerHalfOpenSuccesses
	}
}

// applyQueueFlags applies command line flags to backpressure configuration
func applyQueueFlags(cfg *QueueConfig) {
	if *flagQueueCapacity != 0 {
		cfg.Capacity = *flagQueueCapacity
	}
	if *flagQueuePolicy != "" {
		cfg.Policy = *flagQueuePolicy
	}
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
