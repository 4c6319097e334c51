package config

import "time"

// defaultEndpointConfig returns the default endpoint configuration
func defaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		URL:               "wss://localhost:8443/sync",
		FallbackURL:       "",
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReadLimit:         1 << 20, // 1MB
		BridgeClientID:    "netopt",
		BridgeSendTopic:   "collab/outbound",
		BridgeRecvTopic:   "collab/inbound",
		BridgeQoS:         0,
		SubscribeTimeout:  10 * time.Second,
		DisconnectTimeout: 1000,
		TLSEnabled:        false,
		CACert:            "",
		ClientCert:        "",
		ClientKey:         "",
		InsecureSkip:      false,
	}
}

// defaultPoolConfig returns the default pool configuration
func defaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:       8,
		HealthCheckInterval:  10 * time.Second,
		PingTimeout:          5 * time.Second,
		Strategy:             "adaptive",
		ReconnectPolicy:      "exponential",
		ReconnectBaseDelay:   500 * time.Millisecond,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 6,
	}
}

// defaultBatchConfig returns the default batching configuration
func defaultBatchConfig() BatchConfig {
	return BatchConfig{
		Enabled:         true,
		HighDelay:       5 * time.Millisecond,
		MediumDelay:     16 * time.Millisecond,
		LowDelay:        100 * time.Millisecond,
		MinDelay:        5 * time.Millisecond,
		MaxDelayCeiling: 1 * time.Second,
		MaxMessages:     100,
		MaxRetries:      3,
		RetryBackoff:    250 * time.Millisecond,
		AckTimeout:      5 * time.Second,
	}
}

// defaultCompressionConfig returns the default compression configuration
func defaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Enabled:      true,
		Adaptive:     true,
		Algorithm:    "zstd",
		Level:        3,
		Threshold:    1024,
		MinThreshold: 256,
		MaxThreshold: 8192,
		Workers:      2,
		JobTimeout:   200 * time.Millisecond,
	}
}

// defaultBreakerConfig returns the default circuit breaker configuration
func defaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenSuccesses: 2,
	}
}

// defaultMetricsConfig returns the default metrics configuration
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		WindowCap:        1000,
		CollectInterval:  1 * time.Second,
		ExcellentLatency: 50 * time.Millisecond,
		GoodLatency:      150 * time.Millisecond,
		PoorLatency:      300 * time.Millisecond,
		BandwidthCap:     1 << 20, // 1MB/s
		ErrorRateCap:     5.0,
	}
}

// defaultAdaptationConfig returns the default adaptation configuration
func defaultAdaptationConfig() AdaptationConfig {
	return AdaptationConfig{
		Enabled:  true,
		Interval: 1 * time.Second,
	}
}

// defaultQueueConfig returns the default backpressure configuration
func defaultQueueConfig() QueueConfig {
	return QueueConfig{
		Capacity: 1000,
		Policy:   PolicyRejectNew,
	}
}

// defaultConfig returns a complete configuration with all default values
func defaultConfig() *Config {
	return &Config{
		Endpoint:    defaultEndpointConfig(),
		Pool:        defaultPoolConfig(),
		Batch:       defaultBatchConfig(),
		Compression: defaultCompressionConfig(),
		Breaker:     defaultBreakerConfig(),
		Metrics:     defaultMetricsConfig(),
		Adaptation:  defaultAdaptationConfig(),
		Queue:       defaultQueueConfig(),
	}
}
