package config

import (
	"os"
	"strconv"
	"time"
)

// loadEndpointFromEnv loads endpoint configuration from environment variables
func loadEndpointFromEnv(cfg *EndpointConfig) {
	loadEndpointStrings(cfg)
	loadEndpointTimeouts(cfg)
	loadEndpointTLS(cfg)
}

func loadEndpointStrings(cfg *EndpointConfig) {
	if v := getEnvString("ENDPOINT_URL"); v != "" {
		cfg.URL = v
	}
	if v := getEnvString("ENDPOINT_FALLBACK_URL"); v != "" {
		cfg.FallbackURL = v
	}
	if v := getEnvString("ENDPOINT_BRIDGE_CLIENT_ID"); v != "" {
		cfg.BridgeClientID = v
	}
	if v := getEnvString("ENDPOINT_BRIDGE_SEND_TOPIC"); v != "" {
		cfg.BridgeSendTopic = v
	}
	if v := getEnvString("ENDPOINT_BRIDGE_RECV_TOPIC"); v != "" {
		cfg.BridgeRecvTopic = v
	}
	if v := getEnvInt("ENDPOINT_BRIDGE_QOS"); v > 0 && v <= 2 {
		cfg.BridgeQoS = byte(v) // #nosec G115 - validated range 0-2
	}
	if v := getEnvInt("ENDPOINT_READ_LIMIT"); v != 0 {
		cfg.ReadLimit = int64(v)
	}
}

func loadEndpointTimeouts(cfg *EndpointConfig) {
	if v := getEnvDuration("ENDPOINT_HANDSHAKE_TIMEOUT"); v != 0 {
		cfg.HandshakeTimeout = v
	}
	if v := getEnvDuration("ENDPOINT_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("ENDPOINT_SUBSCRIBE_TIMEOUT"); v != 0 {
		cfg.SubscribeTimeout = v
	}
	if v := getEnvInt("ENDPOINT_DISCONNECT_TIMEOUT"); v != 0 {
		cfg.DisconnectTimeout = uint(v) // #nosec G115 - config values are non-negative
	}
}

func loadEndpointTLS(cfg *EndpointConfig) {
	if v := getEnvBool("ENDPOINT_TLS_ENABLED"); v {
		cfg.TLSEnabled = v
	}
	if v := getEnvString("ENDPOINT_CA_CERT"); v != "" {
		cfg.CACert = v
	}
	if v := getEnvString("ENDPOINT_CLIENT_CERT"); v != "" {
		cfg.ClientCert = v
	}
	if v := getEnvString("ENDPOINT_CLIENT_KEY"); v != "" {
		cfg.ClientKey = v
	}
	if v := getEnvBool("ENDPOINT_TLS_INSECURE_SKIP"); v {
		cfg.InsecureSkip = v
	}
}

// loadPoolFromEnv loads pool configuration from environment variables
func loadPoolFromEnv(cfg *PoolConfig) {
	if v := getEnvInt("POOL_MAX_CONNECTIONS"); v != 0 {
		cfg.MaxConnections = v
	}
	if v := getEnvDuration("POOL_HEALTH_CHECK_INTERVAL"); v != 0 {
		cfg.HealthCheckInterval = v
	}
	if v := getEnvDuration("POOL_PING_TIMEOUT"); v != 0 {
		cfg.PingTimeout = v
	}
	if v := getEnvString("POOL_STRATEGY"); v != "" {
		cfg.Strategy = v
	}
	if v := getEnvString("POOL_RECONNECT_POLICY"); v != "" {
		cfg.ReconnectPolicy = v
	}
	if v := getEnvDuration("POOL_RECONNECT_BASE_DELAY"); v != 0 {
		cfg.ReconnectBaseDelay = v
	}
	if v := getEnvDuration("POOL_RECONNECT_MAX_DELAY"); v != 0 {
		cfg.ReconnectMaxDelay = v
	}
	if v := getEnvInt("POOL_MAX_RECONNECT_ATTEMPTS"); v != 0 {
		cfg.MaxReconnectAttempts = v
	}
}

// loadBatchFromEnv loads batching configuration from environment variables
func loadBatchFromEnv(cfg *BatchConfig) {
	if getEnvString("BATCH_ENABLED") == "false" {
		cfg.Enabled = false
	}
	if v := getEnvDuration("BATCH_HIGH_DELAY"); v != 0 {
		cfg.HighDelay = v
	}
	if v := getEnvDuration("BATCH_MEDIUM_DELAY"); v != 0 {
		cfg.MediumDelay = v
	}
	if v := getEnvDuration("BATCH_LOW_DELAY"); v != 0 {
		cfg.LowDelay = v
	}
	if v := getEnvDuration("BATCH_MIN_DELAY"); v != 0 {
		cfg.MinDelay = v
	}
	if v := getEnvDuration("BATCH_MAX_DELAY_CEILING"); v != 0 {
		cfg.MaxDelayCeiling = v
	}
	if v := getEnvInt("BATCH_MAX_MESSAGES"); v != 0 {
		cfg.MaxMessages = v
	}
	if v := getEnvInt("BATCH_MAX_RETRIES"); v != 0 {
		cfg.MaxRetries = v
	}
	if v := getEnvDuration("BATCH_RETRY_BACKOFF"); v != 0 {
		cfg.RetryBackoff = v
	}
	if v := getEnvDuration("BATCH_ACK_TIMEOUT"); v != 0 {
		cfg.AckTimeout = v
	}
}

// loadCompressionFromEnv loads compression configuration from environment variables
func loadCompressionFromEnv(cfg *CompressionConfig) {
	if getEnvString("COMPRESSION_ENABLED") == "false" {
		cfg.Enabled = false
	}
	if getEnvString("COMPRESSION_ADAPTIVE") == "false" {
		cfg.Adaptive = false
	}
	if v := getEnvString("COMPRESSION_ALGORITHM"); v != "" {
		cfg.Algorithm = v
	}
	if v := getEnvInt("COMPRESSION_LEVEL"); v != 0 {
		cfg.Level = v
	}
	if v := getEnvInt("COMPRESSION_THRESHOLD"); v != 0 {
		cfg.Threshold = v
	}
	if v := getEnvInt("COMPRESSION_MIN_THRESHOLD"); v != 0 {
		cfg.MinThreshold = v
	}
	if v := getEnvInt("COMPRESSION_MAX_THRESHOLD"); v != 0 {
		cfg.MaxThreshold = v
	}
	if v := getEnvInt("COMPRESSION_WORKERS"); v != 0 {
		cfg.Workers = v
	}
	if v := getEnvDuration("COMPRESSION_JOB_TIMEOUT"); v != 0 {
		cfg.JobTimeout = v
	}
}

// loadBreakerFromEnv loads circuit breaker configuration from environment variables
func loadBreakerFromEnv(cfg *BreakerConfig) {
	if v := getEnvInt("BREAKER_FAILURE_THRESHOLD"); v != 0 {
		cfg.FailureThreshold = v
	}
	if v := getEnvDuration("BREAKER_RECOVERY_TIMEOUT"); v != 0 {
		cfg.RecoveryTimeout = v
	}
	if v := getEnvInt("BREAKER_HALF_OPEN_SUCCESSES"); v != 0 {
		cfg.HalfOpenSuccesses = v
	}
}

// loadMetricsFromEnv loads metrics configuration from environment variables
func loadMetricsFromEnv(cfg *MetricsConfig) {
	if v := getEnvInt("METRICS_WINDOW_CAP"); v != 0 {
		cfg.WindowCap = v
	}
	if v := getEnvDuration("METRICS_COLLECT_INTERVAL"); v != 0 {
		cfg.CollectInterval = v
	}
	if v := getEnvDuration("METRICS_EXCELLENT_LATENCY"); v != 0 {
		cfg.ExcellentLatency = v
	}
	if v := getEnvDuration("METRICS_GOOD_LATENCY"); v != 0 {
		cfg.GoodLatency = v
	}
	if v := getEnvDuration("METRICS_POOR_LATENCY"); v != 0 {
		cfg.PoorLatency = v
	}
	if v := getEnvFloat("METRICS_BANDWIDTH_CAP"); v != 0 {
		cfg.BandwidthCap = v
	}
	if v := getEnvFloat("METRICS_ERROR_RATE_CAP"); v != 0 {
		cfg.ErrorRateCap = v
	}
}

// loadAdaptationFromEnv loads adaptation configuration from environment variables
func loadAdaptationFromEnv(cfg *AdaptationConfig) {
	if getEnvString("ADAPTATION_ENABLED") == "false" {
		cfg.Enabled = false
	}
	if v := getEnvDuration("ADAPTATION_INTERVAL"); v != 0 {
		cfg.Interval = v
	}
}

// loadQueueFromEnv loads backpressure configuration from environment variables
func loadQueueFromEnv(cfg *QueueConfig) {
	if v := getEnvInt("QUEUE_CAPACITY"); v != 0 {
		cfg.Capacity = v
	}
	if v := getEnvString("QUEUE_POLICY"); v != "" {
		cfg.Policy = v
	}
}

// Helper functions for reading environment variables

func getEnvString(key string) string {
	return os.Getenv(key)
}

func getEnvInt(key string) int {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return intValue
}

func getEnvFloat(key string) float64 {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return floatValue
}

func getEnvDuration(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return duration
}

func getEnvBool(key string) bool {
	value := os.Getenv(key)
	return value == "true"
}
