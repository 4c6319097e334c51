// Package config provides configuration loading and validation from
// environment variables and command line flags.
package config

import "time"

// Config holds the complete optimizer configuration
type Config struct {
	Endpoint    EndpointConfig
	Pool        PoolConfig
	Batch       BatchConfig
	Compression CompressionConfig
	Breaker     BreakerConfig
	Metrics     MetricsConfig
	Adaptation  AdaptationConfig
	Queue       QueueConfig
}

// EndpointConfig holds transport endpoint configuration. The URL scheme
// selects the dialer: ws/wss for websocket, mqtt/mqtts/tcp for the broker
// bridge.
type EndpointConfig struct {
	URL              string
	FallbackURL      string // provisioned on high error rate; empty disables
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64 // max inbound frame bytes, websocket only
	// MQTT bridge settings (ignored for websocket endpoints)
	BridgeClientID    string
	BridgeSendTopic   string
	BridgeRecvTopic   string
	BridgeQoS         byte
	SubscribeTimeout  time.Duration
	DisconnectTimeout uint // milliseconds for graceful disconnect
	// TLS Configuration
	TLSEnabled   bool
	CACert       string
	ClientCert   string
	ClientKey    string
	InsecureSkip bool
}

// PoolConfig holds connection pool and balancing configuration
type PoolConfig struct {
	MaxConnections       int
	HealthCheckInterval  time.Duration
	PingTimeout          time.Duration
	Strategy             string // round-robin | least-connections | response-time | adaptive
	ReconnectPolicy      string // linear | exponential | adaptive
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

// BatchConfig holds message queue and batching configuration
type BatchConfig struct {
	Enabled         bool
	HighDelay       time.Duration // flush delay when high priority is pending
	MediumDelay     time.Duration
	LowDelay        time.Duration
	MinDelay        time.Duration // adaptation floor
	MaxDelayCeiling time.Duration // adaptation ceiling
	MaxMessages     int           // messages per batch
	MaxRetries      int           // per-message transmission retries
	RetryBackoff    time.Duration
	AckTimeout      time.Duration // default per-message ack timeout
}

// CompressionConfig holds compression engine configuration
type CompressionConfig struct {
	Enabled      bool
	Adaptive     bool   // skip compression when network quality is excellent
	Algorithm    string // zstd | gzip | deflate
	Level        int
	Threshold    int // bytes; batches below are never compressed
	MinThreshold int // adaptation floor
	MaxThreshold int // adaptation ceiling
	Workers      int
	JobTimeout   time.Duration
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenSuccesses int
}

// MetricsConfig holds metrics collection and quality banding configuration
type MetricsConfig struct {
	WindowCap        int           // latency samples kept before trimming
	CollectInterval  time.Duration // snapshot refresh tick
	ExcellentLatency time.Duration // avg below this is "excellent"
	GoodLatency      time.Duration // avg below this is "good"
	PoorLatency      time.Duration // avg above this is "poor"
	BandwidthCap     float64       // bytes/sec triggering the high-bandwidth strategy
	ErrorRateCap     float64       // percent triggering the high-error-rate strategy
}

// AdaptationConfig holds adaptation engine configuration
type AdaptationConfig struct {
	Enabled  bool
	Interval time.Duration
}

// QueueConfig holds backpressure configuration for pending queues
type QueueConfig struct {
	Capacity int    // pending messages per queue key
	Policy   string // reject-new | drop-oldest
}

// Backpressure policies
const (
	PolicyRejectNew  = "reject-new"
	PolicyDropOldest = "drop-oldest"
)
