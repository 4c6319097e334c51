package message

// LatencyMetrics holds rolling latency statistics in milliseconds.
type LatencyMetrics struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
}

// ThroughputMetrics holds trailing-second transmission rates.
type ThroughputMetrics struct {
	MessagesPerSecond float64 `json:"messagesPerSecond"`
	BytesPerSecond    float64 `json:"bytesPerSecond"`
}

// ReliabilityMetrics holds uptime and delivery statistics in percent.
type ReliabilityMetrics struct {
	UptimePercent float64 `json:"uptimePercent"`
	DeliveryRate  float64 `json:"deliveryRate"`
	ErrorRate     float64 `json:"errorRate"`
	Reconnections int     `json:"reconnections"`
}

// QualityMetrics holds derived network quality indicators.
type QualityMetrics struct {
	PacketLoss float64 `json:"packetLoss"` // percent of failed transmissions
	Jitter     float64 `json:"jitter"`     // ms, mean deviation of latency samples
	Bandwidth  float64 `json:"bandwidth"`  // bytes/sec, same source as throughput
	Band       string  `json:"band"`       // excellent | good | poor
}

// NetworkMetrics is a point-in-time snapshot of the rolling statistics.
// The collector mutates its own copy; everyone else reads snapshots.
type NetworkMetrics struct {
	Latency     LatencyMetrics     `json:"latency"`
	Throughput  ThroughputMetrics  `json:"throughput"`
	Reliability ReliabilityMetrics `json:"reliability"`
	Quality     QualityMetrics     `json:"quality"`
}
