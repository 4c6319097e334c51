// Package message provides shared data structures for queued messages,
// batches, acknowledgments, and network metrics snapshots.
package message

import "time"

// Payload is the canonical alias for raw message body
type Payload = []byte

// Priority orders outbound messages. Higher values dispatch sooner.
type Priority int

// Message priorities, lowest first so they compare naturally.
const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// String returns the configuration name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// DefaultQueueKey groups messages that carry no connection hint.
const DefaultQueueKey = "default"

// QueuedMessage is a message accepted by Send and waiting for dispatch.
// It belongs to exactly one queue key until dispatched.
type QueuedMessage struct {
	ID          string
	Type        string
	Payload     Payload // raw JSON value for the envelope "data" field
	Priority    Priority
	CreatedAt   time.Time
	Retries     int
	MaxRetries  int
	AckRequired bool
	Timeout     time.Duration // per-message ack timeout; zero means config default
	QueueKey    string        // connection hint or DefaultQueueKey
}

// Batch is an ephemeral group of messages serialized for one transmission.
// Size is always the serialized byte length before compression; Compressed
// flips to true only after verified compression success.
type Batch struct {
	ID         string
	Messages   []*QueuedMessage
	Priority   Priority
	Size       int
	Compressed bool
	Algorithm  string
	Payload    Payload // wire bytes: plain envelope array, or compressed frame
}

// Acknowledgment tracks a message sent with AckRequired until it resolves.
// Each record resolves at most once: by a matching inbound ack, by retry
// exhaustion, or by teardown cancellation.
type Acknowledgment struct {
	MessageID string
	SentAt    time.Time
	Deadline  time.Time
	Resolved  bool
	Failed    bool
	Cancelled bool
}
