package optimizer

import (
	"sync"
	"time"

	"github.com/collabstack/netopt/internal/message"
)

// pendingAck tracks one ack-required message between transmission and
// resolution.
type pendingAck struct {
	msg      *message.QueuedMessage
	sentAt   time.Time
	deadline time.Time
}

// ackTracker correlates outbound ack-required messages with inbound acks.
// Every tracked message leaves the table exactly once: resolved, expired,
// or cancelled.
type ackTracker struct {
	mu             sync.Mutex
	pending        map[string]*pendingAck
	defaultTimeout time.Duration
}

func newAckTracker(defaultTimeout time.Duration) *ackTracker {
	return &ackTracker{
		pending:        make(map[string]*pendingAck),
		defaultTimeout: defaultTimeout,
	}
}

// track registers a sent message. A zero per-message timeout falls back
// to the configured default.
func (t *ackTracker) track(msg *message.QueuedMessage) {
	timeout := msg.Timeout
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}
	now := time.Now()

	t.mu.Lock()
	t.pending[msg.ID] = &pendingAck{msg: msg, sentAt: now, deadline: now.Add(timeout)}
	t.mu.Unlock()
}

// resolve removes and returns the record for an acked message id. The
// second return is false for unknown or already-resolved ids.
func (t *ackTracker) resolve(messageID string) (*pendingAck, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pa, ok := t.pending[messageID]
	if ok {
		delete(t.pending, messageID)
	}
	return pa, ok
}

// expired removes and returns every record past its deadline.
func (t *ackTracker) expired(now time.Time) []*pendingAck {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*pendingAck
	for id, pa := range t.pending {
		if now.After(pa.deadline) {
			out = append(out, pa)
			delete(t.pending, id)
		}
	}
	return out
}

// cancelAll removes and returns every pending record. Used on teardown.
func (t *ackTracker) cancelAll() []*pendingAck {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*pendingAck, 0, len(t.pending))
	for id, pa := range t.pending {
		out = append(out, pa)
		delete(t.pending, id)
	}
	return out
}

func (t *ackTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
