// Package queue accepts outbound messages, groups them into
// priority-ordered batches per queue key, and flushes them on delay
// expiry, size limits, or demand.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
	"github.com/collabstack/netopt/internal/message"
)

// ErrBatcherClosed is returned for messages enqueued after Close.
var ErrBatcherClosed = errors.New("batcher is closed")

// QueueFullError reports a rejected message under the reject-new policy.
type QueueFullError struct {
	Key      string
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue %q is full (capacity %d)", e.Key, e.Capacity)
}

// IsQueueFull reports whether err is (or wraps) a QueueFullError.
func IsQueueFull(err error) bool {
	var qfe *QueueFullError
	return errors.As(err, &qfe)
}

// FlushFunc receives the batches collected for one queue key, ordered
// highest priority first. It runs outside the batcher lock.
type FlushFunc func(key string, batches []*message.Batch)

// DropFunc observes a message evicted under the drop-oldest policy.
type DropFunc func(msg *message.QueuedMessage)

type keyQueue struct {
	pending  [3][]*message.QueuedMessage // indexed by message.Priority
	timer    *time.Timer
	deadline time.Time
}

func (kq *keyQueue) total() int {
	return len(kq.pending[0]) + len(kq.pending[1]) + len(kq.pending[2])
}

// Batcher is the per-key priority queue and flush scheduler.
type Batcher struct {
	enabled         bool
	highDelay       time.Duration
	mediumDelay     time.Duration
	lowDelay        time.Duration // base for the scaling ratio
	minDelay        time.Duration
	maxDelayCeiling time.Duration

	capacity int
	policy   string

	flush  FlushFunc
	onDrop DropFunc
	log    *log.Logger

	seq atomic.Uint64

	mu          sync.Mutex
	maxDelay    time.Duration // effective low-priority delay, adaptation target
	maxMessages int
	keys        map[string]*keyQueue
	closed      bool
}

// New creates a batcher. The flush callback is required; onDrop may be nil.
func New(cfg *config.BatchConfig, qcfg *config.QueueConfig, flush FlushFunc, onDrop DropFunc, logger *log.Logger) *Batcher {
	return &Batcher{
		enabled:         cfg.Enabled,
		highDelay:       cfg.HighDelay,
		mediumDelay:     cfg.MediumDelay,
		lowDelay:        cfg.LowDelay,
		minDelay:        cfg.MinDelay,
		maxDelayCeiling: cfg.MaxDelayCeiling,
		capacity:        qcfg.Capacity,
		policy:          qcfg.Policy,
		flush:           flush,
		onDrop:          onDrop,
		log:             logger,
		maxDelay:        cfg.LowDelay,
		maxMessages:     cfg.MaxMessages,
		keys:            make(map[string]*keyQueue),
	}
}

// NextID issues a process-unique monotonic message id.
func (b *Batcher) NextID() string {
	return fmt.Sprintf("m-%d", b.seq.Add(1))
}

// Enqueue accepts one message for its queue key. A full queue either
// rejects the message (reject-new) or evicts the oldest lowest-priority
// pending message (drop-oldest).
func (b *Batcher) Enqueue(msg *message.QueuedMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBatcherClosed
	}

	kq, ok := b.keys[msg.QueueKey]
	if !ok {
		kq = &keyQueue{}
		b.keys[msg.QueueKey] = kq
	}

	var dropped *message.QueuedMessage
	if kq.total() >= b.capacity {
		if b.policy == config.PolicyRejectNew {
			b.mu.Unlock()
			return &QueueFullError{Key: msg.QueueKey, Capacity: b.capacity}
		}
		dropped = evictOldest(kq)
	}

	kq.pending[msg.Priority] = append(kq.pending[msg.Priority], msg)

	// High priority dispatches immediately, draining anything already
	// pending for the key along with it.
	flushNow := !b.enabled ||
		msg.Priority == message.PriorityHigh ||
		kq.total() >= b.maxMessages
	if !flushNow {
		b.scheduleLocked(msg.QueueKey, kq)
	}
	b.mu.Unlock()

	if dropped != nil {
		b.log.Debug("queue %q full, dropped oldest message %s", msg.QueueKey, dropped.ID)
		if b.onDrop != nil {
			b.onDrop(dropped)
		}
	}
	if flushNow {
		// The flush runs off the caller's goroutine, like the timer
		// flushes do: Enqueue resolves on acceptance, not delivery.
		go b.FlushKey(msg.QueueKey)
	}
	return nil
}

// evictOldest removes the head of the lowest non-empty priority list.
func evictOldest(kq *keyQueue) *message.QueuedMessage {
	for p := message.PriorityLow; p <= message.PriorityHigh; p++ {
		if len(kq.pending[p]) > 0 {
			dropped := kq.pending[p][0]
			kq.pending[p] = kq.pending[p][1:]
			return dropped
		}
	}
	return nil
}

// scheduleLocked arms or tightens the key's flush timer for the highest
// pending priority. The timer never loosens: a pending high-priority
// deadline survives later low-priority arrivals.
func (b *Batcher) scheduleLocked(key string, kq *keyQueue) {
	delay := b.delayForLocked(highestPending(kq))
	deadline := time.Now().Add(delay)

	if kq.timer != nil {
		if deadline.Before(kq.deadline) {
			kq.timer.Reset(delay)
			kq.deadline = deadline
		}
		return
	}
	kq.timer = time.AfterFunc(delay, func() { b.FlushKey(key) })
	kq.deadline = deadline
}

func highestPending(kq *keyQueue) message.Priority {
	for p := message.PriorityHigh; p > message.PriorityLow; p-- {
		if len(kq.pending[p]) > 0 {
			return p
		}
	}
	return message.PriorityLow
}

// delayForLocked scales the priority's base delay by the ratio of the
// current effective max delay to its configured base, clamped to the
// configured floor and ceiling. Adaptation therefore shifts every
// priority proportionally through SetMaxDelay.
func (b *Batcher) delayForLocked(p message.Priority) time.Duration {
	var base time.Duration
	switch p {
	case message.PriorityHigh:
		base = b.highDelay
	case message.PriorityMedium:
		base = b.mediumDelay
	default:
		base = b.lowDelay
	}

	scaled := time.Duration(float64(base) * float64(b.maxDelay) / float64(b.lowDelay))
	if scaled < b.minDelay {
		scaled = b.minDelay
	}
	if scaled > b.maxDelayCeiling {
		scaled = b.maxDelayCeiling
	}
	return scaled
}

// FlushKey drains one key into priority-ordered batches and hands them to
// the flush callback.
func (b *Batcher) FlushKey(key string) {
	b.mu.Lock()
	batches := b.collectLocked(key)
	b.mu.Unlock()

	if len(batches) > 0 {
		b.flush(key, batches)
	}
}

// FlushAll drains every key immediately.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.keys))
	for key := range b.keys {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	for _, key := range keys {
		b.FlushKey(key)
	}
}

func (b *Batcher) collectLocked(key string) []*message.Batch {
	kq, ok := b.keys[key]
	if !ok {
		return nil
	}
	if kq.timer != nil {
		kq.timer.Stop()
		kq.timer = nil
	}

	var batches []*message.Batch
	for p := message.PriorityHigh; p >= message.PriorityLow; p-- {
		pending := kq.pending[p]
		kq.pending[p] = nil
		for len(pending) > 0 {
			n := len(pending)
			if n > b.maxMessages {
				n = b.maxMessages
			}
			chunk := pending[:n]
			pending = pending[n:]

			payload := message.EncodeBatch(chunk)
			batches = append(batches, &message.Batch{
				ID:       fmt.Sprintf("b-%s", uuid.NewString()[:8]),
				Messages: chunk,
				Priority: p,
				Size:     len(payload),
				Payload:  payload,
			})
		}
	}
	return batches
}

// Pending returns the number of queued messages for one key.
func (b *Batcher) Pending(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if kq, ok := b.keys[key]; ok {
		return kq.total()
	}
	return 0
}

// MaxDelay returns the current effective low-priority flush delay.
func (b *Batcher) MaxDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxDelay
}

// SetMaxDelay adjusts the effective low-priority flush delay, clamped to
// the configured bounds. Used by adaptation.
func (b *Batcher) SetMaxDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d < b.minDelay {
		d = b.minDelay
	}
	if d > b.maxDelayCeiling {
		d = b.maxDelayCeiling
	}
	b.maxDelay = d
}

// MaxMessages returns the current batch size limit.
func (b *Batcher) MaxMessages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxMessages
}

// SetMaxMessages adjusts the batch size limit. Used by tuning profiles.
func (b *Batcher) SetMaxMessages(n int) {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	b.maxMessages = n
	b.mu.Unlock()
}

// Close stops all timers and drains every pending message through the
// flush callback.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	keys := make([]string, 0, len(b.keys))
	for key := range b.keys {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	for _, key := range keys {
		b.FlushKey(key)
	}
}
