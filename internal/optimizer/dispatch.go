package optimizer

import (
	"errors"
	"time"

	"github.com/collabstack/netopt/internal/message"
)

// errNoConnections reports a flush with nothing usable to send on.
var errNoConnections = errors.New("no available connections")

// dispatch transmits the batches flushed for one queue key. It runs on
// the batcher's flush path.
func (o *Optimizer) dispatch(key string, batches []*message.Batch) {
	preferred := ""
	if key != message.DefaultQueueKey {
		preferred = key
	}
	for _, b := range batches {
		o.sendBatch(b, preferred)
	}
}

// sendBatch compresses when worthwhile, then transmits with bounded
// retries, re-selecting a connection on every attempt. Exhausted retries
// fail every message in the batch.
func (o *Optimizer) sendBatch(b *message.Batch, preferred string) {
	payload := b.Payload
	if o.engine.ShouldCompress(b.Size, o.collector.Band()) {
		blob, algorithm, err := o.engine.Compress(o.ctx, b.Payload)
		if err == nil {
			b.Compressed = true
			b.Algorithm = algorithm
			payload = message.EncodeCompressedFrame(algorithm, blob)
			o.log.Trace("batch %s compressed %d -> %d bytes (%s)", b.ID, b.Size, len(blob), algorithm)
		} else {
			// Uncompressed transmission is always a valid fallback.
			o.log.Debug("compression skipped for batch %s: %v", b.ID, err)
		}
	}

	// The batch retries under the largest per-message budget it carries.
	budget := 0
	for _, m := range b.Messages {
		if m.MaxRetries > budget {
			budget = m.MaxRetries
		}
	}
	if budget == 0 {
		budget = o.cfg.Batch.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= budget; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(o.cfg.Batch.RetryBackoff * time.Duration(attempt)):
			case <-o.ctx.Done():
				o.failBatch(b, o.ctx.Err())
				return
			}
		}

		connID, ok := o.targetConn(preferred)
		if !ok {
			lastErr = errNoConnections
			continue
		}

		if err := o.pool.Send(o.ctx, connID, payload); err != nil {
			lastErr = err
			o.collector.RecordSendError()
			continue
		}

		o.collector.RecordSend(len(b.Messages), len(payload))
		o.trackBatch(b)
		return
	}

	o.failBatch(b, lastErr)
}

// targetConn resolves the hint to a connection id. A hint naming a
// dedicated channel pins the batch to that channel's connection; anything
// else falls through to the balancer, which honors the hint only when it
// matches a healthy general candidate.
func (o *Optimizer) targetConn(hint string) (string, bool) {
	if hint != "" {
		if id, ok := o.pool.ChannelConn(hint); ok {
			return id, true
		}
	}
	return o.bal.Select(o.pool.Candidates(), hint)
}

// trackBatch registers ack-required messages and settles the rest as
// delivered.
func (o *Optimizer) trackBatch(b *message.Batch) {
	for _, m := range b.Messages {
		if m.AckRequired {
			o.acks.track(m)
		} else {
			o.collector.RecordDelivery(true)
		}
	}
}

func (o *Optimizer) failBatch(b *message.Batch, err error) {
	for _, m := range b.Messages {
		o.failMessage(m, err)
	}
}

// failMessage settles one message as undeliverable. This is the single
// place a delivery failure is reported, so it fires at most once per
// message.
func (o *Optimizer) failMessage(m *message.QueuedMessage, err error) {
	o.collector.RecordDelivery(false)
	o.log.Warn("message %s (%s) failed delivery: %v", m.ID, m.Type, err)
	o.events.emit(EventMessageDeliveryFailed, DeliveryFailure{
		MessageID: m.ID,
		Type:      m.Type,
		Reason:    errString(err),
	})
}

// handleDrop settles messages evicted by the drop-oldest backpressure
// policy.
func (o *Optimizer) handleDrop(m *message.QueuedMessage) {
	o.failMessage(m, errors.New("evicted by queue backpressure"))
}

// sweepAcks retransmits expired ack-required messages until their retry
// budget runs out, then fails them.
func (o *Optimizer) sweepAcks() {
	for _, pa := range o.acks.expired(time.Now()) {
		m := pa.msg
		if m.Retries < m.MaxRetries {
			m.Retries++
			o.log.Debug("ack timeout for %s, retransmitting (%d/%d)", m.ID, m.Retries, m.MaxRetries)
			if err := o.batcher.Enqueue(m); err != nil {
				o.failMessage(m, err)
			}
			continue
		}
		o.failMessage(m, errors.New("acknowledgment timeout"))
	}
}
