package optimizer

import (
	"time"

	"github.com/collabstack/netopt/internal/message"
)

// handleInbound processes one raw frame from the pool: decompress if
// needed, resolve acks, acknowledge and surface application messages.
func (o *Optimizer) handleInbound(connID string, payload []byte) {
	envs, cf, err := message.DecodeFrame(payload)
	if err != nil {
		o.emitParseError(connID, err)
		return
	}

	if cf != nil {
		data, err := o.engine.Decompress(cf.Data, cf.Algorithm)
		if err != nil {
			o.emitParseError(connID, err)
			return
		}
		envs, _, err = message.DecodeFrame(data)
		if err != nil {
			o.emitParseError(connID, err)
			return
		}
	}

	for _, env := range envs {
		if env.Type == message.TypeAck {
			o.handleAck(connID, env)
			continue
		}
		o.acknowledge(connID, env.ID)
		o.events.emit(EventMessageReceived, ReceivedMessage{
			ConnectionID: connID,
			ID:           env.ID,
			Type:         env.Type,
			Data:         env.Data,
		})
	}
}

func (o *Optimizer) handleAck(connID string, env message.Envelope) {
	ack, err := message.ParseAck(env)
	if err != nil {
		o.emitParseError(connID, err)
		return
	}

	pa, ok := o.acks.resolve(ack.MessageID)
	if !ok {
		// Duplicate or late ack after retry resolution; nothing to do.
		o.log.Trace("ignoring ack for unknown message %s", ack.MessageID)
		return
	}
	o.collector.RecordDelivery(true)
	o.collector.RecordLatency(time.Since(pa.sentAt))
	o.log.Trace("message %s acknowledged", ack.MessageID)
}

// acknowledge confirms receipt of a peer message on the connection it
// arrived on. Best effort: a lost ack is retransmitted by the peer.
func (o *Optimizer) acknowledge(connID, messageID string) {
	payload := message.EncodeAck(o.batcher.NextID(), messageID)
	if err := o.pool.Send(o.ctx, connID, payload); err != nil {
		o.log.Debug("ack for %s not sent: %v", messageID, err)
	}
}

func (o *Optimizer) emitParseError(connID string, err error) {
	o.log.Warn("inbound frame from %s rejected: %v", connID, err)
	o.events.emit(EventMessageParseError, ParseError{
		ConnectionID: connID,
		Reason:       errString(err),
	})
}
