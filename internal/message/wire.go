package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/collabstack/netopt/pkg/jsonfast"
)

// TypeAck is the reserved envelope type acknowledging receipt of a message.
const TypeAck = "ack"

// Envelope is the serializable wire unit: {id, type, data}.
// Data is an opaque JSON value owned by the application layer.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AckPayload is the data carried by a TypeAck envelope.
type AckPayload struct {
	MessageID string `json:"messageId"`
}

// CompressedFrame replaces a plain envelope array on the wire when a batch
// was compressed. The algorithm is advertised explicitly so the peer never
// has to sniff the blob format.
type CompressedFrame struct {
	Compressed bool   `json:"compressed"`
	Algorithm  string `json:"algorithm"`
	Data       []byte `json:"data"`
}

// ParseEnvelope parses and validates a single inbound envelope.
func ParseEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if env.ID == "" {
		return Envelope{}, fmt.Errorf("envelope missing required field: id")
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing required field: type")
	}
	return env, nil
}

// ParseAck extracts the acknowledged message id from a TypeAck envelope.
func ParseAck(env Envelope) (AckPayload, error) {
	var ack AckPayload
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		return AckPayload{}, fmt.Errorf("failed to parse ack: %w", err)
	}
	if ack.MessageID == "" {
		return AckPayload{}, fmt.Errorf("ack missing required field: messageId")
	}
	return ack, nil
}

// appendEnvelope writes one message as an envelope object into the builder.
func appendEnvelope(b *jsonfast.Builder, msg *QueuedMessage) {
	b.BeginObject()
	b.AddStringField("id", msg.ID)
	b.AddStringField("type", msg.Type)
	if len(msg.Payload) > 0 {
		b.AddRawJSONField("data", msg.Payload)
	} else {
		b.AddRawJSONField("data", []byte("null"))
	}
	b.EndObject()
}

// EncodeEnvelope serializes a single message envelope.
func EncodeEnvelope(msg *QueuedMessage) Payload {
	b := jsonfast.New(len(msg.Payload) + len(msg.ID) + len(msg.Type) + 32)
	appendEnvelope(b, msg)
	return b.Bytes()
}

// EncodeBatch serializes messages as a JSON array of envelopes, preserving
// slice order. The returned length is the pre-compression batch size.
func EncodeBatch(msgs []*QueuedMessage) Payload {
	est := 2
	for _, m := range msgs {
		est += len(m.Payload) + len(m.ID) + len(m.Type) + 34
	}
	b := jsonfast.New(est)
	b.BeginArray()
	for _, m := range msgs {
		appendEnvelope(b, m)
	}
	b.EndArray()
	return b.Bytes()
}

// EncodeAck serializes an acknowledgment envelope for a received message.
func EncodeAck(ackID, messageID string) Payload {
	b := jsonfast.New(len(ackID) + len(messageID) + 48)
	b.BeginObject()
	b.AddStringField("id", ackID)
	b.AddStringField("type", TypeAck)
	data := jsonfast.New(len(messageID) + 16)
	data.BeginObject()
	data.AddStringField("messageId", messageID)
	data.EndObject()
	b.AddRawJSONField("data", data.Bytes())
	b.EndObject()
	return b.Bytes()
}

// EncodeCompressedFrame serializes a compressed batch replacement frame.
func EncodeCompressedFrame(algorithm string, blob []byte) Payload {
	b := jsonfast.New(len(blob)*4/3 + len(algorithm) + 48)
	b.BeginObject()
	b.AddBoolField("compressed", true)
	b.AddStringField("algorithm", algorithm)
	b.AddBase64Field("data", blob)
	b.EndObject()
	return b.Bytes()
}

// DecodeFrame classifies an inbound frame. It returns the contained
// envelopes for a plain frame (single object or array), or the compressed
// frame header when the peer sent a compressed batch.
func DecodeFrame(payload Payload) ([]Envelope, *CompressedFrame, error) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("empty frame")
	}

	if trimmed[0] == '[' {
		var envs []Envelope
		if err := json.Unmarshal(trimmed, &envs); err != nil {
			return nil, nil, fmt.Errorf("failed to parse batch frame: %w", err)
		}
		for i := range envs {
			if envs[i].ID == "" || envs[i].Type == "" {
				return nil, nil, fmt.Errorf("batch frame element %d missing id or type", i)
			}
		}
		return envs, nil, nil
	}

	var cf CompressedFrame
	if err := json.Unmarshal(trimmed, &cf); err == nil && cf.Compressed {
		if cf.Algorithm == "" {
			return nil, nil, fmt.Errorf("compressed frame missing algorithm")
		}
		return nil, &cf, nil
	}

	env, err := ParseEnvelope(trimmed)
	if err != nil {
		return nil, nil, err
	}
	return []Envelope{env}, nil, nil
}
