package optimizer

import (
	"encoding/json"
	"sync"
)

// Event names emitted by the optimizer.
const (
	EventConnectionOpen   = "connection:open"
	EventConnectionClose  = "connection:close"
	EventConnectionError  = "connection:error"
	EventConnectionFailed = "connection:failed"

	EventMessageReceived       = "message:received"
	EventMessageParseError     = "message:parse-error"
	EventMessageDeliveryFailed = "message:delivery-failed"

	EventAdaptationApplied = "adaptation:applied"
)

// ConnectionEvent is the payload for connection:* events.
type ConnectionEvent struct {
	ConnectionID string
	Endpoint     string
	Err          string // empty for connection:open
}

// ReceivedMessage is the payload for message:received.
type ReceivedMessage struct {
	ConnectionID string
	ID           string
	Type         string
	Data         json.RawMessage
}

// ParseError is the payload for message:parse-error.
type ParseError struct {
	ConnectionID string
	Reason       string
}

// DeliveryFailure is the payload for message:delivery-failed. It fires
// exactly once per failed message.
type DeliveryFailure struct {
	MessageID string
	Type      string
	Reason    string
}

// AdaptationEvent is the payload for adaptation:applied.
type AdaptationEvent struct {
	Strategy string
	Reason   string
}

// Handler receives one event payload.
type Handler func(data any)

// registry is the subscription table behind On. Emission snapshots the
// handler set, so handlers may subscribe or unsubscribe reentrantly.
type registry struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]map[int]Handler)}
}

// on registers a handler and returns its unsubscribe function. The
// returned function is idempotent.
func (r *registry) on(event string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	m, ok := r.handlers[event]
	if !ok {
		m = make(map[int]Handler)
		r.handlers[event] = m
	}
	m[id] = h

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if m, ok := r.handlers[event]; ok {
			delete(m, id)
		}
	}
}

// emit calls every handler registered for the event.
func (r *registry) emit(event string, data any) {
	r.mu.Lock()
	m := r.handlers[event]
	snapshot := make([]Handler, 0, len(m))
	for _, h := range m {
		snapshot = append(snapshot, h)
	}
	r.mu.Unlock()

	for _, h := range snapshot {
		h(data)
	}
}
