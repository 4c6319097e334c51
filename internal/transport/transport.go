// Package transport abstracts the wire connection behind a Conn interface
// so the pool can mix websocket endpoints and MQTT bridge endpoints.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
)

// Conn is one established transport connection. Implementations must make
// Send safe for concurrent use.
type Conn interface {
	// Send transmits one framed payload. It returns once the payload is
	// handed to the wire or the context/write timeout expires.
	Send(ctx context.Context, payload []byte) error
	// Close tears the connection down. The close handler does not fire
	// for a local Close.
	Close() error
	// URL returns the endpoint this connection was dialed against.
	URL() string
}

// Pinger is implemented by connections that can measure round-trip time
// with a protocol-level ping.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Handlers carries the callbacks a dialer wires into each new connection.
type Handlers struct {
	// OnInbound receives every raw inbound payload. May be nil.
	OnInbound func(payload []byte)
	// OnClose fires once when the peer or the network drops the
	// connection. May be nil.
	OnClose func(err error)
}

// Dialer establishes connections against one endpoint family.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, h Handlers) (Conn, error)
}

// NewDialer routes on the endpoint URL scheme: ws/wss yields a websocket
// dialer, mqtt/mqtts/tcp/ssl the broker bridge.
func NewDialer(cfg *config.EndpointConfig, logger *log.Logger) (Dialer, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return newWebsocketDialer(cfg, logger)
	case "mqtt", "mqtts", "tcp", "ssl":
		return newBridgeDialer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}
