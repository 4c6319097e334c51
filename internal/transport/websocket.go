package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
)

// websocketDialer establishes websocket connections with a shared gorilla
// dialer.
type websocketDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	readLimit    int64
	log          *log.Logger
}

func newWebsocketDialer(cfg *config.EndpointConfig, logger *log.Logger) (*websocketDialer, error) {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.TLSEnabled {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		d.TLSClientConfig = tlsConfig
	}
	return &websocketDialer{
		dialer:       d,
		writeTimeout: cfg.WriteTimeout,
		readLimit:    cfg.ReadLimit,
		log:          logger,
	}, nil
}

// Dial connects and starts the read pump for the new connection.
func (d *websocketDialer) Dial(ctx context.Context, endpoint string, h Handlers) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	if d.readLimit > 0 {
		ws.SetReadLimit(d.readLimit)
	}

	c := &wsConn{
		conn:         ws,
		endpoint:     endpoint,
		writeTimeout: d.writeTimeout,
		handlers:     h,
		closed:       make(chan struct{}),
		log:          d.log,
	}
	ws.SetPongHandler(func(string) error {
		c.handlePong()
		return nil
	})
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	conn         *websocket.Conn
	endpoint     string
	writeTimeout time.Duration
	handlers     Handlers
	log          *log.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	pongMu   sync.Mutex
	pongWait chan struct{}
}

// URL returns the dialed endpoint.
func (c *wsConn) URL() string {
	return c.endpoint
}

// Send writes one text frame. Writes are serialized; the deadline is the
// sooner of the context deadline and the configured write timeout.
func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("websocket set deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Ping measures round-trip time with a websocket ping control frame. The
// read pump delivers the matching pong.
func (c *wsConn) Ping(ctx context.Context) (time.Duration, error) {
	wait := make(chan struct{})
	c.pongMu.Lock()
	c.pongWait = wait
	c.pongMu.Unlock()

	start := time.Now()

	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
	c.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("websocket ping: %w", err)
	}

	select {
	case <-wait:
		return time.Since(start), nil
	case <-c.closed:
		return 0, fmt.Errorf("websocket closed during ping")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *wsConn) handlePong() {
	c.pongMu.Lock()
	if c.pongWait != nil {
		close(c.pongWait)
		c.pongWait = nil
	}
	c.pongMu.Unlock()
}

func (c *wsConn) readLoop() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				// Local close, already reported.
			default:
				c.log.Debug("websocket read loop ended for %s: %v", c.endpoint, err)
				if c.handlers.OnClose != nil {
					c.handlers.OnClose(err)
				}
			}
			return
		}
		if c.handlers.OnInbound != nil {
			c.handlers.OnInbound(payload)
		}
	}
}

// Close sends a best-effort close frame and drops the connection.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
