package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
)

// bridgeDialer connects through an MQTT broker instead of a direct
// websocket. Outbound frames are published to the send topic; inbound
// frames arrive on the receive topic. Reconnection stays with the pool, so
// the paho auto-reconnect machinery is disabled.
type bridgeDialer struct {
	cfg *config.EndpointConfig
	log *log.Logger
}

func newBridgeDialer(cfg *config.EndpointConfig, logger *log.Logger) *bridgeDialer {
	return &bridgeDialer{cfg: cfg, log: logger}
}

// Dial connects a dedicated broker session and subscribes the receive
// topic. Each pooled connection gets its own client id suffix so sessions
// do not evict each other.
func (d *bridgeDialer) Dial(ctx context.Context, endpoint string, h Handlers) (Conn, error) {
	cfg := d.cfg

	c := &bridgeConn{
		endpoint:          endpoint,
		sendTopic:         cfg.BridgeSendTopic,
		qos:               cfg.BridgeQoS,
		writeTimeout:      cfg.WriteTimeout,
		disconnectTimeout: cfg.DisconnectTimeout,
		closed:            make(chan struct{}),
		log:               d.log,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(endpoint)
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.BridgeClientID, uuid.NewString()[:8]))
	opts.SetConnectTimeout(cfg.HandshakeTimeout)
	opts.SetWriteTimeout(cfg.WriteTimeout)
	opts.SetAutoReconnect(false)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOrderMatters(false)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case <-c.closed:
		default:
			d.log.Debug("bridge connection lost for %s: %v", endpoint, err)
			if h.OnClose != nil {
				h.OnClose(err)
			}
		}
	})

	if cfg.TLSEnabled {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	client := mqtt.NewClient(opts)
	c.client = client

	token := client.Connect()
	if !waitToken(ctx, token, cfg.HandshakeTimeout) {
		return nil, fmt.Errorf("bridge connect timeout for %s", endpoint)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bridge connect %s: %w", endpoint, err)
	}

	sub := client.Subscribe(cfg.BridgeRecvTopic, cfg.BridgeQoS, func(_ mqtt.Client, msg mqtt.Message) {
		if h.OnInbound != nil {
			h.OnInbound(msg.Payload())
		}
	})
	if !waitToken(ctx, sub, cfg.SubscribeTimeout) {
		client.Disconnect(cfg.DisconnectTimeout)
		return nil, fmt.Errorf("bridge subscribe timeout for %s", cfg.BridgeRecvTopic)
	}
	if err := sub.Error(); err != nil {
		client.Disconnect(cfg.DisconnectTimeout)
		return nil, fmt.Errorf("bridge subscribe %s: %w", cfg.BridgeRecvTopic, err)
	}

	return c, nil
}

// waitToken waits for a paho token, a context cancellation, or a timeout.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	case <-time.After(timeout):
		return false
	}
}

type bridgeConn struct {
	client            mqtt.Client
	endpoint          string
	sendTopic         string
	qos               byte
	writeTimeout      time.Duration
	disconnectTimeout uint
	log               *log.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// URL returns the dialed broker endpoint.
func (c *bridgeConn) URL() string {
	return c.endpoint
}

// Send publishes one payload to the send topic and waits for broker
// acceptance within the write timeout.
func (c *bridgeConn) Send(ctx context.Context, payload []byte) error {
	token := c.client.Publish(c.sendTopic, c.qos, false, payload)

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		if err := token.Error(); err != nil {
			return fmt.Errorf("bridge publish failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.writeTimeout):
		return fmt.Errorf("bridge publish timeout")
	}
}

// Close disconnects the broker session.
func (c *bridgeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.client != nil && c.client.IsConnected() {
			c.client.Disconnect(c.disconnectTimeout)
		}
	})
	return nil
}
