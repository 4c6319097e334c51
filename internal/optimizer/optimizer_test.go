package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabstack/netopt/internal/compress"
	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
	"github.com/collabstack/netopt/internal/message"
	"github.com/collabstack/netopt/internal/queue"
	"github.com/collabstack/netopt/internal/transport"
)

type fakeConn struct {
	endpoint string
	handlers transport.Handlers

	mu       sync.Mutex
	sent     []string
	failSend bool
}

func (c *fakeConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("wire broke")
	}
	c.sent = append(c.sent, string(payload))
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) URL() string { return c.endpoint }

func (c *fakeConn) sentFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// inject delivers a raw frame as if the peer sent it.
func (c *fakeConn) inject(payload []byte) {
	c.handlers.OnInbound(payload)
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string, h transport.Handlers) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	c := &fakeConn{endpoint: endpoint, handlers: h}
	d.conns = append(d.conns, c)
	return c, nil
}

// allFrames flattens every frame sent on any connection.
func (d *fakeDialer) allFrames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, c := range d.conns {
		out = append(out, c.sentFrames()...)
	}
	return out
}

func (d *fakeDialer) framesContaining(sub string) int {
	n := 0
	for _, f := range d.allFrames() {
		if strings.Contains(f, sub) {
			n++
		}
	}
	return n
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Endpoint.URL = "wss://primary.example/rt"
	cfg.Endpoint.FallbackURL = "wss://fallback.example/rt"
	cfg.Pool.MaxConnections = 2
	cfg.Pool.HealthCheckInterval = time.Hour
	cfg.Pool.ReconnectBaseDelay = time.Millisecond
	cfg.Pool.ReconnectMaxDelay = 10 * time.Millisecond
	cfg.Pool.MaxReconnectAttempts = 2
	cfg.Batch.HighDelay = time.Millisecond
	cfg.Batch.MediumDelay = 2 * time.Millisecond
	cfg.Batch.LowDelay = 5 * time.Millisecond
	cfg.Batch.MinDelay = time.Millisecond
	cfg.Batch.RetryBackoff = time.Millisecond
	cfg.Batch.AckTimeout = 60 * time.Millisecond
	cfg.Adaptation.Enabled = false
	return cfg
}

func newConnected(t *testing.T, cfg *config.Config) (*Optimizer, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	o, err := New(cfg, log.New(), WithDialer(d))
	require.NoError(t, err)
	require.NoError(t, o.Connect(context.Background()))
	t.Cleanup(o.Destroy)
	return o, d
}

func TestOptimizer_ConnectOpensPool(t *testing.T) {
	cfg := testConfig()
	d := &fakeDialer{}
	o, err := New(cfg, log.New(), WithDialer(d))
	require.NoError(t, err)
	defer o.Destroy()

	opened := make(chan ConnectionEvent, 4)
	o.On(EventConnectionOpen, func(data any) {
		opened <- data.(ConnectionEvent)
	})

	require.NoError(t, o.Connect(context.Background()))
	assert.Len(t, o.ConnectionHealth(), 2)
	assert.Len(t, opened, 2)
	for id, h := range o.ConnectionHealth() {
		assert.NotEmpty(t, id)
		assert.True(t, h.Connected)
	}
}

func TestOptimizer_SendTransmitsEnvelope(t *testing.T) {
	o, d := newConnected(t, testConfig())

	id, err := o.Send("chat.message", []byte(`{"text":"hello"}`), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "m-"))

	require.Eventually(t, func() bool {
		return d.framesContaining(fmt.Sprintf("%q", id)) > 0
	}, 2*time.Second, 5*time.Millisecond)

	var found bool
	for _, frame := range d.allFrames() {
		if !strings.Contains(frame, id) {
			continue
		}
		found = true
		var envs []message.Envelope
		require.NoError(t, json.Unmarshal([]byte(frame), &envs))
		require.Len(t, envs, 1)
		assert.Equal(t, id, envs[0].ID)
		assert.Equal(t, "chat.message", envs[0].Type)
		assert.JSONEq(t, `{"text":"hello"}`, string(envs[0].Data))
	}
	require.True(t, found)

	m := o.Metrics()
	assert.InDelta(t, 100.0, m.Reliability.DeliveryRate, 0.001)
}

func TestOptimizer_AckResolution(t *testing.T) {
	o, d := newConnected(t, testConfig())

	id, err := o.Send("doc.update", []byte(`{"rev":7}`), &SendOptions{
		Priority:    message.PriorityHigh,
		AckRequired: true,
		Timeout:     time.Hour, // resolution must come from the ack, not expiry
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return o.PendingAcks() == 1 },
		2*time.Second, 5*time.Millisecond)

	ack := fmt.Sprintf(`{"id":"srv-1","type":"ack","data":{"messageId":%q}}`, id)
	d.mu.Lock()
	conn := d.conns[0]
	d.mu.Unlock()
	conn.inject([]byte(ack))

	require.Eventually(t, func() bool { return o.PendingAcks() == 0 },
		2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 100.0, o.Metrics().Reliability.DeliveryRate, 0.001)
}

func TestOptimizer_AckTimeoutRetransmitsThenFailsOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.AckTimeout = 30 * time.Millisecond
	o, d := newConnected(t, cfg)

	failures := make(chan DeliveryFailure, 8)
	o.On(EventMessageDeliveryFailed, func(data any) {
		failures <- data.(DeliveryFailure)
	})

	id, err := o.Send("doc.update", []byte(`{"rev":8}`), &SendOptions{
		AckRequired: true,
		MaxRetries:  1,
	})
	require.NoError(t, err)

	// One original transmission plus one retransmission, then failure.
	require.Eventually(t, func() bool {
		return d.framesContaining(fmt.Sprintf("%q", id)) >= 2
	}, 3*time.Second, 10*time.Millisecond)

	select {
	case f := <-failures:
		assert.Equal(t, id, f.MessageID)
		assert.Equal(t, "doc.update", f.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("delivery failure never reported")
	}

	// Exactly one failure per message.
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, failures)
	assert.Equal(t, 2, d.framesContaining(fmt.Sprintf("%q", id)))
}

func TestOptimizer_InboundMessageEmitsAndAcks(t *testing.T) {
	o, d := newConnected(t, testConfig())

	received := make(chan ReceivedMessage, 1)
	o.On(EventMessageReceived, func(data any) {
		received <- data.(ReceivedMessage)
	})

	d.mu.Lock()
	conn := d.conns[0]
	d.mu.Unlock()
	conn.inject([]byte(`{"id":"srv-9","type":"presence.join","data":{"user":"ada"}}`))

	select {
	case r := <-received:
		assert.Equal(t, "srv-9", r.ID)
		assert.Equal(t, "presence.join", r.Type)
		assert.JSONEq(t, `{"user":"ada"}`, string(r.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("received event never fired")
	}

	// The peer message is acknowledged on the same connection.
	require.Eventually(t, func() bool {
		for _, f := range conn.sentFrames() {
			if strings.Contains(f, `"type":"ack"`) && strings.Contains(f, `"messageId":"srv-9"`) {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOptimizer_InboundCompressedBatch(t *testing.T) {
	o, d := newConnected(t, testConfig())

	received := make(chan ReceivedMessage, 4)
	o.On(EventMessageReceived, func(data any) {
		received <- data.(ReceivedMessage)
	})

	// The peer compresses with gzip; the zstd-configured engine must
	// still inflate it from the advertised algorithm.
	peerCfg := testConfig().Compression
	peerCfg.Algorithm = "gzip"
	peerCfg.Threshold = 1
	peer, err := compress.New(&peerCfg, log.New())
	require.NoError(t, err)
	defer peer.Close()

	msgs := []*message.QueuedMessage{
		{ID: "srv-10", Type: "cursor.move", Payload: []byte(`{"x":1,"y":2,"pad":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}`)},
		{ID: "srv-11", Type: "cursor.move", Payload: []byte(`{"x":3,"y":4,"pad":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}`)},
	}
	plain := message.EncodeBatch(msgs)
	blob, algorithm, err := peer.Compress(context.Background(), plain)
	require.NoError(t, err)
	frame := message.EncodeCompressedFrame(algorithm, blob)

	d.mu.Lock()
	conn := d.conns[0]
	d.mu.Unlock()
	conn.inject(frame)

	for _, want := range []string{"srv-10", "srv-11"} {
		select {
		case r := <-received:
			assert.Equal(t, want, r.ID)
		case <-time.After(2 * time.Second):
			t.Fatalf("envelope %s never surfaced", want)
		}
	}
}

func TestOptimizer_ParseErrorEvent(t *testing.T) {
	o, d := newConnected(t, testConfig())

	parseErrs := make(chan ParseError, 1)
	o.On(EventMessageParseError, func(data any) {
		parseErrs <- data.(ParseError)
	})

	d.mu.Lock()
	conn := d.conns[0]
	d.mu.Unlock()
	conn.inject([]byte(`{"type":"no-id"}`))

	select {
	case pe := <-parseErrs:
		assert.NotEmpty(t, pe.Reason)
		assert.NotEmpty(t, pe.ConnectionID)
	case <-time.After(2 * time.Second):
		t.Fatal("parse error event never fired")
	}
}

func TestOptimizer_OutboundCompression(t *testing.T) {
	cfg := testConfig()
	cfg.Compression.Threshold = 300
	cfg.Compression.MinThreshold = 64
	cfg.Compression.Adaptive = false
	o, d := newConnected(t, cfg)

	payload := []byte(`{"text":"` + strings.Repeat("collaborate ", 100) + `"}`)
	_, err := o.Send("chat.message", payload, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.framesContaining(`"compressed":true`) > 0
	}, 2*time.Second, 5*time.Millisecond)

	for _, frame := range d.allFrames() {
		if !strings.Contains(frame, `"compressed":true`) {
			continue
		}
		var cf message.CompressedFrame
		require.NoError(t, json.Unmarshal([]byte(frame), &cf))
		assert.Equal(t, "zstd", cf.Algorithm)
		restored, err := o.engine.Decompress(cf.Data, cf.Algorithm)
		require.NoError(t, err)
		assert.Contains(t, string(restored), "collaborate")
	}
}

func TestOptimizer_QueueBackpressureRejects(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.Capacity = 1
	cfg.Batch.LowDelay = time.Hour
	cfg.Batch.MediumDelay = time.Hour
	cfg.Batch.HighDelay = time.Hour
	cfg.Batch.MaxDelayCeiling = 2 * time.Hour

	d := &fakeDialer{}
	o, err := New(cfg, log.New(), WithDialer(d))
	require.NoError(t, err)
	defer o.Destroy()

	_, err = o.Send("chat.message", []byte(`{}`), nil)
	require.NoError(t, err)
	_, err = o.Send("chat.message", []byte(`{}`), nil)
	require.Error(t, err)
	assert.True(t, queue.IsQueueFull(err), "expected queue-full rejection, got %v", err)
}

func TestOptimizer_NoConnectionsFailsDelivery(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.MaxRetries = 1
	d := &fakeDialer{}
	o, err := New(cfg, log.New(), WithDialer(d))
	require.NoError(t, err)
	defer o.Destroy()

	failures := make(chan DeliveryFailure, 1)
	o.On(EventMessageDeliveryFailed, func(data any) {
		failures <- data.(DeliveryFailure)
	})

	// Never connected: the flush finds no candidates.
	id, err := o.Send("chat.message", []byte(`{}`), nil)
	require.NoError(t, err)

	select {
	case f := <-failures:
		assert.Equal(t, id, f.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery failure never reported")
	}
}

func TestOptimizer_HighPrioritySendResolvesOnEnqueue(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.RetryBackoff = 200 * time.Millisecond
	d := &fakeDialer{}
	o, err := New(cfg, log.New(), WithDialer(d))
	require.NoError(t, err)
	defer o.Destroy()

	failures := make(chan DeliveryFailure, 1)
	o.On(EventMessageDeliveryFailed, func(data any) {
		failures <- data.(DeliveryFailure)
	})

	// Never connected: dispatch burns through its full retry cycle, but
	// Send must return on enqueue, not on delivery.
	start := time.Now()
	id, err := o.Send("doc.update", []byte(`{"rev":1}`), &SendOptions{
		Priority: message.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case f := <-failures:
		assert.Equal(t, id, f.MessageID)
	case <-time.After(3 * time.Second):
		t.Fatal("delivery failure never reported")
	}
}

func TestOptimizer_TransmissionRetriesHonorMessageBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.MaxRetries = 1
	cfg.Batch.RetryBackoff = 40 * time.Millisecond
	d := &fakeDialer{}
	o, err := New(cfg, log.New(), WithDialer(d))
	require.NoError(t, err)
	defer o.Destroy()

	failures := make(chan DeliveryFailure, 1)
	o.On(EventMessageDeliveryFailed, func(data any) {
		failures <- data.(DeliveryFailure)
	})

	// Three message-level retries back off 40+80+120ms before failing,
	// well past what the configured batch-level single retry would take.
	start := time.Now()
	id, err := o.Send("doc.update", []byte(`{"rev":2}`), &SendOptions{
		Priority:   message.PriorityHigh,
		MaxRetries: 3,
	})
	require.NoError(t, err)

	select {
	case f := <-failures:
		assert.Equal(t, id, f.MessageID)
		assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("delivery failure never reported")
	}
}

func TestOptimizer_OptimizeForUserCount(t *testing.T) {
	o, _ := newConnected(t, testConfig())

	// Handlers run synchronously, so the channel must absorb every
	// profile change applied below without blocking.
	adapted := make(chan AdaptationEvent, 4)
	o.On(EventAdaptationApplied, func(data any) {
		adapted <- data.(AdaptationEvent)
	})

	o.OptimizeForUserCount(75)
	assert.Equal(t, 300, o.batcher.MaxMessages())
	assert.Equal(t, 200*time.Millisecond, o.batcher.MaxDelay())

	select {
	case e := <-adapted:
		assert.Equal(t, "session-profile", e.Strategy)
	case <-time.After(time.Second):
		t.Fatal("adaptation event never fired")
	}

	o.OptimizeForUserCount(500)
	assert.Equal(t, 500, o.batcher.MaxMessages())

	o.OptimizeForUserCount(5)
	assert.Equal(t, o.cfg.Batch.MaxMessages, o.batcher.MaxMessages())
}

func TestOptimizer_DedicatedChannel(t *testing.T) {
	o, d := newConnected(t, testConfig())

	connID, err := o.CreateConnection(context.Background(), ConnectionOptions{Channel: "presence"})
	require.NoError(t, err)
	d.mu.Lock()
	require.Len(t, d.conns, 3)
	dedicated := d.conns[2]
	d.mu.Unlock()

	hinted, err := o.Send("presence.update", []byte(`{"user":"ada"}`), &SendOptions{
		ConnectionHint: "presence",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, f := range dedicated.sentFrames() {
			if strings.Contains(f, hinted) {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// General traffic balances across the pool, never onto the channel.
	general, err := o.Send("chat.message", []byte(`{"text":"hi"}`), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return d.framesContaining(fmt.Sprintf("%q", general)) > 0
	}, 2*time.Second, 5*time.Millisecond)
	for _, f := range dedicated.sentFrames() {
		assert.NotContains(t, f, general)
	}

	health, ok := o.ConnectionHealth()[connID]
	require.True(t, ok)
	assert.True(t, health.Connected)
}

func TestOptimizer_UnsubscribeStopsDelivery(t *testing.T) {
	o, _ := newConnected(t, testConfig())

	var calls int
	var mu sync.Mutex
	off := o.On(EventAdaptationApplied, func(any) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	o.OptimizeForUserCount(75)
	off()
	off() // idempotent
	o.OptimizeForUserCount(200)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestOptimizer_DestroyCancelsAcksQuietly(t *testing.T) {
	cfg := testConfig()
	o, _ := newConnected(t, cfg)

	failures := make(chan DeliveryFailure, 4)
	o.On(EventMessageDeliveryFailed, func(data any) {
		failures <- data.(DeliveryFailure)
	})

	_, err := o.Send("doc.update", []byte(`{}`), &SendOptions{AckRequired: true, Timeout: time.Hour})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return o.PendingAcks() == 1 },
		2*time.Second, 5*time.Millisecond)

	o.Destroy()

	// Cancelled, not failed: no delivery failure surfaces.
	assert.Empty(t, failures)
	assert.Equal(t, 0, o.PendingAcks())

	_, err = o.Send("chat.message", []byte(`{}`), nil)
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestOptimizer_InvalidConfigRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Pool.Strategy = "random"
	_, err := New(cfg, log.New(), WithDialer(&fakeDialer{}))
	assert.Error(t, err)
}
