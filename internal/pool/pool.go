// Package pool maintains the set of live transport connections, their
// health records, and the reconnection lifecycle.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/collabstack/netopt/internal/balancer"
	"github.com/collabstack/netopt/internal/breaker"
	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
	"github.com/collabstack/netopt/internal/metrics"
	"github.com/collabstack/netopt/internal/transport"
)

// ErrPoolClosed is returned for operations after Close.
var ErrPoolClosed = errors.New("connection pool is closed")

// ErrNoConnection is returned when a send targets a missing or down
// connection.
var ErrNoConnection = errors.New("connection is not available")

// Events carries the lifecycle callbacks the pool fires. Nil callbacks
// are ignored. Callbacks run outside the pool lock but may run on
// reconnect goroutines.
type Events struct {
	Open   func(id, endpoint string)
	Closed func(id string, err error)
	Error  func(id string, err error)
	Failed func(id string, err error)
}

// InboundFunc receives raw inbound payloads tagged with the connection
// they arrived on.
type InboundFunc func(connID string, payload []byte)

// CreateOptions customizes one connection. The zero value dials the
// active endpoint as a general balancing candidate.
type CreateOptions struct {
	URL      string // override endpoint URL
	Fallback bool   // dial the configured fallback endpoint
	// Channel names a dedicated connection. Dedicated connections are
	// excluded from general balancing and addressed by channel name, and
	// do not count against the pool's connection cap.
	Channel string
}

type pooledConn struct {
	id           string
	endpoint     string
	channel      string
	conn         transport.Conn
	health       Health
	reconnecting bool
}

// Pool owns up to MaxConnections transport connections against the
// primary endpoint, plus fallback connections once provisioned.
type Pool struct {
	cfg      *config.PoolConfig
	endpoint string
	fallback string

	dialer    transport.Dialer
	brk       *breaker.Breaker
	collector *metrics.Collector
	events    Events
	onInbound InboundFunc
	log       *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	conns       map[string]*pooledConn
	useFallback bool
	closed      bool
}

// New creates a pool. Connections are established by Connect or Create.
func New(cfg *config.PoolConfig, endpoint *config.EndpointConfig, dialer transport.Dialer,
	brk *breaker.Breaker, collector *metrics.Collector, events Events,
	onInbound InboundFunc, logger *log.Logger) *Pool {

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:       cfg,
		endpoint:  endpoint.URL,
		fallback:  endpoint.FallbackURL,
		dialer:    dialer,
		brk:       brk,
		collector: collector,
		events:    events,
		onInbound: onInbound,
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[string]*pooledConn),
	}
}

// Connect fills the pool up to MaxConnections. It succeeds when at least
// one connection comes up; the first dial error stops further attempts.
func (p *Pool) Connect(ctx context.Context) error {
	var lastErr error
	for p.generalCount() < p.cfg.MaxConnections {
		if _, err := p.Create(ctx); err != nil {
			lastErr = err
			break
		}
	}
	if p.Size() == 0 {
		return fmt.Errorf("failed to establish any connection: %w", lastErr)
	}
	if lastErr != nil {
		p.log.Warn("pool started degraded with %d/%d connections: %v",
			p.Size(), p.cfg.MaxConnections, lastErr)
	}
	return nil
}

// Create dials one new general connection against the active endpoint.
func (p *Pool) Create(ctx context.Context) (string, error) {
	return p.CreateWith(ctx, CreateOptions{})
}

// CreateWith dials one new connection, gated by the circuit breaker. It
// returns the new connection id. Creating a channel whose name is already
// taken returns the existing connection id.
func (p *Pool) CreateWith(ctx context.Context, opts CreateOptions) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPoolClosed
	}
	if opts.Channel != "" {
		for _, pc := range p.conns {
			if pc.channel == opts.Channel {
				id := pc.id
				p.mu.Unlock()
				return id, nil
			}
		}
	} else if p.generalCountLocked() >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return "", fmt.Errorf("pool at capacity (%d connections)", p.cfg.MaxConnections)
	}
	endpoint := p.endpoint
	if (opts.Fallback || p.useFallback) && p.fallback != "" {
		endpoint = p.fallback
	}
	if opts.URL != "" {
		endpoint = opts.URL
	}
	p.mu.Unlock()

	if err := p.brk.Allow(endpoint); err != nil {
		return "", err
	}

	id := fmt.Sprintf("conn-%s", uuid.NewString()[:8])
	conn, err := p.dial(ctx, endpoint, id)
	if err != nil {
		p.brk.RecordFailure(endpoint)
		return "", fmt.Errorf("failed to create connection: %w", err)
	}
	p.brk.RecordSuccess(endpoint)

	pc := &pooledConn{
		id:       id,
		endpoint: endpoint,
		channel:  opts.Channel,
		conn:     conn,
		health:   Health{Connected: true, LastCheck: time.Now()},
	}
	p.mu.Lock()
	p.conns[id] = pc
	p.mu.Unlock()

	p.collector.SetConnected(true)
	if p.events.Open != nil {
		p.events.Open(id, endpoint)
	}
	p.log.Debug("connection %s established to %s", id, endpoint)
	return id, nil
}

// dial wires the transport callbacks for one connection id.
func (p *Pool) dial(ctx context.Context, endpoint, id string) (transport.Conn, error) {
	h := transport.Handlers{
		OnInbound: func(payload []byte) {
			if p.onInbound != nil {
				p.onInbound(id, payload)
			}
		},
		OnClose: func(err error) {
			p.mu.Lock()
			pc := p.conns[id]
			p.mu.Unlock()
			if pc != nil {
				p.handleDisconnect(pc, err)
			}
		},
	}
	return p.dialer.Dial(ctx, endpoint, h)
}

// Send transmits one payload on the given connection, tracking load and
// folding the observed round-trip into the latency estimate. A send
// failure marks the connection down and starts reconnection.
func (p *Pool) Send(ctx context.Context, connID string, payload []byte) error {
	p.mu.Lock()
	pc, ok := p.conns[connID]
	if !ok || !pc.health.Connected || pc.reconnecting {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoConnection, connID)
	}
	conn := pc.conn
	pc.health.Load++
	p.mu.Unlock()

	start := time.Now()
	err := conn.Send(ctx, payload)
	elapsed := time.Since(start)

	p.mu.Lock()
	pc.health.Load--
	if err != nil {
		pc.health.SendErrors++
		p.mu.Unlock()

		p.brk.RecordFailure(pc.endpoint)
		if p.events.Error != nil {
			p.events.Error(connID, err)
		}
		p.handleDisconnect(pc, err)
		return fmt.Errorf("send on %s: %w", connID, err)
	}
	pc.health.MessagesSent++
	pc.health.LatencyMs = ewma(pc.health.LatencyMs, float64(elapsed.Microseconds())/1000.0)
	pc.health.LastCheck = time.Now()
	p.mu.Unlock()

	p.collector.RecordLatency(elapsed)
	return nil
}

// handleDisconnect marks the connection down and starts the bounded
// reconnect loop, once per outage.
func (p *Pool) handleDisconnect(pc *pooledConn, cause error) {
	p.mu.Lock()
	if p.closed || pc.reconnecting {
		p.mu.Unlock()
		return
	}
	pc.reconnecting = true
	pc.health.Connected = false
	pc.health.LastCheck = time.Now()
	anyUp := p.anyConnectedLocked()
	p.mu.Unlock()

	_ = pc.conn.Close()
	p.collector.SetConnected(anyUp)
	if p.events.Closed != nil {
		p.events.Closed(pc.id, cause)
	}

	p.wg.Add(1)
	go p.reconnect(pc, cause)
}

func (p *Pool) reconnect(pc *pooledConn, lastErr error) {
	defer p.wg.Done()

	for attempt := 1; attempt <= p.cfg.MaxReconnectAttempts; attempt++ {
		delay := backoffDelay(p.cfg.ReconnectPolicy, attempt,
			p.cfg.ReconnectBaseDelay, p.cfg.ReconnectMaxDelay, p.collector.Band())

		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			return
		}

		if err := p.brk.Allow(pc.endpoint); err != nil {
			lastErr = err
			continue
		}

		conn, err := p.dial(p.ctx, pc.endpoint, pc.id)
		if err != nil {
			lastErr = err
			p.brk.RecordFailure(pc.endpoint)
			p.log.Debug("reconnect attempt %d for %s failed: %v", attempt, pc.id, err)
			continue
		}
		p.brk.RecordSuccess(pc.endpoint)

		p.mu.Lock()
		reconnects := pc.health.Reconnects + 1
		pc.conn = conn
		pc.health = Health{Connected: true, Reconnects: reconnects, LastCheck: time.Now()}
		pc.reconnecting = false
		p.mu.Unlock()

		p.collector.RecordReconnect()
		p.collector.SetConnected(true)
		if p.events.Open != nil {
			p.events.Open(pc.id, pc.endpoint)
		}
		p.log.Info("connection %s reestablished to %s after %d attempt(s)", pc.id, pc.endpoint, attempt)
		return
	}

	p.mu.Lock()
	delete(p.conns, pc.id)
	anyUp := p.anyConnectedLocked()
	p.mu.Unlock()

	p.collector.SetConnected(anyUp)
	if p.events.Failed != nil {
		p.events.Failed(pc.id, lastErr)
	}
	p.log.Error("connection %s abandoned after %d reconnect attempts: %v",
		pc.id, p.cfg.MaxReconnectAttempts, lastErr)
}

// generalCountLocked counts the connections subject to the pool cap;
// dedicated channels are exempt.
func (p *Pool) generalCountLocked() int {
	n := 0
	for _, pc := range p.conns {
		if pc.channel == "" {
			n++
		}
	}
	return n
}

func (p *Pool) generalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generalCountLocked()
}

func (p *Pool) anyConnectedLocked() bool {
	for _, pc := range p.conns {
		if pc.health.Connected && !pc.reconnecting {
			return true
		}
	}
	return false
}

// Candidates returns the balancer view of every usable general
// connection, ordered by id so index-based rotation is stable across
// calls. Dedicated channels never participate in balancing.
func (p *Pool) Candidates() []balancer.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]balancer.Candidate, 0, len(p.conns))
	for _, pc := range p.conns {
		if pc.channel != "" || !pc.health.Connected || pc.reconnecting {
			continue
		}
		out = append(out, balancer.Candidate{
			ID:        pc.id,
			LatencyMs: pc.health.LatencyMs,
			Load:      pc.health.Load,
			ErrorRate: errorRate(pc.health),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChannelConn resolves a dedicated channel name to its connection id,
// if the channel exists and is currently usable.
func (p *Pool) ChannelConn(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pc := range p.conns {
		if pc.channel == name && pc.health.Connected && !pc.reconnecting {
			return pc.id, true
		}
	}
	return "", false
}

func errorRate(h Health) float64 {
	total := h.MessagesSent + h.SendErrors
	if total == 0 {
		return 0
	}
	return 100 * float64(h.SendErrors) / float64(total)
}

// HealthSnapshot returns a copy of every connection's health record with
// the error rate folded in.
func (p *Pool) HealthSnapshot() map[string]Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Health, len(p.conns))
	for id, pc := range p.conns {
		h := pc.health
		h.ErrorRate = errorRate(pc.health)
		out[id] = h
	}
	return out
}

// UpdateHealth merges a partial health update into one connection.
func (p *Pool) UpdateHealth(connID string, patch HealthPatch) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.conns[connID]
	if !ok {
		return false
	}
	pc.health.apply(patch, time.Now())
	return true
}

// CheckHealth pings every usable connection that supports it, folding
// the measured round-trip into its latency estimate. A failed ping is
// treated as a lost connection.
func (p *Pool) CheckHealth(ctx context.Context) {
	p.mu.Lock()
	checks := make([]*pooledConn, 0, len(p.conns))
	for _, pc := range p.conns {
		if pc.health.Connected && !pc.reconnecting {
			checks = append(checks, pc)
		}
	}
	p.mu.Unlock()

	for _, pc := range checks {
		pinger, ok := pc.conn.(transport.Pinger)
		if !ok {
			p.UpdateHealth(pc.id, HealthPatch{})
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, p.cfg.PingTimeout)
		rtt, err := pinger.Ping(pingCtx)
		cancel()
		if err != nil {
			p.log.Warn("health check failed for %s: %v", pc.id, err)
			p.handleDisconnect(pc, err)
			continue
		}

		p.mu.Lock()
		pc.health.LatencyMs = ewma(pc.health.LatencyMs, float64(rtt.Microseconds())/1000.0)
		pc.health.LastCheck = time.Now()
		p.mu.Unlock()
		p.collector.RecordLatency(rtt)
	}
}

// ProvisionFallback switches new connections to the fallback endpoint and
// establishes one immediately. Used by adaptation under sustained errors.
func (p *Pool) ProvisionFallback(ctx context.Context) error {
	p.mu.Lock()
	if p.fallback == "" {
		p.mu.Unlock()
		return fmt.Errorf("no fallback endpoint configured")
	}
	if p.useFallback {
		p.mu.Unlock()
		return nil
	}
	p.useFallback = true
	p.mu.Unlock()

	p.log.Info("provisioning fallback endpoint %s", p.fallback)
	_, err := p.Create(ctx)
	return err
}

// Size returns the number of tracked connections, including ones mid-
// reconnect.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close tears down every connection and stops reconnect loops.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := make([]*pooledConn, 0, len(p.conns))
	for _, pc := range p.conns {
		conns = append(conns, pc)
	}
	p.conns = make(map[string]*pooledConn)
	p.mu.Unlock()

	p.cancel()
	for _, pc := range conns {
		_ = pc.conn.Close()
	}
	p.wg.Wait()
	p.collector.SetConnected(false)
}
