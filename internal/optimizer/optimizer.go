// Package optimizer is the client-facing facade tying the pool, batcher,
// compression engine, metrics, and adaptation together behind a small
// send/receive API.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/collabstack/netopt/internal/adapt"
	"github.com/collabstack/netopt/internal/balancer"
	"github.com/collabstack/netopt/internal/breaker"
	"github.com/collabstack/netopt/internal/compress"
	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
	"github.com/collabstack/netopt/internal/message"
	"github.com/collabstack/netopt/internal/metrics"
	"github.com/collabstack/netopt/internal/pool"
	"github.com/collabstack/netopt/internal/queue"
	"github.com/collabstack/netopt/internal/transport"
)

// ErrDestroyed is returned for operations after Destroy.
var ErrDestroyed = errors.New("optimizer is destroyed")

const ackSweepInterval = 100 * time.Millisecond

// SendOptions tunes one Send call. The zero value means low priority,
// fire-and-forget, default queue.
type SendOptions struct {
	Priority    message.Priority
	AckRequired bool
	Timeout     time.Duration // ack deadline; zero uses the configured default
	MaxRetries  int           // zero uses the configured default
	// ConnectionHint pins the message to a queue key and preferred
	// connection id when that connection is still healthy.
	ConnectionHint string
}

// ConnectionOptions customizes an explicitly created connection.
type ConnectionOptions struct {
	URL      string // dial this URL instead of the configured endpoint
	Fallback bool   // dial the configured fallback endpoint
	// Channel names a dedicated connection. Messages sent with a matching
	// ConnectionHint use it exclusively; general traffic never does.
	Channel string
}

type options struct {
	dialer transport.Dialer
}

// Option customizes construction.
type Option func(*options)

// WithDialer overrides the transport dialer. Intended for tests and
// embedders that bring their own transport.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// Optimizer owns the full outbound and inbound pipeline for one endpoint.
type Optimizer struct {
	cfg *config.Config
	log *log.Logger

	collector *metrics.Collector
	brk       *breaker.Breaker
	engine    *compress.Engine
	pool      *pool.Pool
	bal       *balancer.Balancer
	batcher   *queue.Batcher
	adapter   *adapt.Engine
	acks      *ackTracker
	events    *registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	started   bool
	destroyed bool
}

// New assembles an optimizer from configuration. Connect starts it.
func New(cfg *config.Config, logger *log.Logger, opts ...Option) (*Optimizer, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		d, err := transport.NewDialer(&cfg.Endpoint, logger)
		if err != nil {
			return nil, err
		}
		o.dialer = d
	}

	strategy, err := balancer.ParseStrategy(cfg.Pool.Strategy)
	if err != nil {
		return nil, err
	}

	engine, err := compress.New(&cfg.Compression, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	opt := &Optimizer{
		cfg:       cfg,
		log:       logger,
		collector: metrics.New(&cfg.Metrics),
		brk:       breaker.New(&cfg.Breaker),
		engine:    engine,
		bal:       balancer.New(strategy),
		acks:      newAckTracker(cfg.Batch.AckTimeout),
		events:    newRegistry(),
		ctx:       ctx,
		cancel:    cancel,
	}

	opt.pool = pool.New(&cfg.Pool, &cfg.Endpoint, o.dialer, opt.brk, opt.collector,
		pool.Events{
			Open: func(id, endpoint string) {
				opt.events.emit(EventConnectionOpen, ConnectionEvent{ConnectionID: id, Endpoint: endpoint})
			},
			Closed: func(id string, err error) {
				opt.events.emit(EventConnectionClose, ConnectionEvent{ConnectionID: id, Err: errString(err)})
			},
			Error: func(id string, err error) {
				opt.events.emit(EventConnectionError, ConnectionEvent{ConnectionID: id, Err: errString(err)})
			},
			Failed: func(id string, err error) {
				opt.events.emit(EventConnectionFailed, ConnectionEvent{ConnectionID: id, Err: errString(err)})
			},
		},
		opt.handleInbound, logger)

	opt.batcher = queue.New(&cfg.Batch, &cfg.Queue, opt.dispatch, opt.handleDrop, logger)

	opt.adapter = adapt.New(&cfg.Adaptation, adapt.DefaultStrategies(&cfg.Metrics),
		adapt.Actions{
			MaxBatchDelay:           opt.batcher.MaxDelay,
			SetMaxBatchDelay:        opt.batcher.SetMaxDelay,
			CompressionThreshold:    opt.engine.Threshold,
			SetCompressionThreshold: opt.engine.SetThreshold,
			SetAdaptiveCompression:  opt.engine.SetAdaptive,
			ProvisionFallback: func() {
				if err := opt.pool.ProvisionFallback(opt.ctx); err != nil {
					logger.Warn("fallback provisioning failed: %v", err)
				}
			},
			OnApplied: func(strategy string, p adapt.Patch) {
				opt.events.emit(EventAdaptationApplied, AdaptationEvent{Strategy: strategy, Reason: p.Reason})
			},
		},
		opt.collector.Snapshot, logger)

	return opt, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Connect establishes the pool and starts the background loops. It is
// safe to call once; later calls return nil without work.
func (o *Optimizer) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return ErrDestroyed
	}
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.mu.Unlock()

	if err := o.pool.Connect(ctx); err != nil {
		return err
	}

	o.startLoop("health", func(ctx context.Context) {
		ticker := time.NewTicker(o.cfg.Pool.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.pool.CheckHealth(ctx)
			case <-ctx.Done():
				return
			}
		}
	})

	o.startLoop("ack-sweep", func(ctx context.Context) {
		ticker := time.NewTicker(ackSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.sweepAcks()
			case <-ctx.Done():
				return
			}
		}
	})

	if o.cfg.Adaptation.Enabled {
		o.startLoop("adaptation", o.adapter.Run)
	}

	o.log.Info("optimizer connected to %s", o.cfg.Endpoint.URL)
	return nil
}

func (o *Optimizer) startLoop(name string, fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.log.Debug("%s loop started", name)
		fn(o.ctx)
		o.log.Debug("%s loop stopped", name)
	}()
}

// Send queues one message and returns its assigned id.
func (o *Optimizer) Send(msgType string, data []byte, opts *SendOptions) (string, error) {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return "", ErrDestroyed
	}
	o.mu.Unlock()

	if opts == nil {
		opts = &SendOptions{}
	}
	if msgType == "" {
		return "", fmt.Errorf("message type is required")
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = o.cfg.Batch.MaxRetries
	}
	key := opts.ConnectionHint
	if key == "" {
		key = message.DefaultQueueKey
	}

	msg := &message.QueuedMessage{
		ID:          o.batcher.NextID(),
		Type:        msgType,
		Payload:     data,
		Priority:    opts.Priority,
		CreatedAt:   time.Now(),
		MaxRetries:  maxRetries,
		AckRequired: opts.AckRequired,
		Timeout:     opts.Timeout,
		QueueKey:    key,
	}
	if err := o.batcher.Enqueue(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// CreateConnection dials one additional connection and returns its id.
// With a Channel name the connection is dedicated: excluded from load
// balancing and reachable through a matching SendOptions.ConnectionHint.
func (o *Optimizer) CreateConnection(ctx context.Context, opts ConnectionOptions) (string, error) {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return "", ErrDestroyed
	}
	o.mu.Unlock()

	return o.pool.CreateWith(ctx, pool.CreateOptions{
		URL:      opts.URL,
		Fallback: opts.Fallback,
		Channel:  opts.Channel,
	})
}

// On subscribes a handler to one event name and returns its unsubscribe
// function. Handlers run synchronously on the optimizer's internal
// goroutines and must not block.
func (o *Optimizer) On(event string, handler Handler) func() {
	return o.events.on(event, handler)
}

// Metrics returns a point-in-time network metrics snapshot.
func (o *Optimizer) Metrics() message.NetworkMetrics {
	return o.collector.Snapshot()
}

// ConnectionHealth returns the health record of every pooled connection.
func (o *Optimizer) ConnectionHealth() map[string]pool.Health {
	return o.pool.HealthSnapshot()
}

// PendingAcks reports how many sent messages still await acknowledgment.
func (o *Optimizer) PendingAcks() int {
	return o.acks.len()
}

// OptimizeForUserCount applies a coarse batching profile for the expected
// session size. Larger sessions batch harder to keep frame rates down.
func (o *Optimizer) OptimizeForUserCount(users int) {
	var (
		maxMessages int
		maxDelay    time.Duration
		profile     string
	)
	switch {
	case users <= 10:
		maxMessages = o.cfg.Batch.MaxMessages
		maxDelay = o.cfg.Batch.LowDelay
		profile = "small"
	case users <= 50:
		maxMessages = 200
		maxDelay = 150 * time.Millisecond
		profile = "medium"
	case users <= 100:
		maxMessages = 300
		maxDelay = 200 * time.Millisecond
		profile = "large"
	default:
		maxMessages = 500
		maxDelay = 250 * time.Millisecond
		profile = "massive"
	}

	o.batcher.SetMaxMessages(maxMessages)
	o.batcher.SetMaxDelay(maxDelay)
	o.log.Info("applied %s session profile for %d users", profile, users)
	o.events.emit(EventAdaptationApplied, AdaptationEvent{
		Strategy: "session-profile",
		Reason:   fmt.Sprintf("%s profile for %d users", profile, users),
	})
}

// Destroy drains pending batches, cancels outstanding acks without
// failure events, and tears down every component. Idempotent.
func (o *Optimizer) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	o.mu.Unlock()

	// Drain while connections are still usable.
	o.batcher.Close()

	o.cancel()
	o.wg.Wait()

	cancelled := o.acks.cancelAll()
	if len(cancelled) > 0 {
		o.log.Debug("cancelled %d pending acknowledgment(s)", len(cancelled))
	}

	o.pool.Close()
	o.engine.Close()
	o.log.Info("optimizer destroyed")
}
