// Package main starts a demonstration client that keeps an optimized
// connection to a collaboration endpoint and reports its metrics.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
	"github.com/collabstack/netopt/internal/message"
	"github.com/collabstack/netopt/internal/optimizer"
)

func run() int {
	logger := log.New()
	logger.Info("Starting netopt client")

	cfg, err := loadAndLogConfig(logger)
	if err != nil {
		return 1
	}

	opt, err := optimizer.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to build optimizer: %v", err)
		return 1
	}
	defer opt.Destroy()

	return runMainLoop(opt, cfg, logger)
}

func loadAndLogConfig(logger *log.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return nil, err
	}

	logger.Info("Configuration loaded successfully")
	logger.Info("Endpoint: %s (fallback: %q)", cfg.Endpoint.URL, cfg.Endpoint.FallbackURL)
	logger.Info("Pool: %d connections, %s balancing", cfg.Pool.MaxConnections, cfg.Pool.Strategy)
	logger.Info("Compression: %s (threshold %d bytes)", cfg.Compression.Algorithm, cfg.Compression.Threshold)
	return cfg, nil
}

func subscribeEvents(opt *optimizer.Optimizer, logger *log.Logger) {
	opt.On(optimizer.EventConnectionFailed, func(data any) {
		e := data.(optimizer.ConnectionEvent)
		logger.Error("Connection %s abandoned: %s", e.ConnectionID, e.Err)
	})
	opt.On(optimizer.EventMessageDeliveryFailed, func(data any) {
		f := data.(optimizer.DeliveryFailure)
		logger.Warn("Message %s (%s) lost: %s", f.MessageID, f.Type, f.Reason)
	})
	opt.On(optimizer.EventMessageReceived, func(data any) {
		r := data.(optimizer.ReceivedMessage)
		logger.Debug("Received %s message %s", r.Type, r.ID)
	})
	opt.On(optimizer.EventAdaptationApplied, func(data any) {
		a := data.(optimizer.AdaptationEvent)
		logger.Info("Adaptation: %s (%s)", a.Strategy, a.Reason)
	})
}

func runMainLoop(opt *optimizer.Optimizer, cfg *config.Config, logger *log.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscribeEvents(opt, logger)
	if err := opt.Connect(ctx); err != nil {
		logger.Error("Failed to connect: %v", err)
		return 1
	}
	logger.Info("Connected, sending heartbeats")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	heartbeat := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()
	report := time.NewTicker(cfg.Metrics.CollectInterval * 10)
	defer report.Stop()

	for {
		select {
		case <-heartbeat.C:
			if _, err := opt.Send("heartbeat", []byte(`{}`), &optimizer.SendOptions{
				Priority: message.PriorityLow,
			}); err != nil {
				logger.Warn("Heartbeat not queued: %v", err)
			}

		case <-report.C:
			m := opt.Metrics()
			logger.Info("Network: %s band, avg %.1fms (p95 %.1fms), %.1f msg/s, delivery %.1f%%",
				m.Quality.Band, m.Latency.Average, m.Latency.P95,
				m.Throughput.MessagesPerSecond, m.Reliability.DeliveryRate)

		case sig := <-sigChan:
			logger.Info("Received signal %v, shutting down", sig)
			cancel()
			opt.Destroy()
			logger.Info("Client stopped")
			return 0
		}
	}
}

func main() {
	// Keep main minimal to ensure defers in run() execute correctly.
	os.Exit(run())
}
