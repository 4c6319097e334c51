// Package compress runs batch payload compression on a bounded worker
// pool so large batches never stall the send path.
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
	"github.com/collabstack/netopt/internal/metrics"
)

// Supported algorithms
const (
	AlgorithmZstd    = "zstd"
	AlgorithmGzip    = "gzip"
	AlgorithmDeflate = "deflate"
)

// ErrIncompressible is returned when compression produces output at least
// as large as the input. Callers send the payload uncompressed.
var ErrIncompressible = errors.New("compressed payload is not smaller than input")

// ErrEngineClosed is returned for jobs submitted after Close.
var ErrEngineClosed = errors.New("compression engine is closed")

type job struct {
	payload []byte
	result  chan jobResult
}

type jobResult struct {
	data []byte
	err  error
}

// Engine compresses outbound batches and decompresses inbound frames.
// Compression uses the configured algorithm; decompression accepts any
// supported algorithm since inbound frames advertise their own.
type Engine struct {
	algorithm  string
	level      int
	jobTimeout time.Duration
	log        *log.Logger

	mu        sync.Mutex
	enabled   bool
	adaptive  bool
	threshold int
	minThresh int
	maxThresh int

	jobs      chan job
	workersWG sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}

	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
}

// New creates the engine and starts its workers.
func New(cfg *config.CompressionConfig, logger *log.Logger) (*Engine, error) {
	e := &Engine{
		algorithm:  cfg.Algorithm,
		level:      cfg.Level,
		jobTimeout: cfg.JobTimeout,
		log:        logger,
		enabled:    cfg.Enabled,
		adaptive:   cfg.Adaptive,
		threshold:  cfg.Threshold,
		minThresh:  cfg.MinThreshold,
		maxThresh:  cfg.MaxThreshold,
		jobs:       make(chan job, cfg.Workers),
		closed:     make(chan struct{}),
	}

	var err error
	if cfg.Algorithm == AlgorithmZstd {
		e.zstdEnc, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.Level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// The decoder is always available: peers may pick any algorithm.
	e.zstdDec, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	for i := 0; i < cfg.Workers; i++ {
		e.workersWG.Add(1)
		go e.worker()
	}
	return e, nil
}

// ShouldCompress decides whether a payload of the given size is worth
// compressing under the current network quality band. Small payloads are
// skipped outright; in adaptive mode an excellent network also skips
// mid-sized payloads because the CPU cost outweighs the wire savings.
func (e *Engine) ShouldCompress(size int, band metrics.Band) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled || size < e.threshold {
		return false
	}
	if e.adaptive && band == metrics.BandExcellent && size < 2*e.threshold {
		return false
	}
	return true
}

// Compress submits the payload to the worker pool and waits for the
// result, the context, or the job timeout. The returned algorithm is the
// engine's configured one.
func (e *Engine) Compress(ctx context.Context, payload []byte) ([]byte, string, error) {
	select {
	case <-e.closed:
		return nil, "", ErrEngineClosed
	default:
	}

	j := job{payload: payload, result: make(chan jobResult, 1)}

	timer := time.NewTimer(e.jobTimeout)
	defer timer.Stop()

	select {
	case e.jobs <- j:
	case <-e.closed:
		return nil, "", ErrEngineClosed
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-timer.C:
		return nil, "", fmt.Errorf("compression queue full for %s", e.algorithm)
	}

	select {
	case r := <-j.result:
		if r.err != nil {
			return nil, "", r.err
		}
		if len(r.data) >= len(payload) {
			return nil, "", ErrIncompressible
		}
		return r.data, e.algorithm, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-timer.C:
		return nil, "", fmt.Errorf("compression timed out after %s", e.jobTimeout)
	}
}

func (e *Engine) worker() {
	defer e.workersWG.Done()
	for {
		select {
		case j := <-e.jobs:
			data, err := e.encode(j.payload)
			j.result <- jobResult{data: data, err: err}
		case <-e.closed:
			return
		}
	}
}

func (e *Engine) encode(payload []byte) ([]byte, error) {
	switch e.algorithm {
	case AlgorithmZstd:
		return e.zstdEnc.EncodeAll(payload, nil), nil
	case AlgorithmGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, e.level)
		if err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	case AlgorithmDeflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, e.level)
		if err != nil {
			return nil, fmt.Errorf("deflate writer: %w", err)
		}
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("deflate write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("deflate close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", e.algorithm)
	}
}

// Decompress inflates an inbound payload by its advertised algorithm.
func (e *Engine) Decompress(payload []byte, algorithm string) ([]byte, error) {
	switch algorithm {
	case AlgorithmZstd:
		data, err := e.zstdDec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return data, nil
	case AlgorithmGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer func() { _ = r.Close() }()
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		return data, nil
	case AlgorithmDeflate:
		r := flate.NewReader(bytes.NewReader(payload))
		defer func() { _ = r.Close() }()
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("deflate decompress: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}
}

// Threshold returns the current size threshold in bytes.
func (e *Engine) Threshold() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// SetThreshold adjusts the size threshold, clamped to the configured
// bounds. Used by adaptation.
func (e *Engine) SetThreshold(threshold int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if threshold < e.minThresh {
		threshold = e.minThresh
	}
	if threshold > e.maxThresh {
		threshold = e.maxThresh
	}
	e.threshold = threshold
}

// SetAdaptive toggles quality-aware compression skipping.
func (e *Engine) SetAdaptive(adaptive bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adaptive = adaptive
}

// Close stops the workers and releases codec resources.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.workersWG.Wait()
		if e.zstdEnc != nil {
			_ = e.zstdEnc.Close()
		}
		e.zstdDec.Close()
	})
}
