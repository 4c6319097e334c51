package queue

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabstack/netopt/internal/config"
	"github.com/collabstack/netopt/internal/log"
	"github.com/collabstack/netopt/internal/message"
)

func testBatchConfig() *config.BatchConfig {
	return &config.BatchConfig{
		Enabled:         true,
		HighDelay:       5 * time.Millisecond,
		MediumDelay:     16 * time.Millisecond,
		LowDelay:        100 * time.Millisecond,
		MinDelay:        time.Millisecond,
		MaxDelayCeiling: 500 * time.Millisecond,
		MaxMessages:     100,
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
		AckTimeout:      5 * time.Second,
	}
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{Capacity: 1000, Policy: config.PolicyRejectNew}
}

// flushRecorder captures flushed batches across goroutines.
type flushRecorder struct {
	mu      sync.Mutex
	batches []*message.Batch
	notify  chan struct{}
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{notify: make(chan struct{}, 16)}
}

func (r *flushRecorder) flush(_ string, batches []*message.Batch) {
	r.mu.Lock()
	r.batches = append(r.batches, batches...)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *flushRecorder) all() []*message.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*message.Batch, len(r.batches))
	copy(out, r.batches)
	return out
}

func (r *flushRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
	}
}

func msg(b *Batcher, priority message.Priority) *message.QueuedMessage {
	return &message.QueuedMessage{
		ID:        b.NextID(),
		Type:      "chat.message",
		Payload:   []byte(`{"text":"hi"}`),
		Priority:  priority,
		CreatedAt: time.Now(),
		QueueKey:  message.DefaultQueueKey,
	}
}

func TestBatcher_NextIDMonotonic(t *testing.T) {
	b := New(testBatchConfig(), testQueueConfig(), func(string, []*message.Batch) {}, nil, log.New())
	assert.Equal(t, "m-1", b.NextID())
	assert.Equal(t, "m-2", b.NextID())
	assert.True(t, strings.HasPrefix(b.NextID(), "m-"))
}

func TestBatcher_FlushOnDelay(t *testing.T) {
	rec := newFlushRecorder()
	b := New(testBatchConfig(), testQueueConfig(), rec.flush, nil, log.New())
	defer b.Close()

	require.NoError(t, b.Enqueue(msg(b, message.PriorityMedium)))
	rec.wait(t)

	batches := rec.all()
	require.Len(t, batches, 1)
	assert.Equal(t, message.PriorityMedium, batches[0].Priority)
	assert.Len(t, batches[0].Messages, 1)
	assert.Equal(t, batches[0].Size, len(batches[0].Payload))
	assert.False(t, batches[0].Compressed)
}

func TestBatcher_FlushOnMaxMessages(t *testing.T) {
	rec := newFlushRecorder()
	cfg := testBatchConfig()
	cfg.LowDelay = time.Hour // never fires, size limit must trigger
	cfg.MaxDelayCeiling = 2 * time.Hour
	cfg.MaxMessages = 3
	b := New(cfg, testQueueConfig(), rec.flush, nil, log.New())
	defer b.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Enqueue(msg(b, message.PriorityLow)))
	}
	rec.wait(t)

	batches := rec.all()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Messages, 3)
	assert.Equal(t, 0, b.Pending(message.DefaultQueueKey))
}

func TestBatcher_PriorityOrderInFlush(t *testing.T) {
	rec := newFlushRecorder()
	cfg := testBatchConfig()
	cfg.MediumDelay = time.Hour
	cfg.LowDelay = time.Hour
	cfg.MaxDelayCeiling = 2 * time.Hour
	b := New(cfg, testQueueConfig(), rec.flush, nil, log.New())
	defer b.Close()

	require.NoError(t, b.Enqueue(msg(b, message.PriorityLow)))
	require.NoError(t, b.Enqueue(msg(b, message.PriorityMedium)))
	// The high arrival drains the whole key immediately.
	require.NoError(t, b.Enqueue(msg(b, message.PriorityHigh)))
	rec.wait(t)

	batches := rec.all()
	require.Len(t, batches, 3)
	assert.Equal(t, message.PriorityHigh, batches[0].Priority)
	assert.Equal(t, message.PriorityMedium, batches[1].Priority)
	assert.Equal(t, message.PriorityLow, batches[2].Priority)
}

func TestBatcher_HighPriorityDispatchesImmediately(t *testing.T) {
	rec := newFlushRecorder()
	cfg := testBatchConfig()
	cfg.LowDelay = time.Hour
	cfg.MaxDelayCeiling = 2 * time.Hour
	b := New(cfg, testQueueConfig(), rec.flush, nil, log.New())
	defer b.Close()

	require.NoError(t, b.Enqueue(msg(b, message.PriorityLow)))
	assert.Empty(t, rec.all(), "low priority waits for its timer")

	require.NoError(t, b.Enqueue(msg(b, message.PriorityHigh)))
	rec.wait(t)

	// Both messages drain in the same flush, high first.
	batches := rec.all()
	require.Len(t, batches, 2)
	assert.Equal(t, message.PriorityHigh, batches[0].Priority)
	assert.Equal(t, message.PriorityLow, batches[1].Priority)
}

func TestBatcher_RejectNewWhenFull(t *testing.T) {
	rec := newFlushRecorder()
	qcfg := &config.QueueConfig{Capacity: 2, Policy: config.PolicyRejectNew}
	cfg := testBatchConfig()
	cfg.LowDelay = time.Hour
	cfg.MaxDelayCeiling = 2 * time.Hour
	b := New(cfg, qcfg, rec.flush, nil, log.New())
	defer b.Close()

	require.NoError(t, b.Enqueue(msg(b, message.PriorityLow)))
	require.NoError(t, b.Enqueue(msg(b, message.PriorityLow)))

	err := b.Enqueue(msg(b, message.PriorityHigh))
	require.Error(t, err)
	assert.True(t, IsQueueFull(err), "expected QueueFullError, got %v", err)
	assert.Equal(t, 2, b.Pending(message.DefaultQueueKey))
}

func TestBatcher_DropOldestWhenFull(t *testing.T) {
	rec := newFlushRecorder()
	qcfg := &config.QueueConfig{Capacity: 2, Policy: config.PolicyDropOldest}
	cfg := testBatchConfig()
	cfg.MediumDelay = time.Hour
	cfg.LowDelay = time.Hour
	cfg.MaxDelayCeiling = 2 * time.Hour

	var droppedMu sync.Mutex
	var dropped []string
	onDrop := func(m *message.QueuedMessage) {
		droppedMu.Lock()
		dropped = append(dropped, m.ID)
		droppedMu.Unlock()
	}
	b := New(cfg, qcfg, rec.flush, onDrop, log.New())
	defer b.Close()

	low := msg(b, message.PriorityLow)
	require.NoError(t, b.Enqueue(low))
	require.NoError(t, b.Enqueue(msg(b, message.PriorityMedium)))
	require.NoError(t, b.Enqueue(msg(b, message.PriorityMedium)))

	// The oldest message in the lowest non-empty priority is evicted.
	droppedMu.Lock()
	defer droppedMu.Unlock()
	require.Len(t, dropped, 1)
	assert.Equal(t, low.ID, dropped[0])
	assert.Equal(t, 2, b.Pending(message.DefaultQueueKey))
}

func TestBatcher_SeparateQueueKeys(t *testing.T) {
	rec := newFlushRecorder()
	cfg := testBatchConfig()
	cfg.LowDelay = time.Hour
	cfg.MaxDelayCeiling = 2 * time.Hour
	b := New(cfg, testQueueConfig(), rec.flush, nil, log.New())
	defer b.Close()

	m1 := msg(b, message.PriorityLow)
	m1.QueueKey = "conn-a"
	m2 := msg(b, message.PriorityLow)
	m2.QueueKey = "conn-b"
	require.NoError(t, b.Enqueue(m1))
	require.NoError(t, b.Enqueue(m2))

	assert.Equal(t, 1, b.Pending("conn-a"))
	assert.Equal(t, 1, b.Pending("conn-b"))

	b.FlushKey("conn-a")
	rec.wait(t)
	assert.Equal(t, 0, b.Pending("conn-a"))
	assert.Equal(t, 1, b.Pending("conn-b"))
}

func TestBatcher_DisabledFlushesImmediately(t *testing.T) {
	rec := newFlushRecorder()
	cfg := testBatchConfig()
	cfg.Enabled = false
	b := New(cfg, testQueueConfig(), rec.flush, nil, log.New())
	defer b.Close()

	require.NoError(t, b.Enqueue(msg(b, message.PriorityLow)))
	rec.wait(t)
	require.Len(t, rec.all(), 1)
}

func TestBatcher_SetMaxDelayClampsAndScales(t *testing.T) {
	b := New(testBatchConfig(), testQueueConfig(), func(string, []*message.Batch) {}, nil, log.New())
	defer b.Close()

	b.SetMaxDelay(150 * time.Millisecond)
	assert.Equal(t, 150*time.Millisecond, b.MaxDelay())

	b.SetMaxDelay(time.Hour)
	assert.Equal(t, 500*time.Millisecond, b.MaxDelay())

	b.SetMaxDelay(0)
	assert.Equal(t, time.Millisecond, b.MaxDelay())
}

func TestBatcher_BatchSplitting(t *testing.T) {
	rec := newFlushRecorder()
	cfg := testBatchConfig()
	cfg.LowDelay = time.Hour
	cfg.MaxDelayCeiling = 2 * time.Hour
	cfg.MaxMessages = 4
	b := New(cfg, testQueueConfig(), rec.flush, nil, log.New())
	defer b.Close()

	// 4 messages trip the size flush; the rest drain on demand. Either
	// way the chunking yields a full batch followed by the remainder.
	for i := 0; i < 7; i++ {
		require.NoError(t, b.Enqueue(msg(b, message.PriorityLow)))
	}
	require.Eventually(t, func() bool {
		b.FlushKey(message.DefaultQueueKey)
		n := 0
		for _, batch := range rec.all() {
			n += len(batch.Messages)
		}
		return n == 7
	}, 2*time.Second, 5*time.Millisecond)

	batches := rec.all()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Messages, 4)
	assert.Len(t, batches[1].Messages, 3)
}

func TestBatcher_EnqueueResolvesBeforeFlush(t *testing.T) {
	release := make(chan struct{})
	flushed := make(chan []*message.Batch, 1)
	flush := func(_ string, batches []*message.Batch) {
		<-release
		flushed <- batches
	}
	b := New(testBatchConfig(), testQueueConfig(), flush, nil, log.New())

	// The gated flush callback proves Enqueue does not wait on dispatch.
	require.NoError(t, b.Enqueue(msg(b, message.PriorityHigh)))
	select {
	case <-flushed:
		t.Fatal("flush completed before it was released")
	default:
	}

	close(release)
	select {
	case batches := <-flushed:
		require.Len(t, batches, 1)
		assert.Equal(t, message.PriorityHigh, batches[0].Priority)
	case <-time.After(2 * time.Second):
		t.Fatal("flush never ran")
	}
	b.Close()
}

func TestBatcher_CloseDrainsAndRejects(t *testing.T) {
	rec := newFlushRecorder()
	cfg := testBatchConfig()
	cfg.LowDelay = time.Hour
	cfg.MaxDelayCeiling = 2 * time.Hour
	b := New(cfg, testQueueConfig(), rec.flush, nil, log.New())

	require.NoError(t, b.Enqueue(msg(b, message.PriorityLow)))
	b.Close()

	require.Len(t, rec.all(), 1)
	assert.ErrorIs(t, b.Enqueue(msg(b, message.PriorityLow)), ErrBatcherClosed)
}
