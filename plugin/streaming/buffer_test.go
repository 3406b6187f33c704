package streaming

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches []string
}

func (r *flushRecorder) record(batch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *flushRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.batches...)
}

func TestBufferFlushesOnSizeThreshold(t *testing.T) {
	rec := &flushRecorder{}
	b := NewChunkBuffer(10, time.Hour, rec.record)

	b.Append("01234")
	assert.Empty(t, rec.snapshot(), "below threshold, nothing flushed yet")

	b.Append("56789")
	assert.Equal(t, []string{"0123456789"}, rec.snapshot())
}

func TestBufferFlushesOnDebounce(t *testing.T) {
	rec := &flushRecorder{}
	b := NewChunkBuffer(100, 20*time.Millisecond, rec.record)

	b.Append("Hel")
	b.Append("lo")

	// A single timer flushes the batched text no later than the debounce
	// interval after the first byte entered the empty buffer.
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"Hello"}, rec.snapshot())

	// No second timer was left behind.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"Hello"}, rec.snapshot())
}

func TestBufferFlushesImmediatelyWhenIntervalElapsed(t *testing.T) {
	rec := &flushRecorder{}
	b := NewChunkBuffer(100, 20*time.Millisecond, rec.record)

	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	b.lastFlushAt = now

	now = now.Add(25 * time.Millisecond)
	b.Append("late")
	assert.Equal(t, []string{"late"}, rec.snapshot())
}

func TestBufferFlushEmitsPendingAndCancelsTimer(t *testing.T) {
	rec := &flushRecorder{}
	b := NewChunkBuffer(100, 20*time.Millisecond, rec.record)

	b.Append("partial")
	b.Flush()
	assert.Equal(t, []string{"partial"}, rec.snapshot())

	// An empty flush emits nothing, and the canceled timer stays quiet.
	b.Flush()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"partial"}, rec.snapshot())
}

func TestBufferCloseDiscardsPending(t *testing.T) {
	rec := &flushRecorder{}
	b := NewChunkBuffer(100, 10*time.Millisecond, rec.record)

	b.Append("doomed")
	b.Close()

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	b.Append("ignored")
	b.Flush()
	assert.Empty(t, rec.snapshot())
}
