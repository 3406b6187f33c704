package streaming

import (
	"strings"
	"sync"
	"time"
)

// ChunkBuffer batches incremental text into network-efficient flushes. Text
// is flushed when it reaches maxSize or when debounce has elapsed since the
// last flush, whichever comes first; otherwise a single pending timer is
// scheduled to flush the remainder. This bounds event-emission rate without
// adding more than debounce of latency.
//
// The flush callback runs with the buffer lock held and is therefore
// serialized; it must not call back into the buffer.
type ChunkBuffer struct {
	maxSize  int
	debounce time.Duration
	flush    func(batch string)
	now      func() time.Time

	mu          sync.Mutex
	pending     strings.Builder
	lastFlushAt time.Time
	timer       *time.Timer
	closed      bool
}

// NewChunkBuffer creates a buffer that delivers batches to flush.
func NewChunkBuffer(maxSize int, debounce time.Duration, flush func(batch string)) *ChunkBuffer {
	b := &ChunkBuffer{
		maxSize:  maxSize,
		debounce: debounce,
		flush:    flush,
		now:      time.Now,
	}
	b.lastFlushAt = b.now()
	return b
}

// Append adds text and flushes if a threshold is crossed.
func (b *ChunkBuffer) Append(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.pending.WriteString(text)
	if b.pending.Len() >= b.maxSize || b.now().Sub(b.lastFlushAt) >= b.debounce {
		b.flushLocked()
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.debounce, b.timerFlush)
	}
}

// Flush emits any pending text immediately and cancels the pending timer.
func (b *ChunkBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Close cancels the pending timer and discards unflushed text. The buffer
// ignores all appends afterwards.
func (b *ChunkBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.stopTimerLocked()
	b.pending.Reset()
}

func (b *ChunkBuffer) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	if b.closed {
		return
	}
	b.flushLocked()
}

func (b *ChunkBuffer) flushLocked() {
	b.stopTimerLocked()
	b.lastFlushAt = b.now()
	if b.pending.Len() == 0 {
		return
	}
	batch := b.pending.String()
	b.pending.Reset()
	b.flush(batch)
}

func (b *ChunkBuffer) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
