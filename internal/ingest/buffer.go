package ingest

import (
	"sync"
	"time"

	"github.com/your-org/verid/internal/observability"
)

// CapturedFrame is one raw frame with its capture metadata. Timestamps
// are assigned at capture so downstream ordering survives any buffering.
type CapturedFrame struct {
	Index     uint64
	Timestamp time.Time
	Data      []byte
}

// FrameBuffer is a bounded drop-oldest queue between capture and
// upload. When the uploader falls behind, the oldest buffered frame is
// discarded so processing always sees the freshest capture; capture
// never blocks.
type FrameBuffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	frames  []CapturedFrame
	cap     int
	closed  bool
	dropped uint64
}

// NewFrameBuffer builds a buffer holding at most capacity frames.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &FrameBuffer{cap: capacity}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push adds a frame, evicting the oldest when full. Returns false after
// Close.
func (b *FrameBuffer) Push(f CapturedFrame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if len(b.frames) >= b.cap {
		b.frames = b.frames[1:]
		b.dropped++
	}
	b.frames = append(b.frames, f)
	observability.QueueDepth.Set(float64(len(b.frames)))
	b.cond.Signal()
	return true
}

// Pop blocks until a frame is available or the buffer is closed.
// The second return is false once the buffer is closed and drained.
func (b *FrameBuffer) Pop() (CapturedFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.frames) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.frames) == 0 {
		return CapturedFrame{}, false
	}
	f := b.frames[0]
	b.frames = b.frames[1:]
	observability.QueueDepth.Set(float64(len(b.frames)))
	return f, true
}

// Close wakes all waiters; remaining frames can still be drained.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Dropped returns the number of frames evicted so far.
func (b *FrameBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Len returns the current queue depth.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}
