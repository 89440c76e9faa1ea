package preview

import (
	"context"
	"fmt"
	"sync"

	"github.com/nasa-jpl/adscope/acquisition"
)

// Buffer consumes preview batches into a Ring.  Resizes requested while Run
// is active are carried out by the Run goroutine between two batches, so a
// batch is never split across the old and new rings
type Buffer struct {
	mu       sync.Mutex
	ring     *Ring
	running  bool
	pending  int
	appended uint64
	batches  uint64
	wake     chan struct{}
}

// New returns a Buffer with the given capacity
func New(capacity int) *Buffer {
	return &Buffer{
		ring: NewRing(capacity),
		wake: make(chan struct{}, 1),
	}
}

// Run consumes ch until ctx is done or ch is closed
func (b *Buffer) Run(ctx context.Context, ch <-chan acquisition.SampleBatch) {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.applyPending()
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
			b.mu.Lock()
			b.applyPending()
			b.mu.Unlock()
		case batch, ok := <-ch:
			if !ok {
				return
			}
			b.mu.Lock()
			b.applyPending()
			b.ring.AppendSlice(batch.Values)
			b.appended += uint64(len(batch.Values))
			b.batches++
			b.mu.Unlock()
		}
	}
}

// applyPending swaps in a resized ring.  b.mu must be held
func (b *Buffer) applyPending() {
	if b.pending == 0 {
		return
	}
	b.ring = b.ring.Resized(b.pending)
	b.pending = 0
}

// Reconfigure replaces the window with one of capacity n that keeps the
// newest values.  When Run is active the swap happens on its goroutine
func (b *Buffer) Reconfigure(n int) error {
	if n < 1 {
		return fmt.Errorf("preview capacity must be positive, got %d", n)
	}
	b.mu.Lock()
	if !b.running {
		b.pending = n
		b.applyPending()
		b.mu.Unlock()
		return nil
	}
	b.pending = n
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// Snapshot returns the window from oldest to newest
func (b *Buffer) Snapshot() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Contiguous()
}

// Cap returns the current capacity
func (b *Buffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Cap()
}

// Len returns the number of values in the window
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Len()
}

// Appended returns the number of values and batches consumed so far
func (b *Buffer) Appended() (values, batches uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appended, b.batches
}
