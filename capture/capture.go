// Package capture accumulates durable capture batches into the recording.
package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/nasa-jpl/adscope/acquisition"
)

// Accumulator appends the values of capture batches, in arrival order, to
// the recorded samples.  Run must be called by exactly one goroutine; the
// read methods may be called from anywhere
type Accumulator struct {
	mu       sync.RWMutex
	samples  []float64
	batches  int
	minEpoch uint64
	last     uint64
	segments map[uint64]int
	changed  chan struct{}

	// Observer, if set, receives the recorded length after each append
	Observer acquisition.Observer
}

// Run consumes ch until ctx is done or ch is closed
func (a *Accumulator) Run(ctx context.Context, ch <-chan acquisition.SampleBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-ch:
			if !ok {
				return
			}
			a.Append(b)
		}
	}
}

// Append adds one batch.  Batches from an epoch older than the last Clear
// are discarded, and it returns false for them
func (a *Accumulator) Append(b acquisition.SampleBatch) bool {
	a.mu.Lock()
	if b.Epoch < a.minEpoch {
		a.mu.Unlock()
		return false
	}
	a.samples = append(a.samples, b.Values...)
	a.batches++
	a.last = b.Segment
	if a.segments == nil {
		a.segments = map[uint64]int{}
	}
	a.segments[b.Segment] += len(b.Values)
	a.broadcast()
	n := len(a.samples)
	a.mu.Unlock()
	if a.Observer != nil {
		a.Observer.SetGauge(acquisition.MetricRecordedSamples, float64(n))
	}
	return true
}

// Len returns the number of recorded samples
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.samples)
}

// Batches returns the number of batches appended since the last Clear
func (a *Accumulator) Batches() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.batches
}

// LastSegment returns the segment of the most recent batch appended
func (a *Accumulator) LastSegment() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// Snapshot returns a copy of the recorded samples
func (a *Accumulator) Snapshot() []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]float64, len(a.samples))
	copy(out, a.samples)
	return out
}

// Clear drops the recorded samples.  Batches stamped with an epoch below
// epoch that are still queued will be discarded when they arrive
func (a *Accumulator) Clear(epoch uint64) {
	a.mu.Lock()
	a.samples = nil
	a.batches = 0
	a.segments = nil
	if epoch > a.minEpoch {
		a.minEpoch = epoch
	}
	a.broadcast()
	a.mu.Unlock()
	if a.Observer != nil {
		a.Observer.SetGauge(acquisition.MetricRecordedSamples, 0)
	}
}

// ErrCleared is returned by WaitSegment when the recording is cleared while waiting
var ErrCleared = errors.New("recording cleared")

// broadcast wakes WaitSegment callers.  a.mu must be held for writing
func (a *Accumulator) broadcast() {
	if a.changed != nil {
		close(a.changed)
		a.changed = nil
	}
}

// SegmentLen returns the number of samples appended for a segment since the last Clear
func (a *Accumulator) SegmentLen(segment uint64) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.segments[segment]
}

// WaitSegment blocks until at least n samples of segment have been appended
func (a *Accumulator) WaitSegment(ctx context.Context, segment uint64, n int) error {
	a.mu.Lock()
	epoch := a.minEpoch
	a.mu.Unlock()
	for {
		a.mu.Lock()
		if a.minEpoch != epoch {
			a.mu.Unlock()
			return ErrCleared
		}
		if a.segments[segment] >= n {
			a.mu.Unlock()
			return nil
		}
		if a.changed == nil {
			a.changed = make(chan struct{})
		}
		ch := a.changed
		a.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
