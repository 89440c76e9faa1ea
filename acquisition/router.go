package acquisition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// default channel capacities
const (
	DefaultCaptureQueueLen = 256
	DefaultPreviewQueueLen = 16
)

// Router connects one worker to its consumers.  The capture channel applies
// backpressure, the preview channel drops its oldest batch when full, and
// events go through an unbounded queue.
//
// A Router outlives worker runs; workers never close its channels
type Router struct {
	capture chan SampleBatch
	preview chan SampleBatch
	events  *mailbox

	previewDropped atomic.Uint64
}

// NewRouter returns a Router with the given channel capacities.  Capacities
// below one are replaced with the defaults
func NewRouter(captureLen, previewLen int) *Router {
	if captureLen < 1 {
		captureLen = DefaultCaptureQueueLen
	}
	if previewLen < 1 {
		previewLen = DefaultPreviewQueueLen
	}
	return &Router{
		capture: make(chan SampleBatch, captureLen),
		preview: make(chan SampleBatch, previewLen),
		events:  newMailbox(),
	}
}

// Capture is the channel of durable batches
func (r *Router) Capture() <-chan SampleBatch { return r.capture }

// Preview is the channel of best effort batches
func (r *Router) Preview() <-chan SampleBatch { return r.preview }

// Events is the channel of control events.  It is closed by Close
func (r *Router) Events() <-chan Event { return r.events.out }

// CaptureQueued returns the number of batches waiting in the capture channel
func (r *Router) CaptureQueued() int { return len(r.capture) }

// PreviewDropped returns the number of preview batches discarded so far
func (r *Router) PreviewDropped() uint64 { return r.previewDropped.Load() }

// SendCapture blocks until b is accepted.  If the channel stays full for
// longer than timeout, ErrCaptureBackpressure is returned.  A timeout <= 0
// blocks until ctx is done
func (r *Router) SendCapture(ctx context.Context, b SampleBatch, timeout time.Duration) error {
	select {
	case r.capture <- b:
		return nil
	default:
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case r.capture <- b:
		return nil
	case <-expired:
		return ErrCaptureBackpressure
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendPreview never blocks.  When the channel is full the oldest queued
// batch is discarded to make room.  It returns the number of batches dropped
func (r *Router) SendPreview(b SampleBatch) int {
	dropped := 0
	for {
		select {
		case r.preview <- b:
			if dropped > 0 {
				r.previewDropped.Add(uint64(dropped))
			}
			return dropped
		default:
		}
		select {
		case <-r.preview:
			dropped++
		default:
		}
	}
}

// Emit queues a control event.  It never blocks
func (r *Router) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.events.push(e)
}

// Close stops event delivery and closes the Events channel
func (r *Router) Close() {
	r.events.close()
}

// mailbox is an unbounded FIFO with a channel on its read side
type mailbox struct {
	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	done   chan struct{}
	out    chan Event
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan Event),
	}
	go m.pump()
	return m
}

func (m *mailbox) push(e Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, e)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

func (m *mailbox) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.done:
				return
			}
		}
		e := m.queue[0]
		m.queue[0] = Event{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- e:
		case <-m.done:
			return
		}
	}
}
