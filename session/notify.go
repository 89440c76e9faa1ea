package session

import (
	"sync"
	"time"

	"github.com/nasa-jpl/adscope/acquisition"
)

// subscriberBuffer is the number of notifications a subscriber may fall behind
// before it starts missing them
const subscriberBuffer = 64

// Notification is a snapshot of the session pushed to subscribers.  It shares
// no memory with the controller
type Notification struct {
	Kind       acquisition.EventKind          `json:"kind"`
	State      acquisition.DeviceState        `json:"state"`
	Capturing  acquisition.CapturingState     `json:"capturing"`
	Connected  bool                           `json:"connected"`
	Device     *acquisition.DeviceInfo        `json:"device,omitempty"`
	Devices    []acquisition.DeviceDescriptor `json:"devices,omitempty"`
	Segment    uint64                         `json:"segment,omitempty"`
	Summary    *acquisition.SegmentSummary    `json:"summary,omitempty"`
	Err        string                         `json:"err,omitempty"`
	Accounting acquisition.Totals             `json:"accounting"`
	Time       time.Time                      `json:"time"`
}

// feed fans notifications out to subscribers without blocking the sender
type feed struct {
	mu      sync.Mutex
	next    int
	subs    map[int]chan Notification
	dropped uint64
	closed  bool
}

func (f *feed) subscribe() (<-chan Notification, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Notification, subscriberBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	if f.subs == nil {
		f.subs = map[int]chan Notification{}
	}
	id := f.next
	f.next++
	f.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

func (f *feed) publish(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- n:
		default:
			f.dropped++
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}
