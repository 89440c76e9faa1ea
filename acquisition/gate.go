package acquisition

import "sync"

// Gate is the capture flag shared by the session controller and the worker.
// Each Open begins a new segment.  Advancing the epoch marks everything
// captured before as stale
type Gate struct {
	mu      sync.Mutex
	open    bool
	segment uint64
	epoch   uint64
}

// GateState is a consistent read of a Gate
type GateState struct {
	Open    bool
	Segment uint64
	Epoch   uint64
}

// Open starts a new segment and returns the state after opening.  When
// clear is not nil the epoch is advanced first, see Reset
func (g *Gate) Open(clear func(epoch uint64)) GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if clear != nil {
		g.advance(clear)
	}
	g.segment++
	g.open = true
	return GateState{Open: true, Segment: g.segment, Epoch: g.epoch}
}

// Close stops capture delivery
func (g *Gate) Close() {
	g.mu.Lock()
	g.open = false
	g.mu.Unlock()
}

// Reset advances the epoch without changing the open state.  clear is called
// with the new epoch while the gate is locked, so no batch carries the new
// epoch before clear returns.  clear must not call back into the Gate
func (g *Gate) Reset(clear func(epoch uint64)) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance(clear)
	return g.epoch
}

func (g *Gate) advance(clear func(uint64)) {
	next := g.epoch + 1
	if clear != nil {
		clear(next)
	}
	g.epoch = next
}

// Load returns the current state
func (g *Gate) Load() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateState{Open: g.open, Segment: g.segment, Epoch: g.epoch}
}
