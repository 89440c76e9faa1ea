package acquisition

import "sync/atomic"

// Accounting holds the cumulative lost and corrupted sample counts of a
// connected session.  Only the worker adds to it; anyone may read it
type Accounting struct {
	lost      atomic.Uint64
	corrupted atomic.Uint64
}

// Totals is a point in time copy of Accounting
type Totals struct {
	Lost      uint64 `json:"lost"`
	Corrupted uint64 `json:"corrupted"`
}

// Add accumulates counts from one poll.  Negative values are ignored so the
// totals never decrease
func (a *Accounting) Add(lost, corrupted int) {
	if lost > 0 {
		a.lost.Add(uint64(lost))
	}
	if corrupted > 0 {
		a.corrupted.Add(uint64(corrupted))
	}
}

// Snapshot returns the current totals
func (a *Accounting) Snapshot() Totals {
	return Totals{Lost: a.lost.Load(), Corrupted: a.corrupted.Load()}
}
