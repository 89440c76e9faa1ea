// Package preview keeps the rolling window of recent samples shown by live views.
package preview

// Ring is a fixed capacity ring buffer of float64 values.  When full, the
// oldest value is overwritten.  It is not concurrent safe
type Ring struct {
	buf    []float64
	cursor int
	filled bool
}

// NewRing returns an empty ring holding at most size values
func NewRing(size int) *Ring {
	r := &Ring{}
	r.Init(size)
	return r
}

// Init allocates a new empty buffer.  It may be called multiple times
func (r *Ring) Init(size int) {
	if size < 1 {
		size = 1
	}
	r.buf = make([]float64, size)
	r.cursor = 0
	r.filled = false
}

// Append adds a value to the buffer
func (r *Ring) Append(f float64) {
	r.buf[r.cursor] = f
	r.cursor++
	if r.cursor == len(r.buf) {
		r.cursor = 0
		r.filled = true
	}
}

// AppendSlice adds values in order
func (r *Ring) AppendSlice(fs []float64) {
	// only the last len(buf) values can survive
	if len(fs) > len(r.buf) {
		fs = fs[len(fs)-len(r.buf):]
	}
	for _, f := range fs {
		r.Append(f)
	}
}

// Cap returns the capacity
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Len returns the number of values held
func (r *Ring) Len() int {
	if r.filled {
		return len(r.buf)
	}
	return r.cursor
}

// Contiguous returns a new slice of the values from least to most recent
func (r *Ring) Contiguous() []float64 {
	out := make([]float64, 0, r.Len())
	if r.filled {
		out = append(out, r.buf[r.cursor:]...)
	}
	return append(out, r.buf[:r.cursor]...)
}

// Resized returns a new ring of capacity size holding the newest
// min(Len(), size) values of r
func (r *Ring) Resized(size int) *Ring {
	out := NewRing(size)
	out.AppendSlice(r.Contiguous())
	return out
}
