package dwf

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nasa-jpl/adscope/acquisition"
)

// SimOptions tunes a simulated device
type SimOptions struct {
	// Devices is the number of demo devices, default 1
	Devices int

	// ArmingPolls is the number of polls spent in each of the config,
	// prefill, and armed states after Configure, default 1
	ArmingPolls int

	// Frequency and Amplitude describe the test signal on every analog in
	// channel when no stimulus is configured.  Defaults 1 Hz and 1 V
	Frequency float64
	Amplitude float64

	// every LostEvery-th running poll reports LostCount lost samples, 0 disables
	LostEvery int
	LostCount int

	// every CorruptEvery-th running poll reports CorruptCount corrupted samples
	CorruptEvery int
	CorruptCount int

	// FailAfter makes every poll after the FailAfter-th fail, 0 never
	FailAfter int

	// Now is the clock, time.Now if nil
	Now func() time.Time
}

// Sim is a simulated Analog Discovery.  It is safe for concurrent use
type Sim struct {
	opts SimOptions

	mu      sync.Mutex
	next    acquisition.Handle
	handles map[acquisition.Handle]*simDevice
}

type simDevice struct {
	index      int
	cfg        acquisition.Config
	configured bool
	polls      int // polls since Configure
	running    int // polls while running
	sample     uint64
	last       time.Time
}

// NewSim returns a simulator with opts applied over the defaults
func NewSim(opts SimOptions) *Sim {
	if opts.Devices <= 0 {
		opts.Devices = 1
	}
	if opts.ArmingPolls <= 0 {
		opts.ArmingPolls = 1
	}
	if opts.Frequency == 0 {
		opts.Frequency = 1
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sim{opts: opts, handles: map[acquisition.Handle]*simDevice{}}
}

func (s *Sim) descriptor(i int) acquisition.DeviceDescriptor {
	return acquisition.DeviceDescriptor{
		Index:        i,
		Name:         "Analog Discovery 2",
		SerialNumber: fmt.Sprintf("DEMO%08d", i+1),
		Type:         TypeDemo,
	}
}

// Enumerate implements acquisition.Driver
func (s *Sim) Enumerate() ([]acquisition.DeviceDescriptor, error) {
	out := make([]acquisition.DeviceDescriptor, s.opts.Devices)
	for i := range out {
		out[i] = s.descriptor(i)
	}
	return out, nil
}

// Open implements acquisition.Driver.  A device may only be open once
func (s *Sim) Open(index int) (acquisition.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= s.opts.Devices {
		return 0, &acquisition.DriverError{Op: "open", Msg: fmt.Sprintf("no device at index %d", index)}
	}
	for _, d := range s.handles {
		if d.index == index {
			return 0, &acquisition.DriverError{Op: "open", Msg: "device is busy"}
		}
	}
	s.next++
	s.handles[s.next] = &simDevice{index: index}
	return s.next, nil
}

// Close implements acquisition.Driver
func (s *Sim) Close(h acquisition.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[h]; !ok {
		return acquisition.ErrInvalidHandle
	}
	delete(s.handles, h)
	return nil
}

// Configure implements acquisition.Driver.  The arming sequence restarts
func (s *Sim) Configure(h acquisition.Handle, c acquisition.Config) error {
	if err := c.Validate(); err != nil {
		return &acquisition.DriverError{Op: "configure", Msg: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.handles[h]
	if !ok {
		return acquisition.ErrInvalidHandle
	}
	if c.Channel > 1 {
		return &acquisition.DriverError{Op: "configure", Msg: fmt.Sprintf("analog in channel %d does not exist", c.Channel)}
	}
	d.cfg = c
	d.configured = true
	d.polls = 0
	d.running = 0
	return nil
}

// Poll implements acquisition.Driver
func (s *Sim) Poll(h acquisition.Handle) (acquisition.RawStatus, acquisition.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.handles[h]
	if !ok {
		return 0, acquisition.Record{}, acquisition.ErrInvalidHandle
	}
	if !d.configured {
		return acquisition.StatusReady, acquisition.Record{}, nil
	}
	d.polls++
	if s.opts.FailAfter > 0 && d.polls > s.opts.FailAfter {
		return 0, acquisition.Record{}, &acquisition.DriverError{Op: "poll", Msg: "device communication failed"}
	}
	switch arm := s.opts.ArmingPolls; {
	case d.polls <= arm:
		return acquisition.StatusConfig, acquisition.Record{}, nil
	case d.polls <= 2*arm:
		return acquisition.StatusPrefill, acquisition.Record{}, nil
	case d.polls <= 3*arm:
		d.last = s.opts.Now()
		return acquisition.StatusArmed, acquisition.Record{}, nil
	}

	now := s.opts.Now()
	n := int(now.Sub(d.last).Seconds() * d.cfg.SampleRate)
	if n <= 0 {
		return acquisition.StatusRunning, acquisition.Record{}, nil
	}
	// advance the clock by whole samples so fractional periods carry over
	d.last = d.last.Add(time.Duration(float64(n) / d.cfg.SampleRate * float64(time.Second)))
	d.running++

	var rec acquisition.Record
	if n > AD2BufferSize {
		rec.Lost = n - AD2BufferSize
		d.sample += uint64(rec.Lost)
		n = AD2BufferSize
	}
	if s.opts.LostEvery > 0 && d.running%s.opts.LostEvery == 0 {
		rec.Lost += s.opts.LostCount
		d.sample += uint64(s.opts.LostCount)
	}
	if s.opts.CorruptEvery > 0 && d.running%s.opts.CorruptEvery == 0 {
		rec.Corrupted = s.opts.CorruptCount
	}
	rec.Samples = make([]float64, n)
	for i := range rec.Samples {
		rec.Samples[i] = s.value(d, d.sample)
		d.sample++
	}
	rec.Available = n
	return acquisition.StatusRunning, rec, nil
}

// value is the signal at sample k, clipped to the input range
func (s *Sim) value(d *simDevice, k uint64) float64 {
	f, a := s.opts.Frequency, s.opts.Amplitude
	if st := d.cfg.Stimulus; st.Enabled {
		f, a = st.Frequency, st.Amplitude
	}
	t := float64(k) / d.cfg.SampleRate
	v := a * math.Sin(2*math.Pi*f*t)
	lim := d.cfg.RangeOrDefault() / 2
	return math.Max(-lim, math.Min(lim, v))
}

// Info implements acquisition.Driver
func (s *Sim) Info(h acquisition.Handle) (acquisition.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.handles[h]
	if !ok {
		return acquisition.DeviceInfo{}, acquisition.ErrInvalidHandle
	}
	return acquisition.DeviceInfo{
		DeviceDescriptor:   s.descriptor(d.index),
		RuntimeVersion:     "simulator",
		AnalogInChannels:   []int{0, 1},
		AnalogInBufferSize: AD2BufferSize,
		ADCBits:            AD2Bits,
	}, nil
}
