// Package acqtest provides a scripted acquisition.Driver for tests.
//
// Polls are answered from a queue of steps.  When the queue is empty the
// driver reports Idle (or the status set with SetIdle) with no samples, so a
// worker keeps polling until more steps are pushed.
package acqtest

import (
	"errors"
	"sync"

	"github.com/nasa-jpl/adscope/acquisition"
)

// Step is the answer to one poll
type Step struct {
	Status acquisition.RawStatus
	Record acquisition.Record
	Err    error

	// Before, if not nil, is called on the polling goroutine before the step is returned
	Before func()
}

// Batch is a step that reports the device running with values available
func Batch(values []float64) Step {
	return Step{
		Status: acquisition.StatusRunning,
		Record: acquisition.Record{Available: len(values), Samples: values},
	}
}

// Ramp returns n values start, start+1, ...
func Ramp(start, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(start + i)
	}
	return out
}

// Driver is a scripted acquisition.Driver.  It is safe for concurrent use
type Driver struct {
	// Devices is returned by Enumerate
	Devices []acquisition.DeviceDescriptor

	// OpenErr and ConfigureErr, when set, make Open and Configure fail
	OpenErr      error
	ConfigureErr error

	mu      sync.Mutex
	steps   []Step
	idle    acquisition.RawStatus
	next    acquisition.Handle
	open    map[acquisition.Handle]bool
	closed  int
	polls   int
	configs []acquisition.Config
	drained *sync.Cond
}

// New returns a driver with one demo device and the given steps queued
func New(steps ...Step) *Driver {
	d := &Driver{
		Devices: []acquisition.DeviceDescriptor{{Index: 0, Name: "Scripted Discovery", SerialNumber: "000000000001", Type: "Demo"}},
		steps:   steps,
		idle:    acquisition.StatusReady,
		open:    map[acquisition.Handle]bool{},
	}
	d.drained = sync.NewCond(&d.mu)
	return d
}

// Push queues more steps
func (d *Driver) Push(steps ...Step) {
	d.mu.Lock()
	d.steps = append(d.steps, steps...)
	d.mu.Unlock()
}

// SetIdle sets the status reported while the queue is empty
func (d *Driver) SetIdle(s acquisition.RawStatus) {
	d.mu.Lock()
	d.idle = s
	d.mu.Unlock()
}

// WaitDrained blocks until every queued step has been returned by Poll
func (d *Driver) WaitDrained() {
	d.mu.Lock()
	for len(d.steps) > 0 {
		d.drained.Wait()
	}
	d.mu.Unlock()
}

// OpenHandles returns the number of handles not yet closed
func (d *Driver) OpenHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.open)
}

// Closed returns the number of successful Close calls
func (d *Driver) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Configs returns every configuration passed to Configure
func (d *Driver) Configs() []acquisition.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]acquisition.Config(nil), d.configs...)
}

// Enumerate implements acquisition.Driver
func (d *Driver) Enumerate() ([]acquisition.DeviceDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]acquisition.DeviceDescriptor(nil), d.Devices...), nil
}

// Open implements acquisition.Driver
func (d *Driver) Open(index int) (acquisition.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return 0, d.OpenErr
	}
	if index < 0 || index >= len(d.Devices) {
		return 0, &acquisition.DriverError{Op: "open", Msg: "device index out of range"}
	}
	d.next++
	d.open[d.next] = true
	return d.next, nil
}

// Close implements acquisition.Driver
func (d *Driver) Close(h acquisition.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open[h] {
		return acquisition.ErrInvalidHandle
	}
	delete(d.open, h)
	d.closed++
	return nil
}

// Configure implements acquisition.Driver
func (d *Driver) Configure(h acquisition.Handle, c acquisition.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open[h] {
		return acquisition.ErrInvalidHandle
	}
	if d.ConfigureErr != nil {
		return d.ConfigureErr
	}
	d.configs = append(d.configs, c)
	return nil
}

// Info implements acquisition.Driver
func (d *Driver) Info(h acquisition.Handle) (acquisition.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open[h] {
		return acquisition.DeviceInfo{}, acquisition.ErrInvalidHandle
	}
	return acquisition.DeviceInfo{
		DeviceDescriptor:   d.Devices[0],
		RuntimeVersion:     "scripted",
		AnalogInChannels:   []int{0, 1},
		AnalogInBufferSize: 8192,
		ADCBits:            14,
	}, nil
}

// Poll implements acquisition.Driver
func (d *Driver) Poll(h acquisition.Handle) (acquisition.RawStatus, acquisition.Record, error) {
	d.mu.Lock()
	if !d.open[h] {
		d.mu.Unlock()
		return 0, acquisition.Record{}, acquisition.ErrInvalidHandle
	}
	d.polls++
	if len(d.steps) == 0 {
		s := d.idle
		d.mu.Unlock()
		return s, acquisition.Record{}, nil
	}
	step := d.steps[0]
	d.steps = d.steps[1:]
	if len(d.steps) == 0 {
		d.drained.Broadcast()
	}
	d.mu.Unlock()

	if step.Before != nil {
		step.Before()
	}
	if step.Err != nil {
		return 0, acquisition.Record{}, step.Err
	}
	return step.Status, step.Record, nil
}

// ErrScripted is a generic failure for scripts
var ErrScripted = errors.New("scripted device failure")
