// Package acquisition contains the poll loop that drives an Analog Discovery
// style oscilloscope, the channels that carry its data to consumers, and the
// types shared between the device driver and the rest of the program.
//
// The device driver is an external collaborator.  Anything which satisfies
// Driver can be polled by a Worker; package dwf provides the WaveForms runtime
// binding and a simulator.
package acquisition

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHandle is returned by a driver when it is asked to operate on
	// a handle that was never opened or has already been closed
	ErrInvalidHandle = errors.New("invalid or closed device handle")

	// ErrCaptureBackpressure is returned when the capture channel stays full
	// for longer than the configured timeout.  Durable data can no longer be
	// guaranteed, so it ends the run the same way a driver failure does
	ErrCaptureBackpressure = errors.New("capture channel full beyond timeout")
)

// Handle is an opaque reference to an open device session.  Zero is never a
// valid handle
type Handle int32

// Valid returns true if the handle may refer to an open device
func (h Handle) Valid() bool {
	return h != 0
}

// RawStatus is the acquisition status byte reported by the driver
type RawStatus byte

// DeviceDescriptor describes a device found during enumeration, before it is opened
type DeviceDescriptor struct {
	// Index is the enumeration index passed to Open
	Index int `json:"index"`

	// Name is the product name, e.g. "Analog Discovery 2"
	Name string `json:"name"`

	// SerialNumber is the serial with any "SN:" prefix removed
	SerialNumber string `json:"serialNumber"`

	// Type is "USB" for hardware or "Demo" for a simulator
	Type string `json:"type"`
}

// DeviceInfo is the metadata of an open device
type DeviceInfo struct {
	DeviceDescriptor

	// RuntimeVersion is the version of the vendor runtime
	RuntimeVersion string `json:"runtimeVersion"`

	// AnalogInChannels lists the analog input channel indices
	AnalogInChannels []int `json:"analogInChannels"`

	// AnalogInBufferSize is the maximum analog in buffer size in samples
	AnalogInBufferSize int `json:"analogInBufferSize"`

	// ADCBits is the vertical resolution of the analog in ADC
	ADCBits int `json:"adcBits"`
}

// Record is the result of one status poll
type Record struct {
	// Available is the number of samples the device reported as ready
	Available int

	// Lost is the number of samples dropped since the previous poll
	Lost int

	// Corrupted is the number of samples that may have been overwritten
	// during the previous read
	Corrupted int

	// Samples holds the samples read during this poll, len(Samples) <= Available
	Samples []float64
}

// Driver is the capability a device driver must expose.  All methods are
// synchronous.  Poll must return within a bounded time and is allowed to
// return a Record with no samples.
type Driver interface {
	// Enumerate lists the devices that can be opened
	Enumerate() ([]DeviceDescriptor, error)

	// Open opens the device at an enumeration index.  If it fails, nothing
	// is left open
	Open(index int) (Handle, error)

	// Close releases the device.  The handle is invalid afterwards
	Close(Handle) error

	// Configure prepares and starts a recording acquisition
	Configure(Handle, Config) error

	// Poll reads the acquisition status and any available samples
	Poll(Handle) (RawStatus, Record, error)

	// Info returns the metadata of an open device
	Info(Handle) (DeviceInfo, error)
}

// DriverError is a failure reported by the device driver.  It is fatal to
// the current worker run
type DriverError struct {
	// Op is the operation that failed, e.g. "open" or "poll"
	Op string

	// Msg is the vendor error message
	Msg string

	// Err is an underlying error, if there is one
	Err error
}

func (e *DriverError) Error() string {
	if e.Msg == "" && e.Err != nil {
		return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("driver %s: %s", e.Op, e.Msg)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// asDriverError wraps err as a *DriverError for op, unless it already is one
func asDriverError(op string, err error) error {
	var de *DriverError
	if errors.As(err, &de) {
		return err
	}
	return &DriverError{Op: op, Msg: err.Error(), Err: err}
}
