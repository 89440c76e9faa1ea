// Package dwf provides acquisition.Driver implementations for Digilent
// Analog Discovery devices.
//
// Native binds the WaveForms runtime (libdwf) and is only built with the dwf
// build tag, since it requires cgo and the vendor SDK:
//
//	go build -tags dwf ./...
//
// Sim is a pure Go simulator of one or more demo devices that behaves like the
// hardware as seen through the poll loop: it walks the arming states after
// Configure, produces samples at the configured rate, and can be told to lose
// or corrupt samples or fail outright.
package dwf

import (
	"errors"
	"strings"
)

// ErrNoRuntime is returned by NewNative when the program was built without
// the WaveForms runtime
var ErrNoRuntime = errors.New("built without the WaveForms runtime, rebuild with -tags dwf")

const (
	// TypeUSB is the descriptor type of hardware devices
	TypeUSB = "USB"

	// TypeDemo is the descriptor type of simulated devices
	TypeDemo = "Demo"

	// AD2BufferSize is the analog in buffer of an Analog Discovery 2, in samples
	AD2BufferSize = 8192

	// AD2Bits is the ADC resolution of an Analog Discovery 2
	AD2Bits = 14
)

// CleanSerial strips the "SN:" prefix the runtime puts on serial numbers
func CleanSerial(sn string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(sn), "SN:"))
}

// DeviceType classifies a device by its serial number.  The runtime reports
// demo devices with a serial beginning with DEMO
func DeviceType(serial string) string {
	if strings.HasPrefix(strings.ToUpper(CleanSerial(serial)), "DEMO") {
		return TypeDemo
	}
	return TypeUSB
}
