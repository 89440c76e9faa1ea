package acquisition

import (
	"fmt"
	"time"
)

// SampleBatch is the data produced by one poll.  Once sent it must not be
// modified by anyone, consumers copy what they keep
type SampleBatch struct {
	Values    []float64
	Available int
	Lost      int
	Corrupted int
	Timestamp time.Time

	// Seq counts polls that produced samples within one worker run, from 1
	Seq uint64

	// Segment is the capture segment the batch belongs to, zero outside a capture
	Segment uint64

	// Epoch is the recording epoch the batch was captured under
	Epoch uint64
}

// SegmentSummary describes one finished capture segment
type SegmentSummary struct {
	Segment   uint64        `json:"segment"`
	Start     time.Time     `json:"start"`
	Elapsed   time.Duration `json:"elapsed"`
	Samples   int           `json:"samples"`
	Lost      int           `json:"lost"`
	Corrupted int           `json:"corrupted"`
}

// EventKind is the kind of a control event
type EventKind int

const (
	// StateChanged carries a new DeviceState
	StateChanged EventKind = iota

	// CaptureStarted is sent at the first batch of a capture segment
	CaptureStarted

	// CaptureStopped carries the summary of a segment that ended
	CaptureStopped

	// DeviceOpened carries the metadata of the device that was opened
	DeviceOpened

	// DeviceClosed is sent after the worker closed its handle
	DeviceClosed

	// DevicesEnumerated carries the list of devices
	DevicesEnumerated

	// Errored is the terminal event of a failed worker run
	Errored

	// Connectivity reports a change of the connected flag
	Connectivity

	// CapturingChanged reports a change of the CapturingState
	CapturingChanged
)

var eventNames = [...]string{
	StateChanged:      "state",
	CaptureStarted:    "captureStarted",
	CaptureStopped:    "captureStopped",
	DeviceOpened:      "deviceOpened",
	DeviceClosed:      "deviceClosed",
	DevicesEnumerated: "devicesEnumerated",
	Errored:           "errored",
	Connectivity:      "connectivity",
	CapturingChanged:  "capturing",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// MarshalText renders the kind as its name
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a low frequency control message from the worker
type Event struct {
	Kind EventKind

	// Run identifies the worker run that sent the event
	Run uint64

	State   DeviceState
	Segment uint64
	Summary *SegmentSummary
	Device  *DeviceInfo
	Devices []DeviceDescriptor
	Err     string
	Time    time.Time
}
