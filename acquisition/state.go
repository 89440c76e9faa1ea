package acquisition

import "fmt"

// WaveForms analog in status codes
const (
	StatusReady   RawStatus = 0
	StatusArmed   RawStatus = 1
	StatusDone    RawStatus = 2
	StatusRunning RawStatus = 3 // also "triggered"
	StatusConfig  RawStatus = 4
	StatusPrefill RawStatus = 5
	StatusWait    RawStatus = 7
)

// StateKind enumerates the states a device can be in
type StateKind int

const (
	// Idle means the instrument is ready but not acquiring
	Idle StateKind = iota

	// ConfigPending means the instrument is applying a configuration
	ConfigPending

	// Prefilling means the instrument is filling its pre-trigger buffer
	Prefilling

	// Armed means the instrument waits for a trigger
	Armed

	// Running means samples are being acquired
	Running

	// Done means the acquisition completed
	Done

	// Disconnected means there is no open device
	Disconnected

	// StateErrored means the worker ended because of a failure
	StateErrored

	// Unknown is a status code with no mapping; the code is kept in DeviceState.Raw
	Unknown
)

var stateNames = map[StateKind]string{
	Idle:          "idle",
	ConfigPending: "config",
	Prefilling:    "prefill",
	Armed:         "armed",
	Running:       "running",
	Done:          "done",
	Disconnected:  "disconnected",
	StateErrored:  "errored",
	Unknown:       "unknown",
}

func (k StateKind) String() string {
	if s, ok := stateNames[k]; ok {
		return s
	}
	return fmt.Sprintf("StateKind(%d)", int(k))
}

// MarshalText renders the kind as its name
func (k StateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// DeviceState is the hardware status.  For Unknown, Raw holds the unmapped code
type DeviceState struct {
	Kind StateKind `json:"kind"`
	Raw  RawStatus `json:"raw"`
}

func (s DeviceState) String() string {
	if s.Kind == Unknown {
		return fmt.Sprintf("unknown(%d)", s.Raw)
	}
	return s.Kind.String()
}

// Arming returns true while the device is getting ready to acquire and no
// samples should be expected yet
func (s DeviceState) Arming() bool {
	switch s.Kind {
	case Idle, ConfigPending, Prefilling, Armed:
		return true
	}
	return false
}

// StateFromRaw maps a driver status code onto a DeviceState
func StateFromRaw(raw RawStatus) DeviceState {
	var k StateKind
	switch raw {
	case StatusReady:
		k = Idle
	case StatusConfig:
		k = ConfigPending
	case StatusPrefill:
		k = Prefilling
	case StatusArmed, StatusWait:
		k = Armed
	case StatusRunning:
		k = Running
	case StatusDone:
		k = Done
	default:
		k = Unknown
	}
	return DeviceState{Kind: k, Raw: raw}
}

// CapturingState is whether the application wants samples recorded
type CapturingState int

const (
	// Stopped is the terminal state, the recording is finalized
	Stopped CapturingState = iota

	// CaptureRunning means samples are appended to the recording
	CaptureRunning

	// Paused means capture is suspended and may be resumed without clearing
	Paused
)

func (c CapturingState) String() string {
	switch c {
	case Stopped:
		return "stopped"
	case CaptureRunning:
		return "running"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("CapturingState(%d)", int(c))
}

// MarshalText renders the state as its name
func (c CapturingState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
