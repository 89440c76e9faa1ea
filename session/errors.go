package session

import (
	"errors"
	"fmt"

	"github.com/nasa-jpl/adscope/acquisition"
)

var (
	// ErrInvalidTransition is wrapped by every TransitionError
	ErrInvalidTransition = errors.New("invalid capture state transition")

	// ErrReconfigurationConflict is returned when reconfiguring or
	// disconnecting while a capture is running
	ErrReconfigurationConflict = errors.New("capture is running, stop it first")

	// ErrNotConnected is returned by commands that need an open device
	ErrNotConnected = errors.New("no device connected")

	// ErrAlreadyConnected is returned by OpenDevice when a device is open
	ErrAlreadyConnected = errors.New("a device is already connected")

	// ErrInvalidConfig wraps acquisition config validation failures
	ErrInvalidConfig = errors.New("invalid acquisition config")
)

// TransitionError is returned when a command is not allowed in the current
// capturing state.  The state is left unchanged
type TransitionError struct {
	Op   string
	From acquisition.CapturingState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s is not allowed while capture is %s", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
