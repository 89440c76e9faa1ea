package acquisition

import (
	"errors"
	"fmt"
	"math"
)

// DefaultRange is the analog in range used when Config.Range is zero, in volts peak to peak
const DefaultRange = 5.

// Config is the acquisition configuration of one worker run.  It is copied
// into the worker and never mutated while the worker runs
type Config struct {
	// SampleRate is the acquisition frequency in Hz
	SampleRate float64 `json:"sampleRate"`

	// Channel is the analog in channel index
	Channel int `json:"channel"`

	// StreamingHistory is the capacity of the preview window in samples
	StreamingHistory int `json:"streamingHistory"`

	// Range is the analog in range in volts peak to peak
	Range float64 `json:"range"`

	// Stimulus is an optional sine on an analog out channel, started during Configure
	Stimulus Stimulus `json:"stimulus"`
}

// Stimulus configures the analog out sine generator
type Stimulus struct {
	Enabled   bool    `json:"enabled"`
	Channel   int     `json:"channel"`
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
}

// Validate returns an error describing the first invalid field, if any
func (c Config) Validate() error {
	if !(c.SampleRate > 0) || math.IsInf(c.SampleRate, 1) {
		return fmt.Errorf("sample rate must be positive and finite, got %v", c.SampleRate)
	}
	if c.Channel < 0 {
		return fmt.Errorf("channel must be non-negative, got %d", c.Channel)
	}
	if c.StreamingHistory <= 0 {
		return fmt.Errorf("streaming history must be positive, got %d", c.StreamingHistory)
	}
	if c.Range < 0 || math.IsInf(c.Range, 1) {
		return fmt.Errorf("range must be non-negative and finite, got %v", c.Range)
	}
	if c.Stimulus.Enabled {
		if c.Stimulus.Channel < 0 {
			return errors.New("stimulus channel must be non-negative")
		}
		if !(c.Stimulus.Frequency > 0) || math.IsInf(c.Stimulus.Frequency, 1) {
			return fmt.Errorf("stimulus frequency must be positive and finite, got %v", c.Stimulus.Frequency)
		}
	}
	return nil
}

// RangeOrDefault returns Range, or DefaultRange when it is unset
func (c Config) RangeOrDefault() float64 {
	if c.Range == 0 {
		return DefaultRange
	}
	return c.Range
}
