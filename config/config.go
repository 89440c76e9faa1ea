// Package config loads the adscope settings.
//
// Settings are layered: compiled in defaults, then the YAML file, then
// environment variables prefixed with ADSCOPE_.  Nested keys use a double
// underscore in the environment, e.g. ADSCOPE_AUTOWRITE__FORMAT=fits.
// Environment keys are not case sensitive; file keys are spelled as mkconf
// writes them.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/adscope/acquisition"
	"github.com/nasa-jpl/adscope/session"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "ADSCOPE_"

// AutoWrite configures saving of finished recordings
type AutoWrite struct {
	// Enabled turns the writer on
	Enabled bool `koanf:"Enabled" yaml:"Enabled"`

	// Root is the folder dated subfolders are created in
	Root string `koanf:"Root" yaml:"Root"`

	// Prefix is the filename prefix
	Prefix string `koanf:"Prefix" yaml:"Prefix"`

	// Format is one of csv, fits, parquet
	Format string `koanf:"Format" yaml:"Format"`
}

// Stimulus configures the analog out sine started on connect
type Stimulus struct {
	Enabled   bool    `koanf:"Enabled" yaml:"Enabled"`
	Channel   int     `koanf:"Channel" yaml:"Channel"`
	Frequency float64 `koanf:"Frequency" yaml:"Frequency"`
	Amplitude float64 `koanf:"Amplitude" yaml:"Amplitude"`
}

// Config holds every setting of the server
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock uses the simulator instead of the WaveForms runtime
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// ShowSimulators lists demo devices alongside hardware
	ShowSimulators bool `koanf:"ShowSimulators" yaml:"ShowSimulators"`

	// Connect opens DeviceIndex at startup
	Connect     bool `koanf:"Connect" yaml:"Connect"`
	DeviceIndex int  `koanf:"DeviceIndex" yaml:"DeviceIndex"`

	SampleRate float64 `koanf:"SampleRate" yaml:"SampleRate"`
	Channel    int     `koanf:"Channel" yaml:"Channel"`
	Range      float64 `koanf:"Range" yaml:"Range"`

	// StreamingHistory is the preview window in samples.  When zero it is
	// computed from StreamingHistoryDuration
	StreamingHistory         int           `koanf:"StreamingHistory" yaml:"StreamingHistory"`
	StreamingHistoryDuration time.Duration `koanf:"StreamingHistoryDuration" yaml:"StreamingHistoryDuration"`

	// PreviewEvery keeps one of every n samples for the preview.  When zero
	// it is derived from StreamingRate
	PreviewEvery  int     `koanf:"PreviewEvery" yaml:"PreviewEvery"`
	StreamingRate float64 `koanf:"StreamingRate" yaml:"StreamingRate"`

	// PreviewFPS limits the frames per second of the preview stream
	PreviewFPS float64 `koanf:"PreviewFPS" yaml:"PreviewFPS"`

	CaptureQueueLen int           `koanf:"CaptureQueueLen" yaml:"CaptureQueueLen"`
	PreviewQueueLen int           `koanf:"PreviewQueueLen" yaml:"PreviewQueueLen"`
	CaptureTimeout  time.Duration `koanf:"CaptureTimeout" yaml:"CaptureTimeout"`
	IdleSleep       time.Duration `koanf:"IdleSleep" yaml:"IdleSleep"`
	MaxBatch        int           `koanf:"MaxBatch" yaml:"MaxBatch"`

	// ResetOnStop makes a stop final instead of a pause
	ResetOnStop bool `koanf:"ResetOnStop" yaml:"ResetOnStop"`

	AutoWrite AutoWrite `koanf:"AutoWrite" yaml:"AutoWrite"`
	Stimulus  Stimulus  `koanf:"Stimulus" yaml:"Stimulus"`
}

// Defaults returns the compiled in settings
func Defaults() Config {
	return Config{
		Addr:                     ":8000",
		SampleRate:               500,
		Range:                    acquisition.DefaultRange,
		StreamingHistoryDuration: 2 * time.Second,
		StreamingRate:            500,
		PreviewFPS:               20,
		CaptureQueueLen:          acquisition.DefaultCaptureQueueLen,
		PreviewQueueLen:          acquisition.DefaultPreviewQueueLen,
		CaptureTimeout:           acquisition.DefaultCaptureTimeout,
		IdleSleep:                acquisition.DefaultIdleSleep,
		ResetOnStop:              true,
		AutoWrite: AutoWrite{
			Root:   "recordings",
			Prefix: "ad2",
			Format: "csv",
		},
		Stimulus: Stimulus{
			Frequency: 0.1,
			Amplitude: 1,
		},
	}
}

// Load layers the defaults, the YAML file at path, and the environment.
// A missing file is not an error.  The koanf instance is returned so
// callers can inspect where a key came from
func Load(path string) (*koanf.Koanf, Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, Config{}, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, Config{}, fmt.Errorf("error loading config %s: %w", path, err)
			}
		}
	}
	// env keys are matched against the known keys without regard to case
	known := map[string]string{}
	for _, key := range k.Keys() {
		known[strings.ToLower(key)] = key
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(strings.ReplaceAll(s, "__", "."))
		return known[s]
	}), nil)
	if err != nil {
		return nil, Config{}, err
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, Config{}, err
	}
	return k, c, nil
}

// Write encodes c as YAML
func Write(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}

// WriteFile writes c to a new YAML file at path
func WriteFile(path string, c Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Write(f, c)
}

// ResolvedPreviewEvery is the preview decimation.  An explicit PreviewEvery
// wins; otherwise it is SampleRate / StreamingRate, at least 1
func (c Config) ResolvedPreviewEvery() int {
	if c.PreviewEvery > 0 {
		return c.PreviewEvery
	}
	if c.StreamingRate > 0 && c.StreamingRate < c.SampleRate {
		return int(math.Round(c.SampleRate / c.StreamingRate))
	}
	return 1
}

// ResolvedStreamingHistory is the preview window in samples.  A duration is
// converted at the preview rate, SampleRate / ResolvedPreviewEvery
func (c Config) ResolvedStreamingHistory() int {
	if c.StreamingHistory > 0 {
		return c.StreamingHistory
	}
	rate := c.SampleRate / float64(c.ResolvedPreviewEvery())
	return int(math.Ceil(c.StreamingHistoryDuration.Seconds() * rate))
}

// Acquisition returns the acquisition configuration
func (c Config) Acquisition() (acquisition.Config, error) {
	a := acquisition.Config{
		SampleRate:       c.SampleRate,
		Channel:          c.Channel,
		StreamingHistory: c.ResolvedStreamingHistory(),
		Range:            c.Range,
		Stimulus: acquisition.Stimulus{
			Enabled:   c.Stimulus.Enabled,
			Channel:   c.Stimulus.Channel,
			Frequency: c.Stimulus.Frequency,
			Amplitude: c.Stimulus.Amplitude,
		},
	}
	return a, a.Validate()
}

// Validate checks the settings that are not part of the acquisition config
func (c Config) Validate() error {
	if _, err := c.Acquisition(); err != nil {
		return err
	}
	switch strings.ToLower(c.AutoWrite.Format) {
	case "csv", "fits", "parquet":
	default:
		return fmt.Errorf("unknown AutoWrite.Format %q, expected csv, fits, or parquet", c.AutoWrite.Format)
	}
	if c.PreviewFPS < 0 {
		return fmt.Errorf("PreviewFPS must be non-negative, got %v", c.PreviewFPS)
	}
	if c.DeviceIndex < 0 {
		return fmt.Errorf("DeviceIndex must be non-negative, got %d", c.DeviceIndex)
	}
	return nil
}

// SessionOptions returns the controller options for these settings.  The
// driver, observer, writer, and logger are left for the caller
func (c Config) SessionOptions() (session.Options, error) {
	if err := c.Validate(); err != nil {
		return session.Options{}, err
	}
	a, _ := c.Acquisition()
	return session.Options{
		Config:          a,
		ShowSimulators:  c.ShowSimulators || c.Mock,
		ResetOnStop:     c.ResetOnStop,
		CaptureQueueLen: c.CaptureQueueLen,
		PreviewQueueLen: c.PreviewQueueLen,
		IdleSleep:       c.IdleSleep,
		CaptureTimeout:  c.CaptureTimeout,
		MaxBatch:        c.MaxBatch,
		PreviewEvery:    c.ResolvedPreviewEvery(),
	}, nil
}
