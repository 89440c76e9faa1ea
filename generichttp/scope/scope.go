// Package scope provides a generic HTTP interface to a streaming oscilloscope
// session: device selection, capture control, the preview window, and export
// of the recording.
package scope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"go/types"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nasa-jpl/adscope/acquisition"
	"github.com/nasa-jpl/adscope/generichttp"
	"github.com/nasa-jpl/adscope/imgrec"
	"github.com/nasa-jpl/adscope/oscilloscope"
	"github.com/nasa-jpl/adscope/server"
	"github.com/nasa-jpl/adscope/session"
)

// Connector selects and opens devices
type Connector interface {
	// Devices enumerates the attached devices
	Devices() ([]acquisition.DeviceDescriptor, error)

	// OpenDevice connects to the device at an enumeration index
	OpenDevice(int) error

	// CloseDevice disconnects the open device
	CloseDevice() error

	// Device returns the metadata of the open device
	Device() (acquisition.DeviceInfo, error)

	Connected() bool
	DeviceState() acquisition.DeviceState
	LastError() string
}

// Capturer controls the capture state machine and exposes the recording
type Capturer interface {
	StartCapture(clear bool) error
	StopCapture() error
	ResetCapture()
	State() acquisition.CapturingState
	Finished() bool
	RecordedLen() int
	Recording() oscilloscope.Recording
	Summaries() []acquisition.SegmentSummary
	MeasurementTime() time.Duration
	SetResetOnStop(bool)
	ResetOnStop() bool
}

// Previewer exposes the rolling preview window
type Previewer interface {
	Preview() []float64
	PreviewDropped() uint64
}

// Configurer reads and replaces the acquisition configuration
type Configurer interface {
	Config() acquisition.Config
	Reconfigure(acquisition.Config) error
}

// Notifier publishes session notifications
type Notifier interface {
	Subscribe() (<-chan session.Notification, func())
}

// Scope is everything a session offers over HTTP.  *session.Controller
// satisfies it
type Scope interface {
	Connector
	Capturer
	Previewer
	Configurer
	Notifier
	Accounting() acquisition.Totals
}

// statusError attaches an HTTP status to an error
type statusError struct {
	error
	code int
}

func (e statusError) StatusCode() int { return e.code }

func (e statusError) Unwrap() error { return e.error }

// classify maps session errors to HTTP status codes
func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *acquisition.DriverError
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrReconfigurationConflict),
		errors.Is(err, session.ErrAlreadyConnected):
		code = http.StatusConflict
	case errors.Is(err, session.ErrNotConnected):
		code = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrInvalidConfig):
		code = http.StatusBadRequest
	case errors.Is(err, oscilloscope.ErrEmpty):
		code = http.StatusNotFound
	case errors.As(err, &de):
		code = http.StatusBadGateway
	}
	return statusError{err, code}
}

// contentTypes of the export formats
var contentTypes = map[string]string{
	"csv":     "text/csv",
	"fits":    "image/fits",
	"parquet": "application/vnd.apache.parquet",
}

// Status is a summary of the session
type Status struct {
	Connected   bool                       `json:"connected"`
	State       acquisition.DeviceState    `json:"state"`
	Capturing   acquisition.CapturingState `json:"capturing"`
	Finished    bool                       `json:"finished"`
	RecordedLen int                        `json:"recordedLen"`
	Accounting  acquisition.Totals         `json:"accounting"`
	LastError   string                     `json:"lastError,omitempty"`
}

// GetDevices enumerates the devices and replies with the list
func GetDevices(c Connector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devs, err := c.Devices()
		if err != nil {
			generichttp.Error(w, classify(err))
			return
		}
		server.ReplyWithJSON(w, devs)
	}
}

// GetDevice replies with the metadata of the open device
func GetDevice(c Connector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := c.Device()
		if err != nil {
			generichttp.Error(w, classify(err))
			return
		}
		server.ReplyWithJSON(w, info)
	}
}

// GetStatus replies with a Status
func GetStatus(s Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.ReplyWithJSON(w, Status{
			Connected:   s.Connected(),
			State:       s.DeviceState(),
			Capturing:   s.State(),
			Finished:    s.Finished(),
			RecordedLen: s.RecordedLen(),
			Accounting:  s.Accounting(),
			LastError:   s.LastError(),
		})
	}
}

// StartCapture starts or resumes the capture.  The body {"bool": true}
// clears the recording first; an empty body resumes
func StartCapture(c Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := server.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil && err != io.EOF {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := c.StartCapture(b.Bool); err != nil {
			generichttp.Error(w, classify(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetData replies with the recording encoded in the format given by the fmt
// query parameter, csv by default
func GetData(c Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := strings.ToLower(r.URL.Query().Get("fmt"))
		if format == "" {
			format = "csv"
		}
		ext, ok := imgrec.Formats[format]
		if !ok {
			http.Error(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
			return
		}
		rec := c.Recording()
		buf := &bytes.Buffer{}
		if err := imgrec.Encode(buf, rec, format); err != nil {
			generichttp.Error(w, classify(err))
			return
		}
		hdr := w.Header()
		hdr.Set("Content-Type", contentTypes[format])
		hdr.Set("Content-Disposition", "attachment; filename=recording"+ext)
		hdr.Set("X-Checksum-Crc32", fmt.Sprintf("%08x", rec.Checksum()))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// GetPreview replies with a snapshot of the preview window
func GetPreview(p Previewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.ReplyWithJSON(w, frameOf(p))
	}
}

// GetConfig replies with the acquisition configuration
func GetConfig(c Configurer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.ReplyWithJSON(w, c.Config())
	}
}

// SetConfig reconfigures the acquisition.  Fields missing from the body keep
// their current values
func SetConfig(c Configurer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := c.Config()
		err := json.NewDecoder(r.Body).Decode(&cfg)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := c.Reconfigure(cfg); err != nil {
			generichttp.Error(w, classify(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HTTPScope wraps a Scope in an HTTP route table
type HTTPScope struct {
	// S is the underlying session
	S Scope

	// FPS caps the frame rate of the preview stream
	FPS float64

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPScope returns a new HTTP wrapper around a session, with the preview
// stream limited to fps frames per second
func NewHTTPScope(s Scope, fps float64) HTTPScope {
	h := HTTPScope{S: s, FPS: fps}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/devices"}:      GetDevices(s),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/device"}:       GetDevice(s),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/device/open"}: generichttp.SetInt(func(i int) error { return classify(s.OpenDevice(i)) }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/device/close"}: generichttp.Do(func() error {
			return classify(s.CloseDevice())
		}),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}: GetStatus(s),

		generichttp.MethodPath{Method: http.MethodPost, Path: "/capture/start"}: StartCapture(s),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/capture/stop"}: generichttp.Do(func() error {
			return classify(s.StopCapture())
		}),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/capture/reset"}: generichttp.Do(func() error {
			s.ResetCapture()
			return nil
		}),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/capture/state"}: func(w http.ResponseWriter, r *http.Request) {
			hp := server.HumanPayload{T: types.String, String: s.State().String()}
			hp.EncodeAndRespond(w, r)
		},
		generichttp.MethodPath{Method: http.MethodGet, Path: "/capture/finished"}: generichttp.GetBool(func() (bool, error) {
			return s.Finished(), nil
		}),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/capture/len"}: generichttp.GetInt(func() (int, error) {
			return s.RecordedLen(), nil
		}),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/capture/data"}: GetData(s),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/capture/summaries"}: func(w http.ResponseWriter, r *http.Request) {
			sums := s.Summaries()
			if sums == nil {
				sums = []acquisition.SegmentSummary{}
			}
			server.ReplyWithJSON(w, sums)
		},
		generichttp.MethodPath{Method: http.MethodGet, Path: "/capture/reset-on-stop"}: generichttp.GetBool(func() (bool, error) {
			return s.ResetOnStop(), nil
		}),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/capture/reset-on-stop"}: generichttp.SetBool(func(b bool) error {
			s.SetResetOnStop(b)
			return nil
		}),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/measurement-time"}: generichttp.GetFloat(func() (float64, error) {
			return s.MeasurementTime().Seconds(), nil
		}),

		generichttp.MethodPath{Method: http.MethodGet, Path: "/preview"}: GetPreview(s),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/accounting"}: func(w http.ResponseWriter, r *http.Request) {
			server.ReplyWithJSON(w, s.Accounting())
		},
		generichttp.MethodPath{Method: http.MethodGet, Path: "/config"}:  GetConfig(s),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/config"}: SetConfig(s),

		generichttp.MethodPath{Method: http.MethodGet, Path: "/events"}:         Events(s),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/preview/stream"}: PreviewStream(s, fps),
	}
	h.RouteTable = rt
	return h
}

// RT safisfies the generichttp.HTTPer interface
func (h HTTPScope) RT() generichttp.RouteTable {
	return h.RouteTable
}
