// Package session coordinates device connection, the acquisition worker, and
// the capture state machine, and publishes the result to subscribers
package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/nasa-jpl/adscope/acquisition"
	"github.com/nasa-jpl/adscope/capture"
	"github.com/nasa-jpl/adscope/oscilloscope"
	"github.com/nasa-jpl/adscope/preview"
)

// autoWriteTimeout bounds the wait for the last batches of a segment before
// a finished recording is written
const autoWriteTimeout = 10 * time.Second

// Writer persists finished recordings, see imgrec
type Writer interface {
	WriteRecording(oscilloscope.Recording) (string, error)
}

// Options configures a Controller
type Options struct {
	// Driver is the device driver, required
	Driver acquisition.Driver

	// Config is the initial acquisition configuration
	Config acquisition.Config

	// ShowSimulators keeps demo devices in the Devices list
	ShowSimulators bool

	// ResetOnStop makes StopCapture finalize the recording instead of pausing
	ResetOnStop bool

	// CaptureQueueLen and PreviewQueueLen size the router channels
	CaptureQueueLen int
	PreviewQueueLen int

	// worker tuning, see acquisition.WorkerOptions
	IdleSleep      time.Duration
	CaptureTimeout time.Duration
	MaxBatch       int
	PreviewEvery   int

	// Observer receives metrics, nil for none
	Observer acquisition.Observer

	// Writer, if not nil, receives every finished recording
	Writer Writer

	// Logger receives lifecycle messages, nil for none
	Logger *log.Logger
}

// Controller owns the capturing state machine and the worker of the
// connected device.  Its methods are safe for concurrent use
type Controller struct {
	opts   Options
	log    *log.Logger
	router *acquisition.Router
	gate   *acquisition.Gate
	acc    *capture.Accumulator
	prev   *preview.Buffer
	feed   feed

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	cfg         acquisition.Config
	capturing   acquisition.CapturingState
	resetOnStop bool
	worker      *acquisition.Worker
	accounting  *acquisition.Accounting
	run         uint64
	index       int
	device      *acquisition.DeviceInfo
	devState    acquisition.DeviceState
	devices     []acquisition.DeviceDescriptor
	lastErr     string

	// recording bookkeeping
	lastSeg     uint64 // newest finalized segment
	firstSeg    uint64 // first segment of the current recording
	writeSeg    uint64 // segment whose summary triggers the writer
	summaries   []acquisition.SegmentSummary
	measurement time.Duration
	recStart    time.Time
	finished    bool
	closed      bool
}

// New returns a running Controller with no device connected
func New(opts Options) (*Controller, error) {
	if opts.Driver == nil {
		return nil, fmt.Errorf("session requires a driver")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if opts.Observer == nil {
		opts.Observer = acquisition.NopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:        opts,
		log:         logger,
		router:      acquisition.NewRouter(opts.CaptureQueueLen, opts.PreviewQueueLen),
		gate:        &acquisition.Gate{},
		acc:         &capture.Accumulator{Observer: opts.Observer},
		prev:        preview.New(opts.Config.StreamingHistory),
		ctx:         ctx,
		cancel:      cancel,
		cfg:         opts.Config,
		resetOnStop: opts.ResetOnStop,
		devState:    acquisition.DeviceState{Kind: acquisition.Disconnected},
	}
	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.acc.Run(ctx, c.router.Capture())
	}()
	go func() {
		defer c.wg.Done()
		c.prev.Run(ctx, c.router.Preview())
	}()
	go func() {
		defer c.wg.Done()
		c.events()
	}()
	return c, nil
}

// Close disconnects the device and stops all goroutines
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.worker != nil {
		c.gate.Close()
		c.worker.Stop()
		c.worker = nil
	}
	c.mu.Unlock()

	c.router.Close()
	c.cancel()
	c.wg.Wait()
	c.feed.close()
}

// Subscribe returns a channel of notifications and a function that ends the
// subscription.  A subscriber that falls behind misses notifications rather
// than slowing the controller
func (c *Controller) Subscribe() (<-chan Notification, func()) {
	return c.feed.subscribe()
}

// Devices enumerates the devices.  Demo devices are hidden unless
// ShowSimulators is set
func (c *Controller) Devices() ([]acquisition.DeviceDescriptor, error) {
	all, err := c.opts.Driver.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	out := make([]acquisition.DeviceDescriptor, 0, len(all))
	for _, d := range all {
		if d.Type == "Demo" && !c.opts.ShowSimulators {
			continue
		}
		out = append(out, d)
	}
	c.mu.Lock()
	c.devices = out
	c.notifyLocked(acquisition.DevicesEnumerated, nil)
	c.mu.Unlock()
	return append([]acquisition.DeviceDescriptor(nil), out...), nil
}

// OpenDevice connects to the device at an enumeration index.  Accounting and
// the recording start from zero
func (c *Controller) OpenDevice(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("controller closed")
	}
	if c.worker != nil {
		return ErrAlreadyConnected
	}
	c.clearRecordingLocked()
	c.capturing = acquisition.Stopped
	c.accounting = &acquisition.Accounting{}
	c.index = index
	if err := c.startWorkerLocked(); err != nil {
		c.accounting = nil
		return err
	}
	c.lastErr = ""
	c.notifyLocked(acquisition.Connectivity, nil)
	return nil
}

// startWorkerLocked starts a run with the current config, index, and accounting
func (c *Controller) startWorkerLocked() error {
	if err := c.prev.Reconfigure(c.cfg.StreamingHistory); err != nil {
		return err
	}
	c.run++
	w, err := acquisition.Start(c.ctx, acquisition.WorkerOptions{
		Driver:         c.opts.Driver,
		Index:          c.index,
		Config:         c.cfg,
		Router:         c.router,
		Accounting:     c.accounting,
		Gate:           c.gate,
		Run:            c.run,
		IdleSleep:      c.opts.IdleSleep,
		MaxBatch:       c.opts.MaxBatch,
		PreviewEvery:   c.opts.PreviewEvery,
		CaptureTimeout: c.opts.CaptureTimeout,
		Observer:       c.opts.Observer,
		Logger:         c.log,
	})
	if err != nil {
		return fmt.Errorf("opening device %d: %w", c.index, err)
	}
	c.worker = w
	info := w.Device()
	c.device = &info
	return nil
}

// CloseDevice disconnects.  A paused capture is finalized; a running one
// must be stopped first
func (c *Controller) CloseDevice() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.worker == nil {
		return ErrNotConnected
	}
	if c.capturing == acquisition.CaptureRunning {
		return ErrReconfigurationConflict
	}
	c.disconnectLocked()
	c.notifyLocked(acquisition.Connectivity, nil)
	return nil
}

// disconnectLocked forces Stopped, joins the worker, and clears device state
func (c *Controller) disconnectLocked() {
	c.gate.Close()
	if c.capturing != acquisition.Stopped {
		c.capturing = acquisition.Stopped
		c.finished = true
		c.notifyLocked(acquisition.CapturingChanged, nil)
	}
	if c.worker != nil {
		c.worker.Stop()
		c.worker = nil
	}
	c.device = nil
	c.devState = acquisition.DeviceState{Kind: acquisition.Disconnected}
}

// StartCapture begins or resumes a capture.  With clear, the recording and
// measurement time are reset first
func (c *Controller) StartCapture(clear bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capturing != acquisition.Stopped && c.capturing != acquisition.Paused {
		return &TransitionError{Op: "start", From: c.capturing}
	}
	if c.worker == nil {
		return ErrNotConnected
	}
	var reset func(uint64)
	if clear {
		reset = c.clearLocked
	}
	gs := c.gate.Open(reset)
	if clear || c.firstSeg == 0 {
		c.firstSeg = gs.Segment
	}
	c.capturing = acquisition.CaptureRunning
	c.finished = false
	c.notifyLocked(acquisition.CapturingChanged, nil)
	return nil
}

// StopCapture ends the running segment.  The capture is Stopped when reset
// on stop is set and Paused otherwise
func (c *Controller) StopCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capturing != acquisition.CaptureRunning {
		return &TransitionError{Op: "stop", From: c.capturing}
	}
	c.gate.Close()
	if c.resetOnStop {
		c.capturing = acquisition.Stopped
		c.finished = true
		c.writeSeg = c.gate.Load().Segment
	} else {
		c.capturing = acquisition.Paused
	}
	c.notifyLocked(acquisition.CapturingChanged, nil)
	return nil
}

// ResetCapture clears the recording, measurement time, and finished flag.
// The capturing state and the connection are unchanged.  A running capture
// continues in a new segment, so the next summary counts only samples
// recorded after the reset
func (c *Controller) ResetCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capturing == acquisition.CaptureRunning {
		c.firstSeg = c.gate.Open(c.clearLocked).Segment
	} else {
		c.clearRecordingLocked()
	}
	c.notifyLocked(acquisition.CapturingChanged, nil)
}

// clearRecordingLocked advances the epoch and empties the recording
func (c *Controller) clearRecordingLocked() {
	c.gate.Reset(c.clearLocked)
	c.firstSeg = 0
}

// clearLocked is called by the gate with the new epoch
func (c *Controller) clearLocked(epoch uint64) {
	c.acc.Clear(epoch)
	c.summaries = nil
	c.measurement = 0
	c.recStart = time.Time{}
	c.finished = false
	c.writeSeg = 0
}

// Reconfigure replaces the acquisition configuration.  While connected the
// worker is restarted with the new configuration and the same accounting
func (c *Controller) Reconfigure(cfg acquisition.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capturing == acquisition.CaptureRunning {
		return ErrReconfigurationConflict
	}
	c.cfg = cfg
	if c.worker == nil {
		return c.prev.Reconfigure(cfg.StreamingHistory)
	}
	c.worker.Stop()
	c.worker = nil
	if err := c.startWorkerLocked(); err != nil {
		c.disconnectLocked()
		c.lastErr = err.Error()
		c.notifyLocked(acquisition.Connectivity, nil)
		return err
	}
	c.log.Printf("reconfigured device %d: %+v", c.index, cfg)
	return nil
}

// SetResetOnStop selects whether StopCapture finalizes (true) or pauses (false)
func (c *Controller) SetResetOnStop(b bool) {
	c.mu.Lock()
	c.resetOnStop = b
	c.mu.Unlock()
}

// ResetOnStop returns the current stop behavior
func (c *Controller) ResetOnStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetOnStop
}

// State returns the capturing state
func (c *Controller) State() acquisition.CapturingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// DeviceState returns the last reported hardware state
func (c *Controller) DeviceState() acquisition.DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devState
}

// Connected returns true while a device is open
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worker != nil
}

// Config returns the acquisition configuration
func (c *Controller) Config() acquisition.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Device returns the metadata of the open device
func (c *Controller) Device() (acquisition.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return acquisition.DeviceInfo{}, ErrNotConnected
	}
	return *c.device, nil
}

// LastError returns the message of the most recent worker failure
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// RecordedLen returns the number of recorded samples
func (c *Controller) RecordedLen() int {
	return c.acc.Len()
}

// Recorded returns a copy of the recorded samples
func (c *Controller) Recorded() []float64 {
	return c.acc.Snapshot()
}

// Preview returns the preview window, oldest first
func (c *Controller) Preview() []float64 {
	return c.prev.Snapshot()
}

// PreviewDropped returns the number of preview batches dropped by the router
func (c *Controller) PreviewDropped() uint64 {
	return c.router.PreviewDropped()
}

// Accounting returns the lost and corrupted totals of the connected session
func (c *Controller) Accounting() acquisition.Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalsLocked()
}

func (c *Controller) totalsLocked() acquisition.Totals {
	if c.accounting == nil {
		return acquisition.Totals{}
	}
	return c.accounting.Snapshot()
}

// Summaries returns the finalized segment summaries of the current recording
func (c *Controller) Summaries() []acquisition.SegmentSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]acquisition.SegmentSummary(nil), c.summaries...)
}

// MeasurementTime returns the recorded time summed over finalized segments
func (c *Controller) MeasurementTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.measurement
}

// Finished returns true once a capture has been stopped for good
func (c *Controller) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Recording returns a snapshot of the recording for export
func (c *Controller) Recording() oscilloscope.Recording {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordingLocked()
}

func (c *Controller) recordingLocked() oscilloscope.Recording {
	tot := c.totalsLocked()
	rec := oscilloscope.Recording{
		Name:        fmt.Sprintf("ain%d", c.cfg.Channel),
		Channel:     c.cfg.Channel,
		SampleRate:  c.cfg.SampleRate,
		Start:       c.recStart,
		Elapsed:     c.measurement,
		Lost:        tot.Lost,
		Corrupted:   tot.Corrupted,
		Measurement: c.acc.Snapshot(),
	}
	if c.device != nil {
		rec.Device = c.device.SerialNumber
	}
	return rec
}

// events applies worker events until the router is closed
func (c *Controller) events() {
	for e := range c.router.Events() {
		c.mu.Lock()
		c.handleLocked(e)
		c.mu.Unlock()
	}
}

func (c *Controller) handleLocked(e acquisition.Event) {
	current := e.Run == c.run && c.worker != nil
	switch e.Kind {
	case acquisition.StateChanged:
		if !current {
			return
		}
		c.devState = e.State
		c.notifyLocked(acquisition.StateChanged, nil)
	case acquisition.DeviceOpened:
		if !current {
			return
		}
		c.notifyLocked(acquisition.DeviceOpened, nil)
	case acquisition.CaptureStarted:
		if c.firstSeg != 0 && e.Segment >= c.firstSeg && c.recStart.IsZero() {
			c.recStart = e.Time
		}
		c.notifyLocked(acquisition.CaptureStarted, func(n *Notification) { n.Segment = e.Segment })
	case acquisition.CaptureStopped:
		c.finalizeLocked(e)
	case acquisition.Errored:
		if !current {
			return
		}
		c.log.Printf("device %d failed: %s", c.index, e.Err)
		c.lastErr = e.Err
		c.disconnectLocked()
		c.devState = acquisition.DeviceState{Kind: acquisition.StateErrored}
		c.notifyLocked(acquisition.Errored, func(n *Notification) { n.Err = e.Err })
		c.notifyLocked(acquisition.Connectivity, nil)
	case acquisition.DeviceClosed:
		if e.Run != c.run {
			return
		}
		c.notifyLocked(acquisition.DeviceClosed, nil)
	}
}

// finalizeLocked records a segment summary exactly once
func (c *Controller) finalizeLocked(e acquisition.Event) {
	sum := e.Summary
	if sum == nil || sum.Segment <= c.lastSeg {
		return
	}
	c.lastSeg = sum.Segment
	if c.firstSeg != 0 && sum.Segment >= c.firstSeg {
		c.summaries = append(c.summaries, *sum)
		c.measurement += sum.Elapsed
	}
	c.log.Printf("segment %d finished: %d samples in %v, lost=%d corrupted=%d",
		sum.Segment, sum.Samples, sum.Elapsed, sum.Lost, sum.Corrupted)
	s := *sum
	c.notifyLocked(acquisition.CaptureStopped, func(n *Notification) {
		n.Segment = s.Segment
		n.Summary = &s
	})
	if c.opts.Writer != nil && c.writeSeg != 0 && sum.Segment == c.writeSeg {
		c.writeSeg = 0
		c.wg.Add(1)
		go c.write(s)
	}
}

// write saves the recording once the last batch of the segment is recorded
func (c *Controller) write(s acquisition.SegmentSummary) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(c.ctx, autoWriteTimeout)
	defer cancel()
	if err := c.acc.WaitSegment(ctx, s.Segment, s.Samples); err != nil {
		c.log.Printf("recording not written, segment %d incomplete: %v", s.Segment, err)
		return
	}
	rec := c.Recording()
	fn, err := c.opts.Writer.WriteRecording(rec)
	if err != nil {
		c.log.Printf("writing recording: %v", err)
		return
	}
	if fn != "" {
		c.log.Printf("wrote %d samples to %s", len(rec.Measurement), fn)
	}
}

// notifyLocked publishes a snapshot of the session.  c.mu must be held
func (c *Controller) notifyLocked(kind acquisition.EventKind, mod func(*Notification)) {
	n := Notification{
		Kind:       kind,
		State:      c.devState,
		Capturing:  c.capturing,
		Connected:  c.worker != nil,
		Err:        c.lastErr,
		Accounting: c.totalsLocked(),
		Time:       time.Now(),
	}
	if c.device != nil {
		d := *c.device
		d.AnalogInChannels = append([]int(nil), c.device.AnalogInChannels...)
		n.Device = &d
	}
	if kind == acquisition.DevicesEnumerated {
		n.Devices = append([]acquisition.DeviceDescriptor(nil), c.devices...)
	}
	if mod != nil {
		mod(&n)
	}
	c.feed.publish(n)
}
