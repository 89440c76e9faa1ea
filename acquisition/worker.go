package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// DefaultIdleSleep is the pause between polls that returned no samples
const DefaultIdleSleep = time.Millisecond

// DefaultCaptureTimeout bounds how long the worker waits on a full capture channel
const DefaultCaptureTimeout = 5 * time.Second

// WorkerOptions holds everything a Worker needs for one run
type WorkerOptions struct {
	// Driver is the device driver, required
	Driver Driver

	// Index is the enumeration index of the device to open
	Index int

	// Config is the acquisition configuration of the run
	Config Config

	// Router carries batches and events to consumers, required
	Router *Router

	// Accounting receives lost and corrupted counts, required
	Accounting *Accounting

	// Gate is the capture flag.  A nil gate never opens
	Gate *Gate

	// Run identifies this run in emitted events
	Run uint64

	// IdleSleep is the pause after a poll with no samples.  Zero polls
	// without pausing, negative selects DefaultIdleSleep
	IdleSleep time.Duration

	// MaxBatch caps the samples forwarded per poll; the excess is counted
	// as lost.  Zero selects 2*SampleRate
	MaxBatch int

	// PreviewEvery forwards every Nth sample to the preview channel.
	// Values below 2 forward every sample
	PreviewEvery int

	// CaptureTimeout bounds backpressure on the capture channel.  Zero
	// selects DefaultCaptureTimeout, negative waits forever
	CaptureTimeout time.Duration

	// Observer receives metrics, nil for none
	Observer Observer

	// Logger receives data loss and lifecycle messages, nil for none
	Logger *log.Logger
}

// Worker runs the poll loop of one open device on its own goroutine.  The
// goroutine is the only user of the device handle and the only writer of
// the Accounting
type Worker struct {
	opts   WorkerOptions
	handle Handle
	info   DeviceInfo
	cancel context.CancelFunc
	done   chan struct{}

	// owned by the poll goroutine
	state        DeviceState
	seq          uint64
	sampled      bool
	previewPhase int
	seg          segment
	seen         uint64

	errMu sync.Mutex
	err   error
}

type segment struct {
	id        uint64
	start     time.Time
	samples   int
	lost      int
	corrupted int
}

// Start opens and configures the device, then begins polling.  If opening or
// configuring fails the error is returned and no handle is left open.
// The run ends when ctx is done, Stop is called, or the driver fails
func Start(ctx context.Context, opts WorkerOptions) (*Worker, error) {
	if opts.Driver == nil || opts.Router == nil || opts.Accounting == nil {
		return nil, errors.New("worker requires a driver, router, and accounting")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid acquisition config: %w", err)
	}
	opts = withDefaults(opts)

	h, err := opts.Driver.Open(opts.Index)
	if err != nil {
		return nil, asDriverError("open", err)
	}
	if err := opts.Driver.Configure(h, opts.Config); err != nil {
		closeErr := opts.Driver.Close(h)
		if closeErr != nil {
			opts.Logger.Printf("closing device %d after failed configure: %v", opts.Index, closeErr)
		}
		return nil, asDriverError("configure", err)
	}
	info, err := opts.Driver.Info(h)
	if err != nil {
		// metadata is informative only
		opts.Logger.Printf("reading device info: %v", err)
		info = DeviceInfo{DeviceDescriptor: DeviceDescriptor{Index: opts.Index}}
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		opts:   opts,
		handle: h,
		info:   info,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  DeviceState{Kind: Disconnected},
	}
	// a segment already open when the run starts is picked up by the loop
	if g := opts.Gate.Load(); g.Open {
		w.seen = g.Segment - 1
	} else {
		w.seen = g.Segment
	}
	opts.Router.Emit(Event{Kind: DeviceOpened, Run: opts.Run, Device: &info})
	opts.Logger.Printf("opened device %d (%s %s) at %v Hz on channel %d",
		opts.Index, info.Name, info.SerialNumber, opts.Config.SampleRate, opts.Config.Channel)
	go w.loop(ctx)
	return w, nil
}

func withDefaults(o WorkerOptions) WorkerOptions {
	if o.IdleSleep < 0 {
		o.IdleSleep = DefaultIdleSleep
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = int(2 * o.Config.SampleRate)
		if o.MaxBatch < 1 {
			o.MaxBatch = 1
		}
	}
	if o.PreviewEvery < 1 {
		o.PreviewEvery = 1
	}
	if o.CaptureTimeout == 0 {
		o.CaptureTimeout = DefaultCaptureTimeout
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	if o.Gate == nil {
		o.Gate = &Gate{}
	}
	return o
}

// Device returns the metadata read when the device was opened
func (w *Worker) Device() DeviceInfo {
	return w.info
}

// Config returns the configuration of the run
func (w *Worker) Config() Config {
	return w.opts.Config
}

// Done is closed once the handle has been closed and the goroutine exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stop cancels the run and blocks until the device handle is closed
func (w *Worker) Stop() {
	w.cancel()
	<-w.done
}

// Wait blocks until the run is over and returns its error, nil if it was
// cancelled
func (w *Worker) Wait() error {
	<-w.done
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *Worker) loop(ctx context.Context) {
	err := w.poll(ctx)
	w.finishSegment(time.Now())
	if err != nil {
		w.opts.Logger.Printf("acquisition on device %d failed: %v", w.opts.Index, err)
		w.emit(Event{Kind: Errored, State: DeviceState{Kind: StateErrored}, Err: err.Error()})
	}
	if cerr := w.opts.Driver.Close(w.handle); cerr != nil {
		w.opts.Logger.Printf("closing device %d: %v", w.opts.Index, cerr)
	}
	w.emit(Event{Kind: DeviceClosed, State: DeviceState{Kind: Disconnected}})

	w.errMu.Lock()
	w.err = err
	w.errMu.Unlock()
	w.cancel()
	close(w.done)
}

// poll runs until ctx is done (nil) or a fatal error occurs
func (w *Worker) poll(ctx context.Context) error {
	o := w.opts
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		t0 := time.Now()
		raw, rec, err := o.Driver.Poll(w.handle)
		o.Observer.ObserveLatency(MetricPollSeconds, time.Since(t0).Seconds())
		if err != nil {
			return asDriverError("poll", err)
		}
		now := time.Now()

		state := StateFromRaw(raw)
		if state != w.state {
			w.state = state
			w.emit(Event{Kind: StateChanged, State: state})
		}

		gate := o.Gate.Load()
		if w.seg.id != 0 && (!gate.Open || gate.Segment != w.seg.id) {
			w.finishSegment(now)
		}
		if gate.Segment > w.seen {
			// opened since the last poll, possibly closed again already
			w.seen = gate.Segment
			w.seg = segment{id: gate.Segment, start: now}
			w.emit(Event{Kind: CaptureStarted, Segment: w.seg.id, Time: now})
			if !gate.Open {
				w.finishSegment(now)
			}
		}

		if !w.sampled && state.Arming() && rec.Available == 0 {
			w.idle(ctx)
			continue
		}

		lost, corrupted := rec.Lost, rec.Corrupted
		values := rec.Samples
		if len(values) > rec.Available {
			values = values[:rec.Available]
		}
		if len(values) > o.MaxBatch {
			lost += len(values) - o.MaxBatch
			values = values[:o.MaxBatch]
		}
		if lost > 0 || corrupted > 0 {
			o.Accounting.Add(lost, corrupted)
			o.Observer.IncCounter(MetricSamplesLost, float64(lost))
			o.Observer.IncCounter(MetricSamplesCorrupted, float64(corrupted))
			o.Logger.Printf("data loss on device %d: lost=%d corrupted=%d", o.Index, lost, corrupted)
			if w.seg.id != 0 {
				w.seg.lost += lost
				w.seg.corrupted += corrupted
			}
		}
		if len(values) == 0 {
			w.idle(ctx)
			continue
		}
		w.sampled = true
		w.seq++
		o.Observer.IncCounter(MetricSamplesAcquired, float64(len(values)))

		b := SampleBatch{
			Values:    append([]float64(nil), values...),
			Available: rec.Available,
			Lost:      lost,
			Corrupted: corrupted,
			Timestamp: now,
			Seq:       w.seq,
		}

		if pb := w.decimate(b); len(pb.Values) > 0 {
			if n := o.Router.SendPreview(pb); n > 0 {
				o.Observer.IncCounter(MetricPreviewDropped, float64(n))
			}
		}

		if !gate.Open {
			continue
		}
		b.Segment = gate.Segment
		b.Epoch = gate.Epoch
		if err := o.Router.SendCapture(ctx, b, o.CaptureTimeout); err != nil {
			if errors.Is(err, ErrCaptureBackpressure) {
				return err
			}
			// cancelled while blocked
			return nil
		}
		w.seg.samples += len(b.Values)
		o.Observer.SetGauge(MetricCaptureQueue, float64(o.Router.CaptureQueued()))
	}
}

// decimate returns the batch to send for preview
func (w *Worker) decimate(b SampleBatch) SampleBatch {
	n := w.opts.PreviewEvery
	if n == 1 {
		return b
	}
	out := make([]float64, 0, len(b.Values)/n+1)
	for _, v := range b.Values {
		if w.previewPhase == 0 {
			out = append(out, v)
		}
		w.previewPhase = (w.previewPhase + 1) % n
	}
	b.Values = out
	return b
}

// finishSegment emits the summary of the open segment, if any
func (w *Worker) finishSegment(now time.Time) {
	s := w.seg
	if s.id == 0 {
		return
	}
	w.seg = segment{}
	sum := &SegmentSummary{
		Segment:   s.id,
		Start:     s.start,
		Elapsed:   now.Sub(s.start),
		Samples:   s.samples,
		Lost:      s.lost,
		Corrupted: s.corrupted,
	}
	w.opts.Observer.IncCounter(MetricSegments, 1)
	w.emit(Event{Kind: CaptureStopped, Segment: s.id, Summary: sum, Time: now})
}

func (w *Worker) idle(ctx context.Context) {
	d := w.opts.IdleSleep
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
	}
}

func (w *Worker) emit(e Event) {
	e.Run = w.opts.Run
	w.opts.Router.Emit(e)
}
