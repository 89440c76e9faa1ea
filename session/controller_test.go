package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/adscope/acquisition"
	"github.com/nasa-jpl/adscope/acquisition/acqtest"
	"github.com/nasa-jpl/adscope/oscilloscope"
)

var testConfig = acquisition.Config{SampleRate: 1000, Channel: 0, StreamingHistory: 250}

func newController(t *testing.T, d acquisition.Driver, mod func(*Options)) *Controller {
	t.Helper()
	opts := Options{
		Driver:    d,
		Config:    testConfig,
		IdleSleep: 100 * time.Microsecond,
	}
	if mod != nil {
		mod(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func mustOpen(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.OpenDevice(0); err != nil {
		t.Fatalf("opening device: %v", err)
	}
}

func TestCaptureFiveBatches(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	mustOpen(t, c)
	if err := c.StartCapture(true); err != nil {
		t.Fatal(err)
	}
	var want []float64
	for i := 0; i < 5; i++ {
		v := acqtest.Ramp(i*100, 100)
		want = append(want, v...)
		d.Push(acqtest.Batch(v))
	}
	eventually(t, "500 recorded samples", func() bool { return c.RecordedLen() == 500 })
	if diff := cmp.Diff(want, c.Recorded()); diff != "" {
		t.Errorf("recording mismatch (-want +got):\n%s", diff)
	}
	if tot := c.Accounting(); tot.Lost != 0 {
		t.Errorf("expected lost 0 got %d", tot.Lost)
	}
}

func TestLostCountsAccumulate(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	mustOpen(t, c)
	c.StartCapture(true)
	wantLost := []uint64{0, 0, 7, 7, 7}
	for i, want := range wantLost {
		s := acqtest.Batch(acqtest.Ramp(i*100, 100))
		if i == 2 {
			s.Record.Lost = 7
		}
		d.Push(s)
		n := (i + 1) * 100
		eventually(t, "batch recorded", func() bool { return c.RecordedLen() == n })
		if got := c.Accounting().Lost; got != want {
			t.Errorf("after batch %d expected lost %d got %d", i+1, want, got)
		}
	}
}

func TestPauseResumeKeepsRecording(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	mustOpen(t, c)
	c.SetResetOnStop(false)
	c.StartCapture(true)
	d.Push(acqtest.Batch(acqtest.Ramp(0, 100)), acqtest.Batch(acqtest.Ramp(100, 100)))
	eventually(t, "200 recorded samples", func() bool { return c.RecordedLen() == 200 })

	if err := c.StopCapture(); err != nil {
		t.Fatal(err)
	}
	if s := c.State(); s != acquisition.Paused {
		t.Fatalf("expected paused got %s", s)
	}
	if err := c.StartCapture(false); err != nil {
		t.Fatal(err)
	}
	d.Push(acqtest.Batch(acqtest.Ramp(200, 100)))
	eventually(t, "300 recorded samples", func() bool { return c.RecordedLen() == 300 })
	if diff := cmp.Diff(acqtest.Ramp(0, 300), c.Recorded()); diff != "" {
		t.Errorf("recording mismatch (-want +got):\n%s", diff)
	}
}

func TestClearingStartDropsOldSamples(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	mustOpen(t, c)
	c.StartCapture(true)
	d.Push(acqtest.Batch(acqtest.Ramp(0, 100)))
	eventually(t, "100 recorded samples", func() bool { return c.RecordedLen() == 100 })
	c.StopCapture()

	c.StartCapture(true)
	if n := c.RecordedLen(); n != 0 {
		t.Errorf("expected empty recording after clearing start, got %d", n)
	}
	d.Push(acqtest.Batch(acqtest.Ramp(1000, 50)))
	eventually(t, "50 recorded samples", func() bool { return c.RecordedLen() == 50 })
	if diff := cmp.Diff(acqtest.Ramp(1000, 50), c.Recorded()); diff != "" {
		t.Errorf("recording mismatch (-want +got):\n%s", diff)
	}
}

func TestPreviewWindow(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	mustOpen(t, c)
	all := acqtest.Ramp(0, 400)
	for i := 0; i < 4; i++ {
		d.Push(acqtest.Batch(all[i*100 : (i+1)*100]))
	}
	eventually(t, "the preview to hold the newest values", func() bool {
		p := c.Preview()
		return len(p) == 250 && p[249] == 399
	})
	if diff := cmp.Diff(all[150:400], c.Preview()); diff != "" {
		t.Errorf("preview mismatch (-want +got):\n%s", diff)
	}
	if n := c.RecordedLen(); n != 0 {
		t.Errorf("preview data reached the recording: %d samples", n)
	}
}

func TestDriverErrorDisconnects(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	notes, cancel := c.Subscribe()
	defer cancel()

	mustOpen(t, c)
	c.StartCapture(true)
	d.Push(acqtest.Batch(acqtest.Ramp(0, 10)), acqtest.Step{Err: acqtest.ErrScripted})

	var got []Notification
	deadline := time.After(3 * time.Second)
	for done := false; !done; {
		select {
		case n := <-notes:
			got = append(got, n)
			if n.Kind == acquisition.Connectivity && !n.Connected {
				done = true
			}
		case <-deadline:
			t.Fatalf("no disconnect notification, got %d notifications", len(got))
		}
	}
	errored := 0
	for _, n := range got {
		if n.Kind == acquisition.Errored {
			errored++
			if n.Err == "" {
				t.Error("Errored notification without a message")
			}
			if n.State.Kind != acquisition.StateErrored {
				t.Errorf("expected device state errored, got %s", n.State)
			}
		}
	}
	if errored != 1 {
		t.Errorf("expected one Errored notification got %d", errored)
	}
	if c.State() != acquisition.Stopped {
		t.Errorf("expected capture stopped got %s", c.State())
	}
	if c.Connected() {
		t.Error("controller still connected")
	}
	if d.OpenHandles() != 0 {
		t.Error("device handle left open")
	}
	if c.LastError() == "" {
		t.Error("last error not recorded")
	}
}

func TestTransitions(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	mustOpen(t, c)

	err := c.StopCapture()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stop from stopped: expected ErrInvalidTransition got %v", err)
	}
	if c.State() != acquisition.Stopped {
		t.Errorf("failed stop changed state to %s", c.State())
	}

	c.StartCapture(false)
	err = c.StartCapture(false)
	var te *TransitionError
	if !errors.As(err, &te) || te.From != acquisition.CaptureRunning {
		t.Errorf("start from running: expected TransitionError got %v", err)
	}
	if c.State() != acquisition.CaptureRunning {
		t.Errorf("failed start changed state to %s", c.State())
	}

	c.SetResetOnStop(false)
	c.StopCapture()
	if err := c.StopCapture(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stop from paused: expected ErrInvalidTransition got %v", err)
	}
	if c.State() != acquisition.Paused {
		t.Errorf("failed stop changed state to %s", c.State())
	}

	c.StartCapture(false)
	c.SetResetOnStop(true)
	c.StopCapture()
	if c.State() != acquisition.Stopped || !c.Finished() {
		t.Errorf("expected finished and stopped, got %s finished=%v", c.State(), c.Finished())
	}
}

func TestStartRequiresDevice(t *testing.T) {
	c := newController(t, acqtest.New(), nil)
	if err := c.StartCapture(true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected got %v", err)
	}
	if c.State() != acquisition.Stopped {
		t.Errorf("state changed to %s", c.State())
	}
}

func TestDuplicateSummaryFinalizedOnce(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	notes, cancel := c.Subscribe()
	defer cancel()
	mustOpen(t, c)
	c.StartCapture(true)

	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	first := &acquisition.SegmentSummary{Segment: 5, Elapsed: time.Second, Samples: 10}
	second := &acquisition.SegmentSummary{Segment: 6, Elapsed: 2 * time.Second, Samples: 20}
	c.router.Emit(acquisition.Event{Kind: acquisition.CaptureStopped, Run: run, Segment: 5, Summary: first})
	c.router.Emit(acquisition.Event{Kind: acquisition.CaptureStopped, Run: run, Segment: 5, Summary: first})
	c.router.Emit(acquisition.Event{Kind: acquisition.CaptureStopped, Run: run, Segment: 6, Summary: second})

	eventually(t, "two summaries", func() bool { return len(c.Summaries()) == 2 })
	segs := []uint64{}
	for _, s := range c.Summaries() {
		segs = append(segs, s.Segment)
	}
	if diff := cmp.Diff([]uint64{5, 6}, segs); diff != "" {
		t.Errorf("summaries mismatch (-want +got):\n%s", diff)
	}
	if m := c.MeasurementTime(); m != 3*time.Second {
		t.Errorf("expected 3s measurement time got %v", m)
	}

	stopped := 0
	timeout := time.After(200 * time.Millisecond)
	for done := false; !done; {
		select {
		case n := <-notes:
			if n.Kind == acquisition.CaptureStopped {
				stopped++
			}
		case <-timeout:
			done = true
		}
	}
	if stopped != 2 {
		t.Errorf("expected 2 CaptureStopped notifications got %d", stopped)
	}
}

func TestReconfigure(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	mustOpen(t, c)
	c.StartCapture(true)

	next := testConfig
	next.SampleRate = 2000
	next.StreamingHistory = 100
	if err := c.Reconfigure(next); !errors.Is(err, ErrReconfigurationConflict) {
		t.Fatalf("expected conflict while running got %v", err)
	}

	lossy := acqtest.Batch(acqtest.Ramp(0, 10))
	lossy.Record.Lost = 3
	d.Push(lossy)
	eventually(t, "10 recorded samples", func() bool { return c.RecordedLen() == 10 })
	c.SetResetOnStop(false)
	c.StopCapture()

	if err := c.Reconfigure(next); err != nil {
		t.Fatal(err)
	}
	if !c.Connected() {
		t.Fatal("reconfigure disconnected the device")
	}
	if c.Config() != next {
		t.Errorf("config not applied: %+v", c.Config())
	}
	if got := c.Accounting().Lost; got != 3 {
		t.Errorf("accounting must survive a reconfigure, lost=%d", got)
	}
	cfgs := d.Configs()
	if len(cfgs) != 2 || cfgs[1].SampleRate != 2000 {
		t.Errorf("expected the device to be reconfigured at 2000 Hz, got %+v", cfgs)
	}
	if d.OpenHandles() != 1 {
		t.Errorf("expected exactly one open handle got %d", d.OpenHandles())
	}
	eventually(t, "preview resized", func() bool { return c.prev.Cap() == 100 })

	if err := c.StartCapture(false); err != nil {
		t.Fatal(err)
	}
	d.Push(acqtest.Batch(acqtest.Ramp(10, 5)))
	eventually(t, "15 recorded samples", func() bool { return c.RecordedLen() == 15 })
}

func TestCloseDevice(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	if err := c.CloseDevice(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected got %v", err)
	}
	mustOpen(t, c)
	if err := c.OpenDevice(0); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected got %v", err)
	}
	c.StartCapture(true)
	if err := c.CloseDevice(); !errors.Is(err, ErrReconfigurationConflict) {
		t.Errorf("expected conflict while running got %v", err)
	}
	c.SetResetOnStop(false)
	c.StopCapture()
	if err := c.CloseDevice(); err != nil {
		t.Fatal(err)
	}
	if c.State() != acquisition.Stopped || c.Connected() {
		t.Errorf("expected stopped and disconnected, got %s connected=%v", c.State(), c.Connected())
	}
	if d.OpenHandles() != 0 {
		t.Error("handle left open after CloseDevice")
	}
	if _, err := c.Device(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected no device info after close, got %v", err)
	}
}

func TestOpenFailure(t *testing.T) {
	d := acqtest.New()
	d.OpenErr = errors.New("device in use by another process")
	c := newController(t, d, nil)
	err := c.OpenDevice(0)
	var de *acquisition.DriverError
	if !errors.As(err, &de) {
		t.Fatalf("expected a DriverError got %v", err)
	}
	if c.Connected() {
		t.Error("connected after a failed open")
	}
	if d.OpenHandles() != 0 {
		t.Error("handle left open")
	}
}

func TestAccountingResetsOnReconnect(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	mustOpen(t, c)
	lossy := acqtest.Batch(acqtest.Ramp(0, 10))
	lossy.Record.Lost = 4
	d.Push(lossy)
	eventually(t, "loss counted", func() bool { return c.Accounting().Lost == 4 })
	c.CloseDevice()
	mustOpen(t, c)
	if got := c.Accounting().Lost; got != 0 {
		t.Errorf("expected accounting reset on reconnect, got %d", got)
	}
}

func TestDevicesHidesSimulators(t *testing.T) {
	d := acqtest.New()
	d.Devices = []acquisition.DeviceDescriptor{
		{Index: 0, Name: "Analog Discovery 2", SerialNumber: "210321ABCDEF", Type: "USB"},
		{Index: 1, Name: "Analog Discovery 2", SerialNumber: "DEMO", Type: "Demo"},
	}
	c := newController(t, d, nil)
	got, err := c.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != "USB" {
		t.Errorf("expected only the USB device, got %+v", got)
	}

	c = newController(t, d, func(o *Options) { o.ShowSimulators = true })
	got, _ = c.Devices()
	if len(got) != 2 {
		t.Errorf("expected simulators listed, got %+v", got)
	}
}

func TestResetCapture(t *testing.T) {
	d := acqtest.New()
	c := newController(t, d, nil)
	mustOpen(t, c)
	c.StartCapture(true)
	d.Push(acqtest.Batch(acqtest.Ramp(0, 20)))
	eventually(t, "20 recorded samples", func() bool { return c.RecordedLen() == 20 })
	c.ResetCapture()
	if c.RecordedLen() != 0 || c.MeasurementTime() != 0 || c.Finished() {
		t.Error("reset left recording state behind")
	}
	if c.State() != acquisition.CaptureRunning || !c.Connected() {
		t.Error("reset changed the capture or connection state")
	}
	d.Push(acqtest.Batch(acqtest.Ramp(20, 5)))
	eventually(t, "5 recorded samples", func() bool { return c.RecordedLen() == 5 })
}

type memWriter struct {
	mu   sync.Mutex
	recs []oscilloscope.Recording
}

func (m *memWriter) WriteRecording(r oscilloscope.Recording) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return "memory", nil
}

func (m *memWriter) written() []oscilloscope.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]oscilloscope.Recording(nil), m.recs...)
}

func TestFinishedRecordingIsWritten(t *testing.T) {
	d := acqtest.New()
	w := &memWriter{}
	c := newController(t, d, func(o *Options) {
		o.Writer = w
		o.ResetOnStop = true
	})
	mustOpen(t, c)
	c.StartCapture(true)
	d.Push(acqtest.Batch(acqtest.Ramp(0, 100)), acqtest.Batch(acqtest.Ramp(100, 100)))
	eventually(t, "200 recorded samples", func() bool { return c.RecordedLen() == 200 })
	c.StopCapture()

	eventually(t, "recording written", func() bool { return len(w.written()) == 1 })
	rec := w.written()[0]
	if diff := cmp.Diff(acqtest.Ramp(0, 200), rec.Measurement); diff != "" {
		t.Errorf("written recording mismatch (-want +got):\n%s", diff)
	}
	if rec.SampleRate != testConfig.SampleRate || rec.Device == "" {
		t.Errorf("recording metadata missing: %+v", rec)
	}
	if rec.Elapsed <= 0 {
		t.Errorf("expected positive measurement time, got %v", rec.Elapsed)
	}
}

func TestResetWhileRunningWritesOnlyNewSamples(t *testing.T) {
	d := acqtest.New()
	w := &memWriter{}
	c := newController(t, d, func(o *Options) {
		o.Writer = w
		o.ResetOnStop = true
	})
	mustOpen(t, c)
	c.StartCapture(true)
	d.Push(acqtest.Batch(acqtest.Ramp(0, 100)))
	eventually(t, "100 recorded samples", func() bool { return c.RecordedLen() == 100 })
	c.ResetCapture()
	d.Push(acqtest.Batch(acqtest.Ramp(100, 50)))
	eventually(t, "50 recorded samples", func() bool { return c.RecordedLen() == 50 })
	if err := c.StopCapture(); err != nil {
		t.Fatal(err)
	}

	eventually(t, "recording written", func() bool { return len(w.written()) == 1 })
	if diff := cmp.Diff(acqtest.Ramp(100, 50), w.written()[0].Measurement); diff != "" {
		t.Errorf("written recording mismatch (-want +got):\n%s", diff)
	}
	sums := c.Summaries()
	if len(sums) != 1 || sums[0].Samples != 50 {
		t.Errorf("expected one summary of 50 samples, got %+v", sums)
	}
}

func TestEmptySegmentIsSummarized(t *testing.T) {
	d := acqtest.New()
	w := &memWriter{}
	c := newController(t, d, func(o *Options) {
		o.Writer = w
		o.ResetOnStop = true
	})
	notes, cancel := c.Subscribe()
	defer cancel()
	mustOpen(t, c)
	c.StartCapture(true)
	c.StopCapture()

	eventually(t, "one summary", func() bool { return len(c.Summaries()) == 1 })
	if s := c.Summaries()[0]; s.Samples != 0 || s.Lost != 0 {
		t.Errorf("expected an empty summary, got %+v", s)
	}
	eventually(t, "recording written", func() bool { return len(w.written()) == 1 })

	stopped := 0
	timeout := time.After(100 * time.Millisecond)
	for done := false; !done; {
		select {
		case n := <-notes:
			if n.Kind == acquisition.CaptureStopped {
				stopped++
			}
		case <-timeout:
			done = true
		}
	}
	if stopped != 1 {
		t.Errorf("expected one CaptureStopped notification got %d", stopped)
	}
}
