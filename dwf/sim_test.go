package dwf

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/adscope/acquisition"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var simConfig = acquisition.Config{SampleRate: 1000, Channel: 0, StreamingHistory: 100}

func openSim(t *testing.T, opts SimOptions) (*Sim, acquisition.Handle, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	s := NewSim(opts)
	h, err := s.Open(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Configure(h, simConfig); err != nil {
		t.Fatal(err)
	}
	return s, h, clk
}

// arm polls through the arming sequence
func arm(t *testing.T, s *Sim, h acquisition.Handle) []acquisition.RawStatus {
	t.Helper()
	var seen []acquisition.RawStatus
	for i := 0; i < 3; i++ {
		st, rec, err := s.Poll(h)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Available != 0 {
			t.Errorf("samples available while arming: %d", rec.Available)
		}
		seen = append(seen, st)
	}
	return seen
}

func TestSimArmingSequence(t *testing.T) {
	s, h, _ := openSim(t, SimOptions{})
	want := []acquisition.RawStatus{acquisition.StatusConfig, acquisition.StatusPrefill, acquisition.StatusArmed}
	if diff := cmp.Diff(want, arm(t, s, h)); diff != "" {
		t.Errorf("arming sequence mismatch (-want +got):\n%s", diff)
	}
	st, _, _ := s.Poll(h)
	if st != acquisition.StatusRunning {
		t.Errorf("expected running after arming, got %d", st)
	}
}

func TestSimProducesSamplesAtRate(t *testing.T) {
	s, h, clk := openSim(t, SimOptions{Frequency: 10, Amplitude: 2})
	arm(t, s, h)
	clk.Advance(100 * time.Millisecond)
	st, rec, err := s.Poll(h)
	if err != nil {
		t.Fatal(err)
	}
	if st != acquisition.StatusRunning || rec.Available != 100 || len(rec.Samples) != 100 {
		t.Fatalf("expected 100 running samples, got status %d available %d", st, rec.Available)
	}
	for k, v := range rec.Samples {
		want := 2 * math.Sin(2*math.Pi*10*float64(k)/1000)
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("sample %d expected %v got %v", k, want, v)
		}
	}

	clk.Advance(50 * time.Millisecond)
	_, rec, _ = s.Poll(h)
	want := 2 * math.Sin(2*math.Pi*10*100/1000)
	if rec.Available != 50 || math.Abs(rec.Samples[0]-want) > 1e-9 {
		t.Errorf("signal is not continuous across polls: %d samples, first %v", rec.Available, rec.Samples[0])
	}
}

func TestSimOverflowIsLost(t *testing.T) {
	s, h, clk := openSim(t, SimOptions{})
	arm(t, s, h)
	clk.Advance(10 * time.Second)
	_, rec, _ := s.Poll(h)
	if rec.Available != AD2BufferSize || rec.Lost != 10000-AD2BufferSize {
		t.Errorf("expected %d available and %d lost, got %d and %d",
			AD2BufferSize, 10000-AD2BufferSize, rec.Available, rec.Lost)
	}
}

func TestSimInjectsLossAndCorruption(t *testing.T) {
	s, h, clk := openSim(t, SimOptions{LostEvery: 2, LostCount: 5, CorruptEvery: 3, CorruptCount: 1})
	arm(t, s, h)
	var lost, corrupted []int
	for i := 0; i < 6; i++ {
		clk.Advance(10 * time.Millisecond)
		_, rec, _ := s.Poll(h)
		lost = append(lost, rec.Lost)
		corrupted = append(corrupted, rec.Corrupted)
	}
	if diff := cmp.Diff([]int{0, 5, 0, 5, 0, 5}, lost); diff != "" {
		t.Errorf("lost mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 0, 1, 0, 0, 1}, corrupted); diff != "" {
		t.Errorf("corrupted mismatch (-want +got):\n%s", diff)
	}
}

func TestSimFailAfter(t *testing.T) {
	s, h, _ := openSim(t, SimOptions{FailAfter: 2})
	for i := 0; i < 2; i++ {
		if _, _, err := s.Poll(h); err != nil {
			t.Fatalf("poll %d failed early: %v", i, err)
		}
	}
	_, _, err := s.Poll(h)
	var de *acquisition.DriverError
	if !errors.As(err, &de) {
		t.Errorf("expected a DriverError got %v", err)
	}
}

func TestSimHandles(t *testing.T) {
	s := NewSim(SimOptions{Devices: 2})
	devs, _ := s.Enumerate()
	if len(devs) != 2 || devs[1].Type != TypeDemo || devs[1].Index != 1 {
		t.Fatalf("unexpected enumeration %+v", devs)
	}
	h, err := s.Open(1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(1); err == nil {
		t.Error("opened a busy device")
	}
	if _, err := s.Open(2); err == nil {
		t.Error("opened a device that does not exist")
	}
	info, err := s.Info(h)
	if err != nil || info.SerialNumber != devs[1].SerialNumber || info.ADCBits != AD2Bits {
		t.Errorf("unexpected info %+v, %v", info, err)
	}
	if err := s.Close(h); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Poll(h); !errors.Is(err, acquisition.ErrInvalidHandle) {
		t.Errorf("poll after close: expected ErrInvalidHandle got %v", err)
	}
	if err := s.Close(h); !errors.Is(err, acquisition.ErrInvalidHandle) {
		t.Errorf("double close: expected ErrInvalidHandle got %v", err)
	}
}

func TestSimRejectsMissingChannel(t *testing.T) {
	s := NewSim(SimOptions{})
	h, _ := s.Open(0)
	cfg := simConfig
	cfg.Channel = 4
	if err := s.Configure(h, cfg); err == nil {
		t.Error("configured a channel that does not exist")
	}
}

func TestSerialHelpers(t *testing.T) {
	cases := []struct {
		in, serial, typ string
	}{
		{"SN:210321ABCDEF", "210321ABCDEF", TypeUSB},
		{"SN:DEMO", "DEMO", TypeDemo},
		{" 210321A1B2C3 ", "210321A1B2C3", TypeUSB},
		{"demo0001", "demo0001", TypeDemo},
	}
	for _, c := range cases {
		if got := CleanSerial(c.in); got != c.serial {
			t.Errorf("CleanSerial(%q) = %q, want %q", c.in, got, c.serial)
		}
		if got := DeviceType(c.in); got != c.typ {
			t.Errorf("DeviceType(%q) = %q, want %q", c.in, got, c.typ)
		}
	}
}

func TestSimDrivesWorker(t *testing.T) {
	s := NewSim(SimOptions{})
	r := acquisition.NewRouter(64, 4)
	defer r.Close()
	g := &acquisition.Gate{}
	g.Open(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := acquisition.Start(ctx, acquisition.WorkerOptions{
		Driver:     s,
		Config:     simConfig,
		Router:     r,
		Accounting: &acquisition.Accounting{},
		Gate:       g,
		IdleSleep:  time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	select {
	case b := <-r.Capture():
		if len(b.Values) == 0 || b.Segment != 1 {
			t.Errorf("unexpected first batch: %d values, segment %d", len(b.Values), b.Segment)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no batch from the simulator")
	}
}
