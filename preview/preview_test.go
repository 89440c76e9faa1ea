package preview

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/adscope/acquisition"
)

func ramp(start, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(start + i)
	}
	return out
}

func TestRingKeepsNewest(t *testing.T) {
	r := NewRing(250)
	all := ramp(0, 400)
	for i := 0; i < 400; i += 37 {
		end := i + 37
		if end > 400 {
			end = 400
		}
		r.AppendSlice(all[i:end])
		if r.Len() > r.Cap() {
			t.Fatalf("length %d exceeds capacity %d", r.Len(), r.Cap())
		}
	}
	got := r.Contiguous()
	if len(got) != 250 {
		t.Fatalf("expected 250 values got %d", len(got))
	}
	if diff := cmp.Diff(all[150:400], got); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestRingPartialAndExactFill(t *testing.T) {
	r := NewRing(3)
	if got := r.Contiguous(); len(got) != 0 {
		t.Errorf("expected empty window got %v", got)
	}
	r.AppendSlice([]float64{1, 2})
	if diff := cmp.Diff([]float64{1, 2}, r.Contiguous()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	r.Append(3)
	if diff := cmp.Diff([]float64{1, 2, 3}, r.Contiguous()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	r.Append(4)
	if diff := cmp.Diff([]float64{2, 3, 4}, r.Contiguous()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRingResized(t *testing.T) {
	r := NewRing(5)
	r.AppendSlice(ramp(0, 7))
	small := r.Resized(2)
	if diff := cmp.Diff([]float64{5, 6}, small.Contiguous()); diff != "" {
		t.Errorf("shrink (-want +got):\n%s", diff)
	}
	big := r.Resized(10)
	if diff := cmp.Diff(ramp(2, 5), big.Contiguous()); diff != "" {
		t.Errorf("grow (-want +got):\n%s", diff)
	}
	if big.Cap() != 10 {
		t.Errorf("expected capacity 10 got %d", big.Cap())
	}
}

func TestBufferRun(t *testing.T) {
	b := New(250)
	ch := make(chan acquisition.SampleBatch, 8)
	all := ramp(0, 400)
	for i := 0; i < 4; i++ {
		ch <- acquisition.SampleBatch{Values: all[i*100 : (i+1)*100]}
	}
	close(ch)
	b.Run(context.Background(), ch)

	if diff := cmp.Diff(all[150:], b.Snapshot()); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
	if v, n := b.Appended(); v != 400 || n != 4 {
		t.Errorf("expected 400 values in 4 batches got %d in %d", v, n)
	}
}

func TestBufferReconfigureWithoutConsumer(t *testing.T) {
	b := New(4)
	ch := make(chan acquisition.SampleBatch, 1)
	ch <- acquisition.SampleBatch{Values: ramp(0, 4)}
	close(ch)
	b.Run(context.Background(), ch)

	if err := b.Reconfigure(2); err != nil {
		t.Fatal(err)
	}
	if b.Cap() != 2 {
		t.Errorf("expected capacity 2 got %d", b.Cap())
	}
	if diff := cmp.Diff([]float64{2, 3}, b.Snapshot()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if err := b.Reconfigure(0); err == nil {
		t.Error("expected an error for zero capacity")
	}
}

func TestBufferReconfigureWhileRunning(t *testing.T) {
	b := New(10)
	ch := make(chan acquisition.SampleBatch)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, ch)
		close(done)
	}()
	ch <- acquisition.SampleBatch{Values: ramp(0, 10)}
	if err := b.Reconfigure(3); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for b.Cap() != 3 {
		if time.Now().After(deadline) {
			t.Fatal("resize was not applied by the consumer")
		}
		time.Sleep(time.Millisecond)
	}
	ch <- acquisition.SampleBatch{Values: []float64{100}}
	cancel()
	<-done
	if diff := cmp.Diff([]float64{8, 9, 100}, b.Snapshot()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
