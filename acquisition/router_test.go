package acquisition

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSendPreviewDropsOldest(t *testing.T) {
	r := NewRouter(1, 2)
	for i := uint64(1); i <= 5; i++ {
		r.SendPreview(SampleBatch{Seq: i})
	}
	if got := r.PreviewDropped(); got != 3 {
		t.Errorf("expected 3 dropped got %d", got)
	}
	a, b := <-r.Preview(), <-r.Preview()
	if a.Seq != 4 || b.Seq != 5 {
		t.Errorf("expected the newest batches 4 and 5, got %d and %d", a.Seq, b.Seq)
	}
}

func TestSendCaptureTimesOut(t *testing.T) {
	r := NewRouter(1, 1)
	ctx := context.Background()
	if err := r.SendCapture(ctx, SampleBatch{Seq: 1}, time.Millisecond); err != nil {
		t.Fatalf("first send should not block: %v", err)
	}
	err := r.SendCapture(ctx, SampleBatch{Seq: 2}, 10*time.Millisecond)
	if !errors.Is(err, ErrCaptureBackpressure) {
		t.Errorf("expected ErrCaptureBackpressure got %v", err)
	}
	if b := <-r.Capture(); b.Seq != 1 {
		t.Errorf("expected the first batch to survive, got %d", b.Seq)
	}
}

func TestSendCaptureBlocksUntilReceived(t *testing.T) {
	r := NewRouter(1, 1)
	ctx := context.Background()
	r.SendCapture(ctx, SampleBatch{Seq: 1}, 0)
	go func() {
		time.Sleep(5 * time.Millisecond)
		<-r.Capture()
	}()
	if err := r.SendCapture(ctx, SampleBatch{Seq: 2}, time.Second); err != nil {
		t.Errorf("expected send to complete once the consumer read, got %v", err)
	}
}

func TestSendCaptureCancelled(t *testing.T) {
	r := NewRouter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	r.SendCapture(ctx, SampleBatch{}, 0)
	cancel()
	if err := r.SendCapture(ctx, SampleBatch{}, -1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled got %v", err)
	}
}

func TestEventsArriveInOrder(t *testing.T) {
	r := NewRouter(1, 1)
	defer r.Close()
	for i := uint64(0); i < 100; i++ {
		r.Emit(Event{Kind: StateChanged, Segment: i})
	}
	for i := uint64(0); i < 100; i++ {
		select {
		case e := <-r.Events():
			if e.Segment != i {
				t.Fatalf("expected event %d got %d", i, e.Segment)
			}
			if e.Time.IsZero() {
				t.Fatal("event was not timestamped")
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out at event %d", i)
		}
	}
}

func TestCloseEndsEvents(t *testing.T) {
	r := NewRouter(1, 1)
	r.Close()
	r.Close()
	select {
	case _, ok := <-r.Events():
		if ok {
			t.Error("expected closed events channel")
		}
	case <-time.After(time.Second):
		t.Error("events channel not closed")
	}
	r.Emit(Event{})
}
