package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"m2mconv/internal/dispatch"
	"m2mconv/internal/logging"
)

func startLoop(t *testing.T) (*dispatch.Loop, context.CancelFunc) {
	t.Helper()
	loop := dispatch.New(logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop, cancel
}

func TestLoopRunsEventsInOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		if !loop.Post(func() { order = append(order, i) }) {
			t.Fatal("Post rejected event on open loop")
		}
	}

	var got []int
	if err := loop.Call(context.Background(), func() error {
		got = append(got, order...)
		return nil
	}); err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 events, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d ran out of order (got %d)", i, v)
		}
	}
}

func TestLoopPostFromInsideEvent(t *testing.T) {
	loop, _ := startLoop(t)

	done := make(chan struct{})
	loop.Post(func() {
		loop.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested event never ran")
	}
}

func TestLoopCallPropagatesError(t *testing.T) {
	loop, _ := startLoop(t)
	want := errors.New("boom")
	if err := loop.Call(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestLoopCloseDrainsAndRejects(t *testing.T) {
	loop := dispatch.New(nil)
	ran := 0
	loop.Post(func() { ran++ })
	loop.Post(func() { ran++ })
	loop.Close()

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if ran != 2 {
		t.Fatalf("expected queued events to drain, ran %d", ran)
	}
	if loop.Post(func() {}) {
		t.Fatal("expected Post to fail after Close")
	}
	if err := loop.Call(context.Background(), func() error { return nil }); !errors.Is(err, dispatch.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestLoopRecoversFromPanickingEvent(t *testing.T) {
	loop, _ := startLoop(t)
	loop.Post(func() { panic("handler bug") })
	if err := loop.Call(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("loop did not survive panic: %v", err)
	}
}
