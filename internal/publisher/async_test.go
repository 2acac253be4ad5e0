package publisher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAsyncPublishDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	send := func(_ context.Context, topic, key string, value []byte, _ Headers) error {
		mu.Lock()
		got = append(got, key)
		mu.Unlock()
		return nil
	}
	a := NewAsync(context.Background(), 32, send)
	defer a.Close()

	for i := 0; i < 20; i++ {
		if err := a.Publish(context.Background(), "t", string(rune('a'+i)), nil, nil); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}
	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 20 {
		t.Fatalf("got %d deliveries, want 20", len(got))
	}
	for i := range got {
		want := string(rune('a' + i))
		if got[i] != want {
			t.Fatalf("order broken at %d: got %q, want %q", i, got[i], want)
		}
	}
}

func TestAsyncPublishDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	send := func(ctx context.Context, _, _ string, _ []byte, _ Headers) error {
		<-block
		return nil
	}
	a := NewAsync(context.Background(), 1, send)
	defer func() { close(block); a.Close() }()

	var drops atomic.Int32
	a.OnDrop(func() { drops.Add(1) })

	// First publish occupies the single worker (blocked on <-block).
	if err := a.Publish(context.Background(), "t", "k1", nil, nil); err != nil {
		t.Fatalf("Publish 1 error: %v", err)
	}
	// Give the worker a moment to pick up job 1.
	time.Sleep(10 * time.Millisecond)
	// Second fills the buffer of size 1.
	if err := a.Publish(context.Background(), "t", "k2", nil, nil); err != nil {
		t.Fatalf("Publish 2 error: %v", err)
	}
	// Third has nowhere to go.
	err := a.Publish(context.Background(), "t", "k3", nil, nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("got %v, want ErrTransient", err)
	}
	if drops.Load() != 1 {
		t.Fatalf("drops = %d, want 1", drops.Load())
	}
}

func TestAsyncPublishAfterCloseFails(t *testing.T) {
	a := NewAsync(context.Background(), 1, func(context.Context, string, string, []byte, Headers) error { return nil })
	if err := a.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	err := a.Publish(context.Background(), "t", "k", nil, nil)
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("got %v, want ErrFatal", err)
	}
}

func TestAsyncOnErrorHookInvokedOnSendFailure(t *testing.T) {
	sendErr := errors.New("boom")
	a := NewAsync(context.Background(), 4, func(context.Context, string, string, []byte, Headers) error { return sendErr })
	defer a.Close()

	errCh := make(chan error, 1)
	a.OnError(func(err error) { errCh <- err })

	if err := a.Publish(context.Background(), "t", "k", nil, nil); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	select {
	case err := <-errCh:
		if err != sendErr {
			t.Fatalf("got %v, want %v", err, sendErr)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnError hook")
	}
}

func TestAsyncCloseIsIdempotent(t *testing.T) {
	a := NewAsync(context.Background(), 1, func(context.Context, string, string, []byte, Headers) error { return nil })
	if err := a.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}
