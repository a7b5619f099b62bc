package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockHandler struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (h *mockHandler) Handle(ctx context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func (h *mockHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestEventBus_Subscribe(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	handler := &mockHandler{}
	eb.Subscribe("task_created", handler)

	if !eb.HasSubscribers("task_created") {
		t.Fatal("Expected handlers for task_created, but none found")
	}
	if eb.HasSubscribers("state_changed") {
		t.Fatal("Expected no handlers for state_changed")
	}
}

func TestEventBus_Publish(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	handler := &mockHandler{}
	eb.Subscribe("state_changed", handler)

	err := eb.Publish(context.Background(), Event{
		Type:       "state_changed",
		InstanceID: 1,
		Data:       map[string]interface{}{"state": "Review"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// Async delivery; give the processor a moment.
	deadline := time.Now().Add(2 * time.Second)
	for handler.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if handler.count() != 1 {
		t.Fatalf("Expected 1 delivered event, got %d", handler.count())
	}
}

func TestEventBus_PublishNoHandler(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	err := eb.Publish(context.Background(), Event{Type: "nobody_listens"})
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("Expected ErrNoHandler, got %v", err)
	}
}

func TestEventBus_PublishAfterStop(t *testing.T) {
	eb := NewEventBus()
	eb.SubscribeFunc("x", func(ctx context.Context, event Event) error { return nil })
	eb.Stop()

	err := eb.Publish(context.Background(), Event{Type: "x"})
	if !errors.Is(err, ErrBusClosed) {
		t.Fatalf("Expected ErrBusClosed, got %v", err)
	}
}

func TestEventBus_PublishCanceledContext(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()
	eb.SubscribeFunc("x", func(ctx context.Context, event Event) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eb.Publish(ctx, Event{Type: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestEventBus_PublishSync(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	ok := &mockHandler{}
	failing := &mockHandler{err: errors.New("handler failed")}
	eb.Subscribe("task_completed", ok)
	eb.Subscribe("task_completed", failing)

	errs := eb.PublishSync(context.Background(), Event{Type: "task_completed", InstanceID: 2, TaskID: 7})
	if len(errs) != 1 {
		t.Fatalf("Expected 1 handler error, got %d: %v", len(errs), errs)
	}
	if ok.count() != 1 || failing.count() != 1 {
		t.Fatalf("Expected both handlers invoked, got %d and %d", ok.count(), failing.count())
	}
}

func TestEventBus_ErrorHandler(t *testing.T) {
	var mu sync.Mutex
	var reported []error

	eb := NewEventBus(WithErrorHandler(func(event Event, err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	}))
	defer eb.Stop()

	eb.Subscribe("side_effect", &mockHandler{err: errors.New("notification failed")})

	if err := eb.Publish(context.Background(), Event{Type: "side_effect", InstanceID: 3}); err != nil {
		t.Fatalf("Expected no publish error, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(reported)
		mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Expected handler failure to reach the error handler")
}

func TestEventBus_WithBufferSize(t *testing.T) {
	eb := NewEventBus(WithBufferSize(1))
	defer eb.Stop()

	block := make(chan struct{})
	eb.SubscribeFunc("slow", func(ctx context.Context, event Event) error {
		<-block
		return nil
	})

	// Fill the processor plus the single buffer slot; the next publish
	// must fail fast instead of blocking.
	sawFull := false
	for i := 0; i < 10; i++ {
		if err := eb.Publish(context.Background(), Event{Type: "slow"}); errors.Is(err, ErrChannelFull) {
			sawFull = true
			break
		}
	}
	close(block)
	if !sawFull {
		t.Fatal("Expected ErrChannelFull once the buffer filled")
	}
}
