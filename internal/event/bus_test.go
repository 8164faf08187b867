package event

import (
	"context"
	"testing"
	"time"

	"watchcache/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type testEvent struct {
	kind string
	at   time.Time
}

func (e testEvent) Type() string         { return e.kind }
func (e testEvent) Timestamp() time.Time { return e.at }

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(42)

	select {
	case got := <-ch:
		if got != 42 {
			t.Fatalf("expected 42, got %d", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusFilteredSubscription(t *testing.T) {
	bus := NewBus[testEvent](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	ch, cancel := bus.SubscribeFiltered(func(e testEvent) bool {
		return e.Type() == "entry_reloaded"
	})
	defer cancel()

	bus.Publish(testEvent{kind: "binding_changed"})
	bus.Publish(testEvent{kind: "entry_reloaded"})

	select {
	case got := <-ch:
		if got.Type() != "entry_reloaded" {
			t.Fatalf("expected entry_reloaded, got %q", got.Type())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected extra event %q", got.Type())
	default:
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	ch, _ := bus.Subscribe()

	bus.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after bus close")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}

	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("expected subscription on closed bus to be closed")
	}
}

func TestBusContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus[int](ctx, BusOptions{})
	ch, _ := bus.Subscribe()

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after context cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for context close")
	}
}

func TestBusDropOnFull(t *testing.T) {
	registry := metrics.NewRegistry(prometheus.NewRegistry())
	bus := NewBus[string](context.Background(), BusOptions{
		Name:                 "drop",
		SubscriberBufferSize: 1,
		Registry:             registry,
	})
	t.Cleanup(bus.Close)

	_, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish("first")

	done := make(chan struct{})
	go func() {
		bus.Publish("second")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publish blocked on full subscriber")
	}

	published, dropped := bus.Stats()
	if published != 2 || dropped != 1 {
		t.Fatalf("expected 2 published and 1 dropped, got %d and %d", published, dropped)
	}
}

func TestBusHistory(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{HistorySize: 2})
	t.Cleanup(bus.Close)

	bus.Publish(1)
	bus.Publish(2)
	bus.Publish(3)

	history := bus.History()
	if len(history) != 2 || history[0] != 2 || history[1] != 3 {
		t.Fatalf("expected history [2 3], got %v", history)
	}
}

func TestBusSkipsNilEvents(t *testing.T) {
	bus := NewBus[*int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	bus.Publish(nil)

	if published, _ := bus.Stats(); published != 0 {
		t.Fatalf("expected nil event to be skipped, got %d published", published)
	}
}
