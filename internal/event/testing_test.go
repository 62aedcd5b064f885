package event

import (
	"context"
	"testing"
	"time"
)

func TestEventCollectorCollectsEvents(t *testing.T) {
	collector := NewEventCollector[string]()
	go func() {
		collector.Collect("first")
		collector.Collect("second")
	}()

	if !collector.WaitForCount(2, time.Second) {
		t.Fatalf("expected 2 events, got %d", collector.Len())
	}
	events := collector.Events()
	if events[0] != "first" || events[1] != "second" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestEventCollectorWaitForCountTimesOut(t *testing.T) {
	collector := NewEventCollector[int]()
	collector.Collect(1)
	if collector.WaitForCount(2, 20*time.Millisecond) {
		t.Fatal("expected wait to time out")
	}
}

func TestReceiveWithTimeoutReceivesBusEvent(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	ch, cancel := bus.Subscribe()
	defer cancel()
	bus.Publish(7)

	if got := ReceiveWithTimeout(t, ch, time.Second); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	ExpectNoEvent(t, ch, 20*time.Millisecond)
}
