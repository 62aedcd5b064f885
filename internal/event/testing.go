package event

import (
	"sync"
	"testing"
	"time"
)

// EventCollector stores events received from callbacks or subscriptions.
type EventCollector[T any] struct {
	mu      sync.Mutex
	events  []T
	arrived chan struct{}
}

func NewEventCollector[T any]() *EventCollector[T] {
	return &EventCollector[T]{arrived: make(chan struct{}, 1)}
}

func (collector *EventCollector[T]) Collect(event T) {
	if collector == nil {
		return
	}
	collector.mu.Lock()
	collector.events = append(collector.events, event)
	collector.mu.Unlock()
	select {
	case collector.arrived <- struct{}{}:
	default:
	}
}

func (collector *EventCollector[T]) Events() []T {
	if collector == nil {
		return nil
	}
	collector.mu.Lock()
	defer collector.mu.Unlock()
	copyEvents := make([]T, len(collector.events))
	copy(copyEvents, collector.events)
	return copyEvents
}

func (collector *EventCollector[T]) Len() int {
	if collector == nil {
		return 0
	}
	collector.mu.Lock()
	defer collector.mu.Unlock()
	return len(collector.events)
}

// WaitForCount blocks until at least count events were collected or timeout
// elapses, and reports whether the count was reached.
func (collector *EventCollector[T]) WaitForCount(count int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if collector.Len() >= count {
			return true
		}
		select {
		case <-collector.arrived:
		case <-deadline.C:
			return collector.Len() >= count
		}
	}
}

// ReceiveWithTimeout waits for a single event or fails the test.
func ReceiveWithTimeout[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return event
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event after %s", timeout)
	}
	var zero T
	return zero
}

// ExpectNoEvent fails the test if ch yields an event within wait.
func ExpectNoEvent[T any](t *testing.T, ch <-chan T, wait time.Duration) {
	t.Helper()
	select {
	case event, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(wait):
	}
}
