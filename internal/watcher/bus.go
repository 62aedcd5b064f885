package watcher

import (
	"errors"

	"regwatch/internal/event"
)

// WatchKey republishes every event of w on bus. Closing the handle stops
// the forwarding but leaves w running.
func WatchKey(bus *event.Bus[Event], w *Watcher) (Handle, error) {
	if bus == nil {
		return nil, errors.New("event bus is nil")
	}
	if w == nil {
		return nil, errors.New("watcher is nil")
	}
	return w.Subscribe(bus.Publish)
}
