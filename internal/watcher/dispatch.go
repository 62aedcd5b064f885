package watcher

import (
	"errors"
	"fmt"
	"sync"

	"regwatch/internal/regkey"
)

var ErrNilCallback = errors.New("callback is nil")

type callbackEntry struct {
	id       uint64
	callback func(Event)
}

// dispatcher keeps subscribers in registration order.
type dispatcher struct {
	mutex   sync.Mutex
	entries []callbackEntry
	nextID  uint64
}

type subscription struct {
	once    sync.Once
	id      uint64
	watcher *Watcher
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.watcher.dispatcher.remove(s.id)
	})
	return nil
}

// Subscribe registers callback for every event of this watcher. Callbacks
// run on the loop goroutine; a panic is recovered and logged.
func (w *Watcher) Subscribe(callback func(Event)) (Handle, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	if w.disposed.Load() {
		return nil, regkey.ErrClosed
	}
	id := w.dispatcher.add(callback)
	return &subscription{id: id, watcher: w}, nil
}

// OnChange registers callback for key_changed events only.
func (w *Watcher) OnChange(callback func(hive regkey.Hive, path string)) (Handle, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	return w.Subscribe(func(event Event) {
		if event.EventType == EventTypeKeyChanged {
			callback(event.Hive, event.Path)
		}
	})
}

func (d *dispatcher) add(callback func(Event)) uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.nextID++
	d.entries = append(d.entries, callbackEntry{id: d.nextID, callback: callback})
	return d.nextID
}

func (d *dispatcher) remove(id uint64) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for i, entry := range d.entries {
		if entry.id == id {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return
		}
	}
}

func (d *dispatcher) clear() {
	d.mutex.Lock()
	d.entries = nil
	d.mutex.Unlock()
}

func (d *dispatcher) snapshot() []callbackEntry {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if len(d.entries) == 0 {
		return nil
	}
	entries := make([]callbackEntry, len(d.entries))
	copy(entries, d.entries)
	return entries
}

func (d *dispatcher) dispatch(w *Watcher, event Event) {
	for _, entry := range d.snapshot() {
		w.invoke(entry, event)
	}
}

func (w *Watcher) invoke(entry callbackEntry, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			w.counters.callbackPanics.Add(1)
			w.registry.IncCallbackPanic(w.target.String())
			w.logger.Error("watch callback panicked", map[string]string{
				"event": event.EventType,
				"panic": fmt.Sprint(recovered),
			})
		}
	}()
	entry.callback(event)
}
