package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"regwatch/internal/event"
	"regwatch/internal/logging"
	"regwatch/internal/regkey"

	"go.uber.org/multierr"
)

const hubBusName = "registry_events"

var (
	ErrHubClosed  = errors.New("watch hub is closed")
	ErrNotWatched = errors.New("key is not watched")
)

// WatchStatus describes one watcher owned by a Hub.
type WatchStatus struct {
	Key      string      `json:"key"`
	Hive     regkey.Hive `json:"hive"`
	Path     string      `json:"path"`
	State    State       `json:"state"`
	Counters Counters    `json:"counters"`
	Error    string      `json:"error,omitempty"`
}

type hubWatch struct {
	watcher *Watcher
	forward Handle
}

// Hub runs one Watcher per target and publishes their events on a shared
// bus. Watchers share the Options the hub was created with.
type Hub struct {
	options       Options
	logger        *logging.Logger
	mutex         sync.Mutex
	watches       map[string]*hubWatch
	pending       map[string]chan struct{}
	subscriptions map[string]func()
	nextID        uint64
	closed        bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	closeErr      error
	bus           *event.Bus[Event]
}

// NewHub creates a Hub tied to ctx; cancelling ctx closes it.
func NewHub(ctx context.Context, options Options) *Hub {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
		options.Logger = logger
	}
	derived, cancel := context.WithCancel(ctx)
	hub := &Hub{
		options:       options,
		logger:        logger.Named("hub"),
		watches:       make(map[string]*hubWatch),
		pending:       make(map[string]chan struct{}),
		subscriptions: make(map[string]func()),
		ctx:           derived,
		cancel:        cancel,
		bus: event.NewBus[Event](derived, event.BusOptions{
			Name:        hubBusName,
			HistorySize: 64,
			Registry:    options.Registry,
			Logger:      logger,
		}),
	}
	go func() {
		<-derived.Done()
		_ = hub.Close()
	}()
	return hub
}

// Bus exposes the bus every watcher event is published on.
func (hub *Hub) Bus() *event.Bus[Event] {
	if hub == nil {
		return nil
	}
	return hub.bus
}

// Watch opens and starts a watcher for target. Watching a target twice is a
// no-op. A call that finds target still being opened by another call waits
// for that open to finish.
func (hub *Hub) Watch(target regkey.Target) error {
	if hub == nil {
		return errors.New("watch hub is nil")
	}
	target = regkey.NewTarget(target.Hive, target.Path)
	key := target.String()

	ready, err := hub.reserve(key)
	if err != nil || ready == nil {
		return err
	}
	defer func() {
		hub.mutex.Lock()
		if hub.pending[key] == ready {
			delete(hub.pending, key)
		}
		hub.mutex.Unlock()
		close(ready)
	}()

	w, forward, err := hub.open(target)
	if err != nil {
		hub.mutex.Lock()
		if entry, ok := hub.watches[key]; ok && entry == nil && hub.pending[key] == ready {
			delete(hub.watches, key)
		}
		hub.mutex.Unlock()
		return err
	}

	hub.mutex.Lock()
	// An Unwatch while opening drops the reservation; a later Watch may
	// have reserved key again since.
	_, reserved := hub.watches[key]
	closed := hub.closed
	if closed || !reserved || hub.pending[key] != ready {
		hub.mutex.Unlock()
		_ = w.Close()
		if closed {
			return ErrHubClosed
		}
		return nil
	}
	hub.watches[key] = &hubWatch{watcher: w, forward: forward}
	hub.mutex.Unlock()

	w.Start()
	hub.logger.Info("watching registry key", map[string]string{"target": key})
	return nil
}

// reserve claims key for the caller and returns the channel to close once
// the open finishes. It returns nil when key is already watched.
func (hub *Hub) reserve(key string) (chan struct{}, error) {
	for {
		hub.mutex.Lock()
		if hub.closed {
			hub.mutex.Unlock()
			return nil, ErrHubClosed
		}
		entry, ok := hub.watches[key]
		if !ok {
			ready := make(chan struct{})
			hub.watches[key] = nil
			hub.pending[key] = ready
			hub.mutex.Unlock()
			return ready, nil
		}
		opening := hub.pending[key]
		hub.mutex.Unlock()

		if entry != nil || opening == nil {
			return nil, nil
		}
		select {
		case <-opening:
		case <-hub.ctx.Done():
			return nil, ErrHubClosed
		}
	}
}

func (hub *Hub) open(target regkey.Target) (*Watcher, Handle, error) {
	w, err := NewWithOptions(target, hub.options)
	if err != nil {
		return nil, nil, err
	}
	forward, err := WatchKey(hub.bus, w)
	if err != nil {
		_ = w.Close()
		return nil, nil, err
	}
	return w, forward, nil
}

// Unwatch disposes the watcher for target.
func (hub *Hub) Unwatch(target regkey.Target) error {
	if hub == nil {
		return nil
	}
	target = regkey.NewTarget(target.Hive, target.Path)
	key := target.String()

	hub.mutex.Lock()
	entry, ok := hub.watches[key]
	delete(hub.watches, key)
	hub.mutex.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotWatched, key)
	}
	if entry == nil {
		return nil
	}
	hub.logger.Info("stopped watching registry key", map[string]string{"target": key})
	return entry.close()
}

// Sync makes the watched set equal to targets. Failures are collected; the
// remaining targets are still reconciled.
func (hub *Hub) Sync(targets []regkey.Target) error {
	if hub == nil {
		return errors.New("watch hub is nil")
	}
	wanted := make(map[string]regkey.Target, len(targets))
	for _, target := range targets {
		target = regkey.NewTarget(target.Hive, target.Path)
		wanted[target.String()] = target
	}

	hub.mutex.Lock()
	var stale []regkey.Target
	for key, entry := range hub.watches {
		if _, ok := wanted[key]; ok || entry == nil {
			continue
		}
		stale = append(stale, entry.watcher.Target())
	}
	hub.mutex.Unlock()

	var errs error
	for _, target := range stale {
		if err := hub.Unwatch(target); err != nil && !errors.Is(err, ErrNotWatched) {
			errs = multierr.Append(errs, err)
		}
	}
	for _, target := range wanted {
		errs = multierr.Append(errs, hub.Watch(target))
	}
	return errs
}

// Snapshot lists the owned watchers ordered by key.
func (hub *Hub) Snapshot() []WatchStatus {
	if hub == nil {
		return nil
	}
	hub.mutex.Lock()
	watchers := make([]*Watcher, 0, len(hub.watches))
	for _, entry := range hub.watches {
		if entry != nil {
			watchers = append(watchers, entry.watcher)
		}
	}
	hub.mutex.Unlock()

	statuses := make([]WatchStatus, 0, len(watchers))
	for _, w := range watchers {
		target := w.Target()
		status := WatchStatus{
			Key:      target.String(),
			Hive:     target.Hive,
			Path:     target.Path,
			State:    w.State(),
			Counters: w.Metrics(),
		}
		if err := w.Err(); err != nil {
			status.Error = err.Error()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Key < statuses[j].Key
	})
	return statuses
}

// Len reports how many targets are watched.
func (hub *Hub) Len() int {
	if hub == nil {
		return 0
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return len(hub.watches)
}

// Subscribe registers a listener for an event type and returns its id.
func (hub *Hub) Subscribe(eventType string, listener func(Event)) string {
	if hub == nil || hub.bus == nil || eventType == "" || listener == nil {
		return ""
	}

	events, cancel := hub.bus.SubscribeTypes(eventType)

	hub.mutex.Lock()
	hub.nextID++
	id := strconv.FormatUint(hub.nextID, 10)
	hub.subscriptions[id] = cancel
	hub.mutex.Unlock()

	go func() {
		for event := range events {
			listener(event)
		}
	}()

	return id
}

// Unsubscribe removes a subscription by id.
func (hub *Hub) Unsubscribe(id string) {
	if hub == nil || id == "" {
		return
	}

	hub.mutex.Lock()
	cancel, ok := hub.subscriptions[id]
	delete(hub.subscriptions, id)
	hub.mutex.Unlock()

	if ok && cancel != nil {
		cancel()
	}
}

// SubscriberCount reports the number of active subscriptions.
func (hub *Hub) SubscriberCount() int {
	if hub == nil {
		return 0
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return len(hub.subscriptions)
}

// Close disposes every watcher and closes the bus.
func (hub *Hub) Close() error {
	if hub == nil {
		return nil
	}

	hub.closeOnce.Do(func() {
		hub.mutex.Lock()
		hub.closed = true
		watches := hub.watches
		hub.watches = make(map[string]*hubWatch)
		subscriptions := hub.subscriptions
		hub.subscriptions = make(map[string]func())
		hub.mutex.Unlock()

		var errs error
		for _, entry := range watches {
			if entry != nil {
				errs = multierr.Append(errs, entry.close())
			}
		}
		for _, cancel := range subscriptions {
			if cancel != nil {
				cancel()
			}
		}
		if hub.cancel != nil {
			hub.cancel()
		}
		if hub.bus != nil {
			hub.bus.Close()
		}
		hub.closeErr = errs
	})
	return hub.closeErr
}

func (entry *hubWatch) close() error {
	return multierr.Combine(entry.forward.Close(), entry.watcher.Close())
}
