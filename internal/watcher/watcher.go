package watcher

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"regwatch/internal/logging"
	"regwatch/internal/metrics"
	"regwatch/internal/regkey"

	"github.com/benbjohnson/clock"
)

// Watcher watches one registry key and its subtree.
type Watcher struct {
	target   regkey.Target
	key      regkey.Key
	options  Options
	logger   *logging.Logger
	registry *metrics.Registry
	clock    clock.Clock

	state    atomic.Int32
	disposed atomic.Bool
	run      atomic.Pointer[loopRun]
	failure  atomic.Pointer[error]

	dispatcher dispatcher
	counters   counters
}

// loopRun is one Started period. done closes when its goroutine returns.
// dispatching is set while the loop goroutine is running subscriber callbacks.
type loopRun struct {
	done        chan struct{}
	stop        chan struct{}
	stopOnce    sync.Once
	dispatching atomic.Bool
}

func newLoopRun() *loopRun {
	return &loopRun{
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
}

func (run *loopRun) halt() {
	run.stopOnce.Do(func() { close(run.stop) })
}

type counters struct {
	changes         atomic.Int64
	arms            atomic.Int64
	waitTimeouts    atomic.Int64
	transientErrors atomic.Int64
	callbackPanics  atomic.Int64
	joinTimeouts    atomic.Int64
}

// New opens hive\path with the default options.
func New(hive regkey.Hive, path string) (*Watcher, error) {
	return NewWithOptions(regkey.NewTarget(hive, path), Options{})
}

// NewWithOptions opens target and returns a watcher in the created state.
// No goroutine runs until Start. The error is an *regkey.OpenError when the
// key cannot be opened.
func NewWithOptions(target regkey.Target, options Options) (*Watcher, error) {
	target = regkey.NewTarget(target.Hive, target.Path)
	if options.Opener == nil {
		options.Opener = regkey.Open
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	if options.Registry == nil {
		options.Registry = metrics.Default
	}
	if options.WaitTimeout <= 0 {
		options.WaitTimeout = DefaultWaitTimeout
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = DefaultRetryDelay
	}
	if options.JoinTimeout <= 0 {
		options.JoinTimeout = DefaultJoinTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}

	key, err := options.Opener(target)
	if err != nil {
		var openErr *regkey.OpenError
		if !errors.As(err, &openErr) {
			err = &regkey.OpenError{Hive: target.Hive, Path: target.Path, Err: err}
		}
		return nil, err
	}
	if key == nil {
		return nil, &regkey.OpenError{Hive: target.Hive, Path: target.Path, Err: errors.New("opener returned no key")}
	}

	w := &Watcher{
		target:   target,
		key:      key,
		options:  options,
		logger:   logger.Named("watcher").With(map[string]string{"target": target.String()}),
		registry: options.Registry,
		clock:    options.Clock,
	}
	w.state.Store(int32(StateCreated))
	w.registry.MoveWatcherState("", StateCreated.String())
	return w, nil
}

func (w *Watcher) Target() regkey.Target {
	return w.target
}

func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Err returns the error that moved the watcher to StateFailed, or nil.
func (w *Watcher) Err() error {
	if errPtr := w.failure.Load(); errPtr != nil {
		return *errPtr
	}
	return nil
}

func (w *Watcher) Metrics() Counters {
	return Counters{
		Changes:         w.counters.changes.Load(),
		Arms:            w.counters.arms.Load(),
		WaitTimeouts:    w.counters.waitTimeouts.Load(),
		TransientErrors: w.counters.transientErrors.Load(),
		CallbackPanics:  w.counters.callbackPanics.Load(),
		JoinTimeouts:    w.counters.joinTimeouts.Load(),
	}
}

// Start launches the notification loop. It is a no-op unless the watcher is
// created or stopped.
func (w *Watcher) Start() {
	if w.disposed.Load() {
		return
	}
	if !w.transition(StateCreated, StateStarted) && !w.transition(StateStopped, StateStarted) {
		return
	}
	run := newLoopRun()
	previous := w.run.Swap(run)
	w.logger.Debug("watcher started", nil)
	go w.loop(run, previous)
}

// Stop asks the loop to exit without waiting for it. It is a no-op unless the
// watcher is started.
func (w *Watcher) Stop() {
	// Load before the transition so a Start racing in after it keeps its run.
	run := w.run.Load()
	if !w.transition(StateStarted, StateStopped) {
		return
	}
	if run != nil {
		run.halt()
	}
	_ = w.key.Signal()
	w.logger.Debug("watcher stopped", nil)
}

// Close stops the loop, waits up to the join timeout for it to exit and
// releases the key. Only the first call does anything; it is safe to call
// concurrently. Called from a subscriber callback it does not wait, since the
// loop cannot exit until the callback returns.
func (w *Watcher) Close() error {
	if !w.disposed.CompareAndSwap(false, true) {
		return nil
	}
	from := State(w.state.Swap(int32(StateDisposed)))
	w.registry.MoveWatcherState(from.String(), "")

	run := w.run.Load()
	if run != nil {
		run.halt()
	}
	_ = w.key.Signal()
	if run != nil && !run.dispatching.Load() && !w.join(run) {
		w.counters.joinTimeouts.Add(1)
		w.registry.IncJoinTimeout(w.target.String())
		w.logger.Warn("watch loop did not exit before join timeout", map[string]string{
			"timeout": w.options.JoinTimeout.String(),
		})
	}

	err := w.key.Close()
	w.dispatcher.clear()
	if err != nil {
		w.logger.Warn("release registry key failed", map[string]string{"error": err.Error()})
		return err
	}
	w.logger.Debug("watcher disposed", nil)
	return nil
}

func (w *Watcher) join(run *loopRun) bool {
	timer := time.NewTimer(w.options.JoinTimeout)
	defer timer.Stop()
	select {
	case <-run.done:
		return true
	case <-timer.C:
		return false
	}
}

func (w *Watcher) transition(from, to State) bool {
	if !w.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	w.registry.MoveWatcherState(from.String(), to.String())
	return true
}

// running reports whether run is still the active Started period.
func (w *Watcher) running(run *loopRun) bool {
	if w.disposed.Load() || w.run.Load() != run {
		return false
	}
	return w.State() == StateStarted
}
