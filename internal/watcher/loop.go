package watcher

import (
	"errors"
	"fmt"
	"runtime"

	"regwatch/internal/regkey"
)

func (w *Watcher) loop(run *loopRun, previous *loopRun) {
	defer close(run.done)

	if previous != nil {
		<-previous.done
	}

	// The change registration belongs to the thread that armed it.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// A Stop that raced the previous loop may have left the event set.
	if _, err := w.key.Wait(0); errors.Is(err, regkey.ErrClosed) {
		return
	}

	armed := false
	for w.running(run) {
		if !armed {
			if err := w.key.Arm(); err != nil {
				if errors.Is(err, regkey.ErrClosed) {
					return
				}
				w.fail(run, fmt.Errorf("arm change notification for %s: %w", w.target, err))
				return
			}
			armed = true
			w.counters.arms.Add(1)
			w.registry.IncArm(w.target.String())
		}

		result, err := w.key.Wait(w.options.WaitTimeout)
		if err != nil {
			if errors.Is(err, regkey.ErrClosed) {
				return
			}
			w.counters.transientErrors.Add(1)
			w.registry.IncTransientError(w.target.String())
			w.logger.Warn("wait for registry change failed", map[string]string{
				"error": err.Error(),
				"retry": w.options.RetryDelay.String(),
			})
			if !w.pause(run) {
				return
			}
			continue
		}

		if result == regkey.WaitTimeout {
			w.counters.waitTimeouts.Add(1)
			w.registry.IncWaitTimeout(w.target.String())
			continue
		}

		// Signaled: either a change or a control call waking us up.
		if !w.running(run) {
			return
		}
		armed = false
		w.counters.changes.Add(1)
		w.registry.IncChange(w.target.String())
		w.deliver(run, Event{
			EventType:  EventTypeKeyChanged,
			Hive:       w.target.Hive,
			Path:       w.target.Path,
			OccurredAt: w.clock.Now().UTC(),
		})
	}
}

// deliver runs the subscribers on the loop goroutine with run marked as
// dispatching, which lets a Close issued from a callback skip the join.
func (w *Watcher) deliver(run *loopRun, event Event) {
	run.dispatching.Store(true)
	defer run.dispatching.Store(false)
	w.dispatcher.dispatch(w, event)
}

// pause sleeps for the retry delay and reports whether the loop should go on.
func (w *Watcher) pause(run *loopRun) bool {
	timer := w.clock.Timer(w.options.RetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return w.running(run)
	case <-run.stop:
		return false
	}
}

func (w *Watcher) fail(run *loopRun, err error) {
	if !w.running(run) || !w.transition(StateStarted, StateFailed) {
		return
	}
	w.failure.Store(&err)
	w.registry.IncWatchFailure(w.target.String())
	w.logger.Error("watch loop terminated", map[string]string{"error": err.Error()})

	if !w.options.ReportFailures {
		return
	}
	if handler := w.options.ErrorHandler; handler != nil {
		run.dispatching.Store(true)
		handler(err)
		run.dispatching.Store(false)
	}
	w.deliver(run, Event{
		EventType:  EventTypeWatchFailed,
		Hive:       w.target.Hive,
		Path:       w.target.Path,
		OccurredAt: w.clock.Now().UTC(),
		Error:      err.Error(),
	})
}
