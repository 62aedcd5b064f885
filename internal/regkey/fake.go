package regkey

import (
	"sync"
	"sync/atomic"
	"time"
)

// FakeKey is an in-memory Key. Change simulates a registry modification:
// it signals the event only while a registration is armed, mirroring the
// one-shot behaviour of the native notification.
type FakeKey struct {
	mu        sync.Mutex
	armed     bool
	armErr    error
	waitErrs  []error
	event     chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once
	arms      atomic.Int64
	closes    atomic.Int64
	calls     atomic.Int64
	missed    atomic.Int64
}

func NewFakeKey() *FakeKey {
	return &FakeKey{
		event:    make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// FakeOpener returns an Opener that hands out key for every target.
func FakeOpener(key *FakeKey) Opener {
	return func(Target) (Key, error) {
		return key, nil
	}
}

// FailingOpener returns an Opener that always fails with an *OpenError
// carrying code.
func FailingOpener(code uint32, err error) Opener {
	return func(target Target) (Key, error) {
		return nil, &OpenError{Hive: target.Hive, Path: target.Path, Code: code, Err: err}
	}
}

// SetArmError makes every subsequent Arm fail with err; nil clears it.
func (k *FakeKey) SetArmError(err error) {
	k.mu.Lock()
	k.armErr = err
	k.mu.Unlock()
}

// QueueWaitErrors makes the next len(errs) blocking Wait calls fail in order.
func (k *FakeKey) QueueWaitErrors(errs ...error) {
	k.mu.Lock()
	k.waitErrs = append(k.waitErrs, errs...)
	k.mu.Unlock()
}

// Change simulates a modification of the key. It reports whether an armed
// registration observed it.
func (k *FakeKey) Change() bool {
	k.mu.Lock()
	armed := k.armed
	k.armed = false
	k.mu.Unlock()
	if !armed || k.isClosed() {
		k.missed.Add(1)
		return false
	}
	k.set()
	return true
}

func (k *FakeKey) Arm() error {
	if k.isClosed() {
		return ErrClosed
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.armErr != nil {
		return k.armErr
	}
	k.armed = true
	k.arms.Add(1)
	return nil
}

func (k *FakeKey) Wait(timeout time.Duration) (WaitResult, error) {
	if k.isClosed() {
		return WaitTimeout, ErrClosed
	}
	// Polls never consume queued errors.
	if timeout <= 0 {
		select {
		case <-k.event:
			return WaitSignaled, nil
		default:
			return WaitTimeout, nil
		}
	}

	k.mu.Lock()
	if len(k.waitErrs) > 0 {
		err := k.waitErrs[0]
		k.waitErrs = k.waitErrs[1:]
		k.mu.Unlock()
		return WaitTimeout, err
	}
	k.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-k.event:
		return WaitSignaled, nil
	case <-timer.C:
		return WaitTimeout, nil
	case <-k.closedCh:
		return WaitTimeout, ErrClosed
	}
}

func (k *FakeKey) Signal() error {
	if k.isClosed() {
		return ErrClosed
	}
	k.set()
	return nil
}

func (k *FakeKey) Close() error {
	k.calls.Add(1)
	k.closeOnce.Do(func() {
		k.closes.Add(1)
		close(k.closedCh)
	})
	return nil
}

// Armed reports whether a registration is outstanding.
func (k *FakeKey) Armed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.armed
}

// Arms returns the number of successful Arm calls.
func (k *FakeKey) Arms() int64 { return k.arms.Load() }

// Closes returns how many times the resources were actually released.
func (k *FakeKey) Closes() int64 { return k.closes.Load() }

// CloseCalls returns how many times Close was called.
func (k *FakeKey) CloseCalls() int64 { return k.calls.Load() }

// Missed returns the number of changes that happened while nothing was armed.
func (k *FakeKey) Missed() int64 { return k.missed.Load() }

func (k *FakeKey) isClosed() bool {
	select {
	case <-k.closedCh:
		return true
	default:
		return false
	}
}

// set behaves like SetEvent on an auto-reset event: at most one pending wake.
func (k *FakeKey) set() {
	select {
	case k.event <- struct{}{}:
	default:
	}
}
