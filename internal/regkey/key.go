package regkey

import "time"

// WaitResult describes why Wait returned.
type WaitResult int

const (
	WaitTimeout WaitResult = iota
	WaitSignaled
)

func (r WaitResult) String() string {
	switch r {
	case WaitSignaled:
		return "signaled"
	case WaitTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Key is an opened registry key paired with an auto-reset notification event.
//
// Arm registers a single-shot change notification that signals the event;
// it must be called again after every genuine signal. Wait blocks on the event
// for at most timeout. Signal sets the event so a blocked Wait returns early.
// Close releases both resources exactly once; every call after Close returns
// ErrClosed.
type Key interface {
	Arm() error
	Wait(timeout time.Duration) (WaitResult, error)
	Signal() error
	Close() error
}

// Opener opens a Key for a target. Open is the platform implementation.
type Opener func(Target) (Key, error)

// Open opens target with read and change-notify access.
func Open(target Target) (Key, error) {
	if !target.Hive.Valid() {
		return nil, &OpenError{Hive: target.Hive, Path: target.Path, Err: ErrUnknownHive}
	}
	return openNative(target)
}
