package watcher

import (
	"fmt"
	"strings"
	"time"

	"regwatch/internal/logging"
	"regwatch/internal/metrics"
	"regwatch/internal/regkey"

	"github.com/benbjohnson/clock"
)

const (
	EventTypeKeyChanged  = "key_changed"
	EventTypeWatchFailed = "watch_failed"
)

const (
	DefaultWaitTimeout = time.Second
	DefaultRetryDelay  = 100 * time.Millisecond
	DefaultJoinTimeout = time.Second
)

// Event reports that something below the watched key changed. It carries no
// detail about what changed.
type Event struct {
	EventType  string      `json:"type"`
	Hive       regkey.Hive `json:"hive"`
	Path       string      `json:"path"`
	OccurredAt time.Time   `json:"timestamp"`
	// Error is set on watch_failed events.
	Error string `json:"error,omitempty"`
}

func (e Event) Type() string {
	return e.EventType
}

func (e Event) Timestamp() time.Time {
	return e.OccurredAt
}

// Target returns the key the event was raised for.
func (e Event) Target() regkey.Target {
	return regkey.Target{Hive: e.Hive, Path: e.Path}
}

// Handle releases a subscription or watch registration.
type Handle interface {
	Close() error
}

// State is the lifecycle state of a Watcher.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopped
	// StateFailed means the loop ended because the change registration
	// could not be armed. Err returns the cause.
	StateFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState reads the names produced by State.String, case-insensitively.
func ParseState(value string) (State, error) {
	trimmed := strings.TrimSpace(value)
	for state := StateCreated; state <= StateDisposed; state++ {
		if strings.EqualFold(trimmed, state.String()) {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown watcher state %q", value)
}

// Options controls watcher behavior. Zero values select the defaults.
type Options struct {
	Logger   *logging.Logger
	Registry *metrics.Registry
	// Clock stamps events and paces retries.
	Clock clock.Clock
	// Opener opens the key; regkey.Open when nil.
	Opener      regkey.Opener
	WaitTimeout time.Duration
	RetryDelay  time.Duration
	JoinTimeout time.Duration
	// ReportFailures makes an arm failure visible to subscribers as a
	// watch_failed event and to ErrorHandler. Without it the loop ends
	// silently apart from logging, State and Err.
	ReportFailures bool
	ErrorHandler   func(error)
}

// Counters is a point-in-time copy of a watcher's activity counters.
type Counters struct {
	Changes         int64 `json:"changes"`
	Arms            int64 `json:"arms"`
	WaitTimeouts    int64 `json:"wait_timeouts"`
	TransientErrors int64 `json:"transient_errors"`
	CallbackPanics  int64 `json:"callback_panics"`
	JoinTimeouts    int64 `json:"join_timeouts"`
}
