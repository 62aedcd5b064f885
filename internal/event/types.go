package event

import "time"

// Event is a typed event with an occurrence timestamp. Buses use Type for
// metrics labels and type-filtered subscriptions.
type Event interface {
	Type() string
	Timestamp() time.Time
}

// ConfigEvent reports a configuration file reload.
type ConfigEvent struct {
	EventType  string
	Path       string
	Keys       int
	Err        string
	OccurredAt time.Time
}

const (
	EventTypeConfigReloaded     = "config_reloaded"
	EventTypeConfigReloadFailed = "config_reload_failed"
)

func NewConfigEvent(path string, keys int, err error) ConfigEvent {
	event := ConfigEvent{
		EventType:  EventTypeConfigReloaded,
		Path:       path,
		Keys:       keys,
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		event.EventType = EventTypeConfigReloadFailed
		event.Err = err.Error()
	}
	return event
}

func (e ConfigEvent) Type() string {
	return e.EventType
}

func (e ConfigEvent) Timestamp() time.Time {
	return e.OccurredAt
}
