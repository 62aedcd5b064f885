package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"regwatch/internal/event"
	"regwatch/internal/logging"
	"regwatch/internal/regkey"
	"regwatch/internal/watcher"

	"golang.org/x/time/rate"
)

const (
	defaultEventsPerSecond = 50
	defaultEventsBurst     = 100
)

// EventsHandler streams registry events to a websocket client. Clients may
// narrow the stream by sending {"subscribe":["key_changed"]}. Events beyond
// the per-connection rate budget are dropped.
type EventsHandler struct {
	Bus            *event.Bus[watcher.Event]
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
	RateLimit      rate.Limit
	Burst          int
}

type eventSubscribeMessage struct {
	Subscribe []string `json:"subscribe"`
}

type eventPayload struct {
	Type      string      `json:"type"`
	Hive      regkey.Hive `json:"hive"`
	Path      string      `json:"path"`
	Key       string      `json:"key"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

var registryEventTypes = map[string]struct{}{
	watcher.EventTypeKeyChanged:  {},
	watcher.EventTypeWatchFailed: {},
}

type eventFilter struct {
	mutex sync.RWMutex
	types map[string]struct{}
}

func newEventFilter(allowed map[string]struct{}) *eventFilter {
	types := make(map[string]struct{}, len(allowed))
	for eventType := range allowed {
		types[eventType] = struct{}{}
	}
	return &eventFilter{types: types}
}

func (filter *eventFilter) Allows(eventType string) bool {
	if filter == nil {
		return true
	}
	filter.mutex.RLock()
	defer filter.mutex.RUnlock()
	_, ok := filter.types[eventType]
	return ok
}

func (filter *eventFilter) Set(subscriptions []string, allowed map[string]struct{}) {
	if filter == nil {
		return
	}
	types := make(map[string]struct{})
	for _, eventType := range subscriptions {
		if _, ok := allowed[eventType]; ok {
			types[eventType] = struct{}{}
		}
	}
	filter.mutex.Lock()
	filter.types = types
	filter.mutex.Unlock()
}

func newEventLimiter(limit rate.Limit, burst int) *rate.Limiter {
	if limit <= 0 {
		limit = defaultEventsPerSecond
	}
	if burst <= 0 {
		burst = defaultEventsBurst
	}
	return rate.NewLimiter(limit, burst)
}

func newEventPayload(event watcher.Event) eventPayload {
	payload := eventPayload{
		Type:      event.Type(),
		Hive:      event.Hive,
		Path:      event.Path,
		Key:       event.Target().String(),
		Timestamp: event.Timestamp(),
		Error:     event.Error,
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	return payload
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, ok := acceptWebSocket(w, r, h.AuthToken, h.AllowedOrigins, h.Logger)
	if !ok {
		return
	}
	defer conn.Close()

	if h.Bus == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "event bus unavailable",
			SendEnvelope: true,
		})
		return
	}

	filter := newEventFilter(registryEventTypes)
	limiter := newEventLimiter(h.RateLimit, h.Burst)
	events, cancel := h.Bus.SubscribeFiltered(isRegistryEvent)
	defer cancel()

	stream, err := startWSWriteLoop(w, r, wsStreamConfig[watcher.Event]{
		Conn:   conn,
		Output: events,
		Logger: h.Logger,
		BuildPayload: func(event watcher.Event) (any, bool) {
			// Filter before spending rate budget on an event the client
			// does not want.
			if !filter.Allows(event.Type()) || !limiter.Allow() {
				return nil, false
			}
			return newEventPayload(event), true
		},
	})
	if err != nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "event stream unavailable",
			Err:          err,
			SendEnvelope: true,
		})
		return
	}
	defer stream.Stop()

	readWSText(conn, func(message []byte) {
		var request eventSubscribeMessage
		if json.Unmarshal(message, &request) == nil {
			filter.Set(request.Subscribe, registryEventTypes)
		}
	})
}

func isRegistryEvent(event watcher.Event) bool {
	_, ok := registryEventTypes[event.Type()]
	return ok
}
