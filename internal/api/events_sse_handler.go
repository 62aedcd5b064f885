package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"regwatch/internal/config"
	eventtypes "regwatch/internal/event"
	"regwatch/internal/logging"
	"regwatch/internal/watcher"

	"golang.org/x/time/rate"
)

// EventsSSEHandler streams registry and config events as server-sent events.
// The optional types query parameter (comma separated, repeatable) narrows
// the stream.
type EventsSSEHandler struct {
	Bus       *eventtypes.Bus[watcher.Event]
	Logger    *logging.Logger
	AuthToken string
	RateLimit rate.Limit
	Burst     int
}

type sseEventEnvelope struct {
	EventType string
	Payload   any
}

type configEventPayload struct {
	Type      string    `json:"type"`
	Path      string    `json:"path"`
	Keys      int       `json:"keys"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// sseTypeFilter is fixed for the life of a request, so it needs no lock. A
// nil filter allows everything.
type sseTypeFilter map[string]struct{}

func newSSETypeFilter(values []string) sseTypeFilter {
	var filter sseTypeFilter
	for _, value := range values {
		for _, entry := range strings.Split(value, ",") {
			if entry = strings.TrimSpace(entry); entry == "" {
				continue
			}
			if filter == nil {
				filter = make(sseTypeFilter)
			}
			filter[entry] = struct{}{}
		}
	}
	return filter
}

func (filter sseTypeFilter) Allows(eventType string) bool {
	if filter == nil {
		return true
	}
	_, ok := filter[eventType]
	return ok
}

func (h *EventsSSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireSSEToken(w, r, h.AuthToken, h.Logger) {
		return
	}
	if h.Bus == nil {
		writeSSEUnavailable(w, r, h.Logger, http.StatusInternalServerError, "event bus unavailable")
		return
	}

	writer, err := startSSEWriter(w)
	if err != nil {
		logSSEError(h.Logger, r, sseError{Status: http.StatusInternalServerError, Message: "event stream unavailable", Err: err})
		return
	}

	types := newSSETypeFilter(r.URL.Query()["types"])
	limiter := newEventLimiter(h.RateLimit, h.Burst)

	registryEvents, cancelRegistry := h.Bus.SubscribeFiltered(func(event watcher.Event) bool {
		return isRegistryEvent(event) && types.Allows(event.Type()) && limiter.Allow()
	})
	defer cancelRegistry()
	configEvents, cancelConfig := config.Bus().SubscribeFiltered(func(event eventtypes.ConfigEvent) bool {
		return types.Allows(event.Type())
	})
	defer cancelConfig()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	runSSEStream(r.WithContext(ctx), writer, sseStreamConfig[sseEventEnvelope]{
		Logger: h.Logger,
		Output: mergeSSEEvents(ctx, registryEvents, configEvents),
		EventNameFor: func(event sseEventEnvelope) string {
			return event.EventType
		},
		BuildPayload: func(event sseEventEnvelope) (any, bool) {
			return event.Payload, event.Payload != nil
		},
	})
}

// mergeSSEEvents interleaves both subscriptions into one envelope stream. The
// result closes once ctx ends or both inputs have closed.
func mergeSSEEvents(ctx context.Context, registryEvents <-chan watcher.Event, configEvents <-chan eventtypes.ConfigEvent) <-chan sseEventEnvelope {
	output := make(chan sseEventEnvelope)
	go func() {
		defer close(output)
		for registryEvents != nil || configEvents != nil {
			var envelope sseEventEnvelope
			select {
			case <-ctx.Done():
				return
			case event, ok := <-registryEvents:
				if !ok {
					registryEvents = nil
					continue
				}
				payload := newEventPayload(event)
				envelope = sseEventEnvelope{EventType: payload.Type, Payload: payload}
			case event, ok := <-configEvents:
				if !ok {
					configEvents = nil
					continue
				}
				payload := newConfigEventPayload(event)
				envelope = sseEventEnvelope{EventType: payload.Type, Payload: payload}
			}
			select {
			case <-ctx.Done():
				return
			case output <- envelope:
			}
		}
	}()
	return output
}

func newConfigEventPayload(event eventtypes.ConfigEvent) configEventPayload {
	payload := configEventPayload{
		Type:      event.Type(),
		Path:      event.Path,
		Keys:      event.Keys,
		Error:     event.Err,
		Timestamp: event.Timestamp(),
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	return payload
}
