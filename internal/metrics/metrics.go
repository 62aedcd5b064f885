package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "regwatch"

// Registry groups the collectors used by watchers, the event bus and the
// daemon. All methods are safe on a nil receiver.
type Registry struct {
	registry *prometheus.Registry

	changes         *prometheus.CounterVec
	arms            *prometheus.CounterVec
	waitTimeouts    *prometheus.CounterVec
	transientErrors *prometheus.CounterVec
	watchFailures   *prometheus.CounterVec
	joinTimeouts    *prometheus.CounterVec
	callbackPanics  *prometheus.CounterVec
	watchers        *prometheus.GaugeVec

	eventsPublished  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	eventSubscribers *prometheus.GaugeVec
}

var Default = NewRegistry()

func NewRegistry() *Registry {
	targetCounter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      name,
			Help:      help,
		}, []string{"target"})
	}

	r := &Registry{
		registry:        prometheus.NewRegistry(),
		changes:         targetCounter("changes_total", "Change notifications dispatched to subscribers"),
		arms:            targetCounter("arms_total", "Change notification registrations issued"),
		waitTimeouts:    targetCounter("wait_timeouts_total", "Bounded waits that returned without a change"),
		transientErrors: targetCounter("transient_errors_total", "Recoverable errors in the notification loop"),
		watchFailures:   targetCounter("failures_total", "Notification loops terminated by an arm failure"),
		joinTimeouts:    targetCounter("join_timeouts_total", "Dispose calls that gave up waiting for the loop"),
		callbackPanics:  targetCounter("callback_panics_total", "Subscriber callbacks that panicked"),
		watchers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "watchers",
			Help:      "Watchers by lifecycle state",
		}, []string{"state"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "published_total",
			Help:      "Events published on a bus",
		}, []string{"bus", "type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber was full",
		}, []string{"bus", "type"}),
		eventSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "subscribers",
			Help:      "Current bus subscribers",
		}, []string{"bus", "kind"}),
	}

	r.registry.MustRegister(
		r.changes,
		r.arms,
		r.waitTimeouts,
		r.transientErrors,
		r.watchFailures,
		r.joinTimeouts,
		r.callbackPanics,
		r.watchers,
		r.eventsPublished,
		r.eventsDropped,
		r.eventSubscribers,
	)
	return r
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

func (r *Registry) IncChange(target string) {
	if r == nil {
		return
	}
	r.changes.WithLabelValues(label(target)).Inc()
}

func (r *Registry) IncArm(target string) {
	if r == nil {
		return
	}
	r.arms.WithLabelValues(label(target)).Inc()
}

func (r *Registry) IncWaitTimeout(target string) {
	if r == nil {
		return
	}
	r.waitTimeouts.WithLabelValues(label(target)).Inc()
}

func (r *Registry) IncTransientError(target string) {
	if r == nil {
		return
	}
	r.transientErrors.WithLabelValues(label(target)).Inc()
}

func (r *Registry) IncWatchFailure(target string) {
	if r == nil {
		return
	}
	r.watchFailures.WithLabelValues(label(target)).Inc()
}

func (r *Registry) IncJoinTimeout(target string) {
	if r == nil {
		return
	}
	r.joinTimeouts.WithLabelValues(label(target)).Inc()
}

func (r *Registry) IncCallbackPanic(target string) {
	if r == nil {
		return
	}
	r.callbackPanics.WithLabelValues(label(target)).Inc()
}

// MoveWatcherState records a lifecycle transition. An empty from means the
// watcher is new; an empty to means it is gone.
func (r *Registry) MoveWatcherState(from, to string) {
	if r == nil {
		return
	}
	if from != "" {
		r.watchers.WithLabelValues(from).Dec()
	}
	if to != "" {
		r.watchers.WithLabelValues(to).Inc()
	}
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	r.eventSubscribers.WithLabelValues(label(bus), "filtered").Set(float64(filtered))
	r.eventSubscribers.WithLabelValues(label(bus), "unfiltered").Set(float64(unfiltered))
}

func label(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
