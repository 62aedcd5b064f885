package api

import (
	"net/http"
	"time"

	"regwatch/internal/logging"
	"regwatch/internal/metrics"
	"regwatch/internal/watcher"

	"golang.org/x/time/rate"
)

// RouteConfig wires the daemon's HTTP surface.
type RouteConfig struct {
	Hub            *watcher.Hub
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	AuthToken      string
	AllowedOrigins []string
	// EventRate and EventBurst bound delivery per streaming client.
	EventRate  float64
	EventBurst int
	StartedAt  time.Time
}

func RegisterRoutes(mux *http.ServeMux, cfg RouteConfig) {
	logger := cfg.Logger
	registry := cfg.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	rest := &RestHandler{
		Hub:       cfg.Hub,
		Logger:    logger,
		StartedAt: startedAt,
	}
	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(logger, handler)
	}

	mux.Handle("/api/status", wrap(restHandler(cfg.AuthToken, rest.handleStatus)))
	mux.Handle("/api/watches", wrap(restHandler(cfg.AuthToken, rest.handleWatches)))
	mux.Handle("/api/logs", wrap(restHandler(cfg.AuthToken, rest.handleLogs)))

	var bus = cfg.Hub.Bus()
	mux.Handle("/ws/events", securityHeadersMiddleware(cacheControlNoStore, &EventsHandler{
		Bus:            bus,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      rate.Limit(cfg.EventRate),
		Burst:          cfg.EventBurst,
	}))
	mux.Handle("/api/events/stream", securityHeadersMiddleware(cacheControlNoStore, &EventsSSEHandler{
		Bus:       bus,
		Logger:    logger,
		AuthToken: cfg.AuthToken,
		RateLimit: rate.Limit(cfg.EventRate),
		Burst:     cfg.EventBurst,
	}))
	mux.Handle("/ws/logs", securityHeadersMiddleware(cacheControlNoStore, &LogsHandler{
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
	}))

	mux.Handle("/metrics", securityHeadersMiddleware(cacheControlNoCache, metricsHandler(cfg.AuthToken, registry)))
	mux.HandleFunc("/healthz", securityHeadersHandler(cacheControlNoStore, handleHealth))
}

func metricsHandler(token string, registry *metrics.Registry) http.Handler {
	next := registry.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validateToken(r, token) {
			writeJSONError(w, &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
