package api

import (
	"net/http"
	"time"

	"regwatch/internal/logging"
	"regwatch/internal/watcher"
)

// RestHandler serves the JSON endpoints under /api.
type RestHandler struct {
	Hub       *watcher.Hub
	Logger    *logging.Logger
	StartedAt time.Time
}

type statusResponse struct {
	Version       string    `json:"version"`
	GitCommit     string    `json:"git_commit,omitempty"`
	Built         string    `json:"built,omitempty"`
	ServerTime    time.Time `json:"server_time"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	WatchCount    int       `json:"watch_count"`
	FailedCount   int       `json:"failed_count"`
	Subscribers   int       `json:"subscribers"`
	Published     int64     `json:"events_published"`
	Dropped       int64     `json:"events_dropped"`
}

type watchRequest struct {
	Key string `json:"key"`
}

type watchesResponse struct {
	Watches []watcher.WatchStatus `json:"watches"`
}

type logQuery struct {
	Limit int
	Level logging.Level
	Since *time.Time
}

func (h *RestHandler) requireHub() *apiError {
	if h == nil || h.Hub == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "watch hub unavailable"}
	}
	return nil
}

func (h *RestHandler) requireLogger() *apiError {
	if h == nil || h.Logger == nil || h.Logger.Buffer() == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "log buffer unavailable"}
	}
	return nil
}
