package api

import (
	"net/http"
	"strconv"
	"strings"

	"regwatch/internal/logging"
)

// logStreamError records a failed websocket or SSE request. Server-side
// failures log at error, client-side ones at warning.
func logStreamError(logger *logging.Logger, r *http.Request, kind string, status int, message string, err error, extra map[string]string) {
	if logger == nil || r == nil {
		return
	}

	fields := map[string]string{
		"path":    r.URL.Path,
		"status":  strconv.Itoa(status),
		"message": message,
	}
	for key, value := range extra {
		fields[key] = value
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if agent := strings.TrimSpace(r.UserAgent()); agent != "" {
		fields["user_agent"] = agent
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	logger = logger.Named("api")
	if status >= http.StatusInternalServerError {
		logger.Error(kind+" error", fields)
		return
	}
	logger.Warn(kind+" error", fields)
}

// statusReason falls back to the status text, then to fallback.
func statusReason(status int, message, fallback string) string {
	if message = strings.TrimSpace(message); message != "" {
		return message
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fallback
}
