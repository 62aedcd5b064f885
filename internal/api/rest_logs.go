package api

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"regwatch/internal/logging"
)

const defaultLogLimit = 100

// handleLogs returns buffered log entries, oldest first, narrowed by the
// optional level, since (RFC 3339) and limit parameters.
func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireLogger(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	query := logQuery{Limit: defaultLogLimit}
	if err := query.parse(r.URL.Query()); err != nil {
		return err
	}
	entries := h.Logger.Buffer().Tail(0, query.Level)
	writeJSON(w, http.StatusOK, query.apply(entries))
	return nil
}

func (query *logQuery) parse(values url.Values) *apiError {
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		query.Limit = limit
	}
	if raw := strings.TrimSpace(values.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid since timestamp"}
		}
		query.Since = &since
	}
	if raw := strings.TrimSpace(values.Get("level")); raw != "" {
		level, ok := logging.ParseLevel(raw)
		if !ok {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		query.Level = level
	}
	return nil
}

// apply keeps the newest Limit entries that pass the level and since filters.
func (query logQuery) apply(entries []logging.LogEntry) []logging.LogEntry {
	entries = slices.DeleteFunc(append(make([]logging.LogEntry, 0, len(entries)), entries...), func(entry logging.LogEntry) bool {
		if !logging.LevelAtLeast(entry.Level, query.Level) {
			return true
		}
		return query.Since != nil && entry.Timestamp.Before(*query.Since)
	})
	if query.Limit > 0 && len(entries) > query.Limit {
		entries = entries[len(entries)-query.Limit:]
	}
	return entries
}
