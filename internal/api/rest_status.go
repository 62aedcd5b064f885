package api

import (
	"net/http"
	"time"

	"regwatch/internal/version"
	"regwatch/internal/watcher"
)

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireHub(); err != nil {
		return err
	}

	now := time.Now().UTC()
	versionInfo := version.GetVersionInfo()
	response := statusResponse{
		Version:     versionInfo.Version,
		GitCommit:   versionInfo.GitCommit,
		Built:       versionInfo.Built,
		ServerTime:  now,
		StartedAt:   h.StartedAt.UTC(),
		Subscribers: h.Hub.Bus().SubscriberCount(),
	}
	if !h.StartedAt.IsZero() {
		response.UptimeSeconds = int64(now.Sub(h.StartedAt).Seconds())
	}
	for _, status := range h.Hub.Snapshot() {
		response.WatchCount++
		if status.State == watcher.StateFailed {
			response.FailedCount++
		}
	}
	response.Published, response.Dropped = h.Hub.Bus().Stats()

	writeJSON(w, http.StatusOK, response)
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
