package api

import (
	"errors"
	"net/http"
	"strings"

	"regwatch/internal/regkey"
	"regwatch/internal/watcher"
)

func (h *RestHandler) handleWatches(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireHub(); err != nil {
		return err
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, watchesResponse{Watches: h.Hub.Snapshot()})
		return nil
	case http.MethodPost:
		return h.createWatch(w, r)
	case http.MethodDelete:
		return h.deleteWatch(w, r)
	default:
		return methodNotAllowed(w, "GET, POST, DELETE")
	}
}

func (h *RestHandler) createWatch(w http.ResponseWriter, r *http.Request) *apiError {
	var request watchRequest
	if err := decodeJSONBody(w, r, &request); err != nil {
		return err
	}
	target, apiErr := parseTarget(request.Key)
	if apiErr != nil {
		return apiErr
	}

	if err := h.Hub.Watch(target); err != nil {
		return watchError(err)
	}
	h.Logger.Info("watch added via api", map[string]string{"target": target.String()})

	for _, status := range h.Hub.Snapshot() {
		if status.Key == target.String() {
			writeJSON(w, http.StatusCreated, status)
			return nil
		}
	}
	// Removed concurrently between Watch and Snapshot.
	return &apiError{Status: http.StatusConflict, Message: "watch was removed"}
}

func (h *RestHandler) deleteWatch(w http.ResponseWriter, r *http.Request) *apiError {
	target, apiErr := parseTarget(r.URL.Query().Get("key"))
	if apiErr != nil {
		return apiErr
	}
	if err := h.Hub.Unwatch(target); err != nil {
		return watchError(err)
	}
	h.Logger.Info("watch removed via api", map[string]string{"target": target.String()})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func parseTarget(raw string) (regkey.Target, *apiError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return regkey.Target{}, &apiError{Status: http.StatusBadRequest, Message: "missing key"}
	}
	target, err := regkey.ParseKeyPath(raw)
	if err != nil {
		return regkey.Target{}, &apiError{Status: http.StatusBadRequest, Message: err.Error()}
	}
	return target, nil
}

func watchError(err error) *apiError {
	switch {
	case errors.Is(err, watcher.ErrNotWatched):
		return &apiError{Status: http.StatusNotFound, Message: err.Error(), Code: codeNotWatched}
	case errors.Is(err, watcher.ErrHubClosed):
		return &apiError{Status: http.StatusServiceUnavailable, Message: err.Error()}
	case regkey.IsOpenError(err):
		return &apiError{Status: http.StatusUnprocessableEntity, Message: err.Error(), Code: codeKeyUnavailable}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}
