package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"regwatch/internal/logging"

	"github.com/gorilla/websocket"
)

const logSnapshotLimit = 200

// LogsHandler streams log entries over a websocket, replaying the most recent
// buffered entries first. Clients change the minimum level by sending
// {"level":"warning"}; an unknown level removes the filter.
type LogsHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type logFilterMessage struct {
	Level string `json:"level"`
}

type logReplayPayload struct {
	logging.LogEntry
	Replay bool `json:"replay"`
}

type levelFilter struct {
	mu    sync.RWMutex
	level logging.Level
}

func (f *levelFilter) Get() logging.Level {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.level
}

func (f *levelFilter) Set(level logging.Level) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Logger == nil {
		if requireWSToken(w, r, h.AuthToken, h.Logger) {
			writeWSError(w, r, nil, h.Logger, wsError{Status: http.StatusServiceUnavailable, Message: "log stream unavailable"})
		}
		return
	}

	query := r.URL.Query()
	filter := &levelFilter{}
	if level, ok := logging.ParseLevel(query.Get("level")); ok {
		filter.Set(level)
	}
	replay := logSnapshotLimit
	if parsed, err := strconv.Atoi(query.Get("replay")); err == nil && parsed >= 0 {
		replay = parsed
	}

	conn, ok := acceptWebSocket(w, r, h.AuthToken, h.AllowedOrigins, h.Logger)
	if !ok {
		return
	}
	defer conn.Close()

	// Subscribe before taking the snapshot so nothing logged in between is
	// lost; an entry may appear in both.
	entries, cancel := h.Logger.Subscribe("")
	defer cancel()
	var snapshot []logging.LogEntry
	if replay > 0 {
		snapshot = h.Logger.Buffer().Tail(replay, filter.Get())
	}

	stream, err := startWSWriteLoop(w, r, wsStreamConfig[logging.LogEntry]{
		Conn:   conn,
		Output: entries,
		Logger: h.Logger,
		PreWrite: func(conn *websocket.Conn) error {
			return writeLogSnapshot(conn, snapshot)
		},
		BuildPayload: func(entry logging.LogEntry) (any, bool) {
			return entry, logging.LevelAtLeast(entry.Level, filter.Get())
		},
	})
	if err != nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "log stream unavailable",
			Err:          err,
			SendEnvelope: true,
		})
		return
	}
	defer stream.Stop()

	readWSText(conn, func(message []byte) {
		var request logFilterMessage
		if json.Unmarshal(message, &request) != nil {
			return
		}
		level, _ := logging.ParseLevel(request.Level)
		filter.Set(level)
	})
}

func writeLogSnapshot(conn *websocket.Conn, entries []logging.LogEntry) error {
	for _, entry := range entries {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		if err := conn.WriteJSON(logReplayPayload{LogEntry: entry, Replay: true}); err != nil {
			return err
		}
	}
	return nil
}
