package api

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"regwatch/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	wsBufferSize    = 1024
	wsWriteTimeout  = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsMaxCloseBytes = 123
)

var errWSNilOutput = errors.New("websocket output channel is nil")

// wsStreamConfig describes one outbound websocket stream. Conn is optional;
// without it the request is upgraded. BuildPayload may drop a value by
// returning false. PreWrite runs once before the first streamed value.
type wsStreamConfig[T any] struct {
	AllowedOrigins []string
	Conn           *websocket.Conn
	Output         <-chan T
	BuildPayload   func(T) (any, bool)
	WritePayload   func(*websocket.Conn, any) error
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	Logger         *logging.Logger
	PreWrite       func(*websocket.Conn) error
}

func (config wsStreamConfig[T]) withDefaults() wsStreamConfig[T] {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = wsWriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = wsPingInterval
	}
	if config.BuildPayload == nil {
		config.BuildPayload = func(value T) (any, bool) { return value, true }
	}
	if config.WritePayload == nil {
		config.WritePayload = writeJSONPayload
	}
	return config
}

// wsStream owns the writer side of a connection: streamed values and pings.
// The reader side stays with the handler.
type wsStream[T any] struct {
	Conn     *websocket.Conn
	config   wsStreamConfig[T]
	stopOnce sync.Once
	done     chan struct{}
}

func (stream *wsStream[T]) Stop() {
	if stream == nil {
		return
	}
	stream.stopOnce.Do(func() { close(stream.done) })
}

func (stream *wsStream[T]) pump() {
	ticker := time.NewTicker(stream.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case value, ok := <-stream.config.Output:
			if !ok {
				writeWSClose(stream.Conn, websocket.CloseGoingAway, "stream closed", stream.config.WriteTimeout)
				return
			}
			if err := stream.send(value); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(stream.config.WriteTimeout)
			if err := stream.Conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-stream.done:
			return
		}
	}
}

func (stream *wsStream[T]) send(value T) error {
	payload, ok := stream.config.BuildPayload(value)
	if !ok {
		return nil
	}
	if err := stream.Conn.SetWriteDeadline(time.Now().Add(stream.config.WriteTimeout)); err != nil {
		return err
	}
	return stream.config.WritePayload(stream.Conn, payload)
}

// startWSWriteLoop upgrades the request when config.Conn is nil, runs
// PreWrite and starts the writer goroutine.
func startWSWriteLoop[T any](w http.ResponseWriter, r *http.Request, config wsStreamConfig[T]) (*wsStream[T], error) {
	if config.Output == nil {
		return nil, errWSNilOutput
	}
	config = config.withDefaults()

	conn := config.Conn
	upgraded := conn == nil
	if upgraded {
		var err error
		if conn, err = upgradeWebSocket(w, r, config.AllowedOrigins); err != nil {
			return nil, err
		}
	}

	if config.PreWrite != nil {
		if err := config.PreWrite(conn); err != nil {
			if upgraded {
				_ = conn.Close()
			}
			return nil, err
		}
	}

	stream := &wsStream[T]{Conn: conn, config: config, done: make(chan struct{})}
	go stream.pump()
	return stream, nil
}

// serveWSStream is the one-way case: stream Output until either side goes
// away, discarding anything the client sends.
func serveWSStream[T any](w http.ResponseWriter, r *http.Request, config wsStreamConfig[T]) {
	if config.Output == nil {
		return
	}
	stream, err := startWSWriteLoop(w, r, config)
	if err != nil {
		logWSError(config.Logger, r, wsError{Status: http.StatusBadRequest, Message: "websocket upgrade failed", Err: err})
		return
	}
	defer stream.Stop()
	defer stream.Conn.Close()

	readWSText(stream.Conn, func([]byte) {})
}

// readWSText blocks reading client frames and hands text messages to handle.
// It returns when the connection fails or closes.
func readWSText(conn *websocket.Conn, handle func([]byte)) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.TextMessage {
			handle(message)
		}
	}
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request, allowedOrigins []string) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, allowedOrigins)
		},
	}
	return upgrader.Upgrade(w, r, nil)
}

// acceptWebSocket checks the token and upgrades. Failures are answered or
// logged here; callers only need to return on false.
func acceptWebSocket(w http.ResponseWriter, r *http.Request, token string, allowedOrigins []string, logger *logging.Logger) (*websocket.Conn, bool) {
	if !requireWSToken(w, r, token, logger) {
		return nil, false
	}
	conn, err := upgradeWebSocket(w, r, allowedOrigins)
	if err != nil {
		logWSError(logger, r, wsError{Status: http.StatusBadRequest, Message: "websocket upgrade failed", Err: err})
		return nil, false
	}
	return conn, true
}

func requireWSToken(w http.ResponseWriter, r *http.Request, token string, logger *logging.Logger) bool {
	if validateToken(r, token) {
		return true
	}
	writeWSError(w, r, nil, logger, wsError{
		Status:    http.StatusUnauthorized,
		CloseCode: websocket.ClosePolicyViolation,
		Message:   "unauthorized",
	})
	return false
}

type wsError struct {
	Status       int
	CloseCode    int
	Message      string
	Err          error
	SendEnvelope bool
}

type wsErrorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	CloseCode int    `json:"close_code,omitempty"`
}

// resolved fills in the status, close code and reason a caller left empty.
func (e wsError) resolved() wsError {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	e.Message = statusReason(e.Status, e.Message, "websocket error")
	if e.CloseCode == 0 {
		e.CloseCode = closeCodeForStatus(e.Status)
	}
	return e
}

func (e wsError) payload() wsErrorPayload {
	return wsErrorPayload{Type: "error", Message: e.Message, Status: e.Status, CloseCode: e.CloseCode}
}

// writeWSError answers over HTTP when conn is nil; otherwise it optionally
// sends an error envelope, then a close frame, and closes conn.
func writeWSError(w http.ResponseWriter, r *http.Request, conn *websocket.Conn, logger *logging.Logger, wsErr wsError) {
	wsErr = wsErr.resolved()
	logWSError(logger, r, wsErr)

	if conn == nil {
		http.Error(w, wsErr.Message, wsErr.Status)
		return
	}
	if wsErr.SendEnvelope {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = conn.WriteJSON(wsErr.payload())
	}
	writeWSClose(conn, wsErr.CloseCode, wsErr.Message, wsWriteTimeout)
	_ = conn.Close()
}

func writeWSClose(conn *websocket.Conn, code int, reason string, timeout time.Duration) {
	if len(reason) > wsMaxCloseBytes {
		reason = reason[:wsMaxCloseBytes]
	}
	deadline := time.Now().Add(timeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

func logWSError(logger *logging.Logger, r *http.Request, wsErr wsError) {
	wsErr = wsErr.resolved()
	logStreamError(logger, r, "websocket", wsErr.Status, wsErr.Message, wsErr.Err, map[string]string{
		"close_code": strconv.Itoa(wsErr.CloseCode),
	})
}

var closeCodesByStatus = map[int]int{
	http.StatusBadRequest:         websocket.CloseProtocolError,
	http.StatusServiceUnavailable: websocket.CloseTryAgainLater,
}

func closeCodeForStatus(status int) int {
	if code, ok := closeCodesByStatus[status]; ok {
		return code
	}
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		return websocket.ClosePolicyViolation
	}
	return websocket.CloseInternalServerErr
}

func writeJSONPayload(conn *websocket.Conn, payload any) error {
	return conn.WriteJSON(payload)
}
