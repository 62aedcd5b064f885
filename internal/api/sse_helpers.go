package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"regwatch/internal/logging"
)

const (
	defaultSSEHeartbeatInterval = 15 * time.Second
	defaultSSERetryInterval     = 5 * time.Second
)

var (
	errSSENoFlusher     = errors.New("sse response writer does not support flushing")
	errSSEWriterMissing = errors.New("sse writer missing")
)

type sseStreamConfig[T any] struct {
	Logger       *logging.Logger
	Output       <-chan T
	BuildPayload func(T) (any, bool)
	EventName    string
	// EventNameFor overrides EventName per value when set.
	EventNameFor      func(T) string
	HeartbeatInterval time.Duration
	RetryInterval     time.Duration
	// SkipRetry is set when the caller already sent the retry hint.
	SkipRetry bool
}

func (config sseStreamConfig[T]) withDefaults() sseStreamConfig[T] {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaultSSEHeartbeatInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaultSSERetryInterval
	}
	if config.BuildPayload == nil {
		config.BuildPayload = func(value T) (any, bool) { return value, true }
	}
	if config.EventNameFor == nil {
		name := config.EventName
		config.EventNameFor = func(T) string { return name }
	}
	return config
}

type sseError struct {
	Status  int
	Message string
	Err     error
}

// sseWriter assembles each frame in memory and writes it with a single Write
// followed by a flush, so a client never sees half a frame.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	frame   bytes.Buffer
}

func startSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errSSENoFlusher
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", cacheControlNoStore)
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")

	flusher.Flush()
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (writer *sseWriter) flush() error {
	defer writer.frame.Reset()
	if _, err := writer.writer.Write(writer.frame.Bytes()); err != nil {
		return err
	}
	writer.flusher.Flush()
	return nil
}

func (writer *sseWriter) WriteRetry(retry time.Duration) error {
	if writer == nil {
		return errSSEWriterMissing
	}
	if retry <= 0 {
		return nil
	}
	writer.frame.WriteString("retry: ")
	writer.frame.WriteString(strconv.FormatInt(retry.Milliseconds(), 10))
	writer.frame.WriteString("\n\n")
	return writer.flush()
}

func (writer *sseWriter) WriteComment(comment string) error {
	if writer == nil {
		return errSSEWriterMissing
	}
	writer.frame.WriteString(": ")
	writer.frame.WriteString(comment)
	writer.frame.WriteString("\n\n")
	return writer.flush()
}

func (writer *sseWriter) WriteEvent(eventName string, payload any) error {
	if writer == nil {
		return errSSEWriterMissing
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if eventName != "" {
		writer.frame.WriteString("event: ")
		writer.frame.WriteString(eventName)
		writer.frame.WriteByte('\n')
	}
	_ = writeSSEData(&writer.frame, data)
	return writer.flush()
}

// writeSSEData emits one data line per line of data and terminates the frame.
func writeSSEData(writer io.Writer, data []byte) error {
	var frame bytes.Buffer
	if len(data) == 0 {
		frame.WriteString("data:\n")
	}
	for rest := data; len(rest) > 0; {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
		}
		rest = rest[len(line):]
		frame.WriteString("data: ")
		frame.Write(bytes.TrimSuffix(line, []byte("\n")))
		frame.WriteByte('\n')
	}
	frame.WriteByte('\n')
	_, err := writer.Write(frame.Bytes())
	return err
}

func requireSSEToken(w http.ResponseWriter, r *http.Request, token string, logger *logging.Logger) bool {
	if validateToken(r, token) {
		return true
	}
	writeSSEHTTPError(w, r, logger, sseError{Status: http.StatusUnauthorized, Message: "unauthorized"})
	return false
}

func serveSSEStream[T any](w http.ResponseWriter, r *http.Request, config sseStreamConfig[T]) {
	if config.Output == nil {
		return
	}
	writer, err := startSSEWriter(w)
	if err != nil {
		logSSEError(config.Logger, r, sseError{Status: http.StatusInternalServerError, Message: "sse stream unavailable", Err: err})
		return
	}
	runSSEStream(r, writer, config)
}

// runSSEStream writes Output as events until the request ends or Output
// closes, with a comment heartbeat to keep idle proxies from cutting it.
func runSSEStream[T any](r *http.Request, writer *sseWriter, config sseStreamConfig[T]) {
	if writer == nil || config.Output == nil {
		return
	}
	config = config.withDefaults()

	if !config.SkipRetry {
		if err := writer.WriteRetry(config.RetryInterval); err != nil {
			return
		}
	}

	heartbeat := time.NewTicker(config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			err = writer.WriteComment("ping")
		case value, ok := <-config.Output:
			if !ok {
				return
			}
			if payload, keep := config.BuildPayload(value); keep {
				err = writer.WriteEvent(config.EventNameFor(value), payload)
			}
		}
		if err != nil {
			return
		}
	}
}

func writeSSEHTTPError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, sseErr sseError) {
	sseErr = sseErr.resolved()
	logSSEError(logger, r, sseErr)
	http.Error(w, sseErr.Message, sseErr.Status)
}

func (e sseError) resolved() sseError {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	e.Message = statusReason(e.Status, e.Message, "sse error")
	return e
}

func logSSEError(logger *logging.Logger, r *http.Request, sseErr sseError) {
	logStreamError(logger, r, "sse", sseErr.Status, sseErr.Message, sseErr.Err, nil)
}

// writeSSEUnavailable opens the stream only to deliver one error event, so
// EventSource clients see the reason instead of a bare reconnect loop.
func writeSSEUnavailable(w http.ResponseWriter, r *http.Request, logger *logging.Logger, status int, message string) {
	writer, err := startSSEWriter(w)
	if err != nil {
		writeSSEHTTPError(w, r, logger, sseError{Status: status, Message: message, Err: err})
		return
	}
	_ = writer.WriteRetry(defaultSSERetryInterval)
	_ = writer.WriteEvent("", wsErrorPayload{Type: "error", Message: message, Status: status})
	logSSEError(logger, r, sseError{Status: status, Message: message})
}
