package api

import (
	"net/http"
	"strconv"
	"time"

	"regwatch/internal/logging"
)

type apiError struct {
	Status  int
	Message string
	Code    string
}

// apiHandler returns an error instead of writing one; jsonErrorMiddleware
// renders it.
type apiHandler func(http.ResponseWriter, *http.Request) *apiError

const (
	cacheControlNoStore = "no-store, must-revalidate"
	cacheControlNoCache = "no-cache"
)

func withSecurityHeaders(w http.ResponseWriter, cacheControl string) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}
}

func securityHeadersHandler(cacheControl string, next http.HandlerFunc) http.HandlerFunc {
	return securityHeadersMiddleware(cacheControl, next).ServeHTTP
}

func securityHeadersMiddleware(cacheControl string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		withSecurityHeaders(w, cacheControl)
		next.ServeHTTP(w, r)
	})
}

func authMiddleware(token string, next apiHandler) apiHandler {
	return func(w http.ResponseWriter, r *http.Request) *apiError {
		if validateToken(r, token) {
			return next(w, r)
		}
		return &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"}
	}
}

func jsonErrorMiddleware(next apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, next(w, r))
	}
}

func restHandler(token string, handler apiHandler) http.HandlerFunc {
	return securityHeadersHandler(cacheControlNoStore, jsonErrorMiddleware(authMiddleware(token, handler)))
}

func methodNotAllowed(w http.ResponseWriter, allow string) *apiError {
	w.Header().Set("Allow", allow)
	return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (recorder *statusRecorder) WriteHeader(status int) {
	if recorder.status == 0 {
		recorder.status = status
	}
	recorder.ResponseWriter.WriteHeader(status)
}

func (recorder *statusRecorder) Unwrap() http.ResponseWriter {
	return recorder.ResponseWriter
}

// loggingMiddleware logs each request at debug once it completes.
func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	logger = logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !logger.Enabled(logging.LevelDebug) {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}
		logger.Debug("api request", map[string]string{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      strconv.Itoa(recorder.status),
			"duration_ms": strconv.FormatInt(time.Since(started).Milliseconds(), 10),
		})
	})
}
