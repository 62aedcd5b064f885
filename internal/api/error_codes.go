package api

import "net/http"

// Stable error codes returned in the "code" field of JSON errors.
const (
	codeInvalidRequest     = "invalid_request"
	codeUnauthorized       = "unauthorized"
	codeNotFound           = "not_found"
	codeMethodNotAllowed   = "method_not_allowed"
	codeKeyUnavailable     = "key_unavailable"
	codeNotWatched         = "not_watched"
	codeServiceUnavailable = "service_unavailable"
	codeInternal           = "internal_error"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:          codeInvalidRequest,
	http.StatusUnauthorized:        codeUnauthorized,
	http.StatusForbidden:           "forbidden",
	http.StatusNotFound:            codeNotFound,
	http.StatusMethodNotAllowed:    codeMethodNotAllowed,
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: codeKeyUnavailable,
	http.StatusTooManyRequests:     "rate_limited",
	http.StatusServiceUnavailable:  codeServiceUnavailable,
}

// errorCodeForStatus is the fallback when a handler does not set apiError.Code.
func errorCodeForStatus(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= http.StatusInternalServerError {
		return codeInternal
	}
	return ""
}
