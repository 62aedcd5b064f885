package regkey

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Key methods after Close.
	ErrClosed = errors.New("registry key is closed")
	// ErrUnsupported is returned by Open on platforms without a registry.
	ErrUnsupported = errors.New("registry watching is not supported on this platform")
)

// OpenError reports a key that could not be opened with read and notify rights.
type OpenError struct {
	Hive Hive
	Path string
	// Code is the OS status code, zero when the failure happened before any OS call.
	Code uint32
	Err  error
}

func (e *OpenError) Error() string {
	target := Target{Hive: e.Hive, Path: e.Path}
	if e.Code != 0 {
		return fmt.Sprintf("open registry key %s: %v (status %d)", target, e.Err, e.Code)
	}
	return fmt.Sprintf("open registry key %s: %v", target, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// IsOpenError reports whether err is or wraps an *OpenError.
func IsOpenError(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}
