package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"regwatch/internal/logging"

	"go.uber.org/multierr"
)

const httpServerShutdownTimeout = 5 * time.Second

// ManagedServer is anything with a blocking Serve and a graceful Shutdown,
// normally an *http.Server bound to a listener.
type ManagedServer struct {
	Name     string
	Serve    func() error
	Shutdown func(context.Context) error
}

type ServerRunner struct {
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
}

type serverError struct {
	name string
	err  error
}

func (e *serverError) Error() string {
	return e.name + " server: " + e.err.Error()
}

func (e *serverError) Unwrap() error { return e.err }

// serveFailed reports whether err is a real failure rather than the
// ErrServerClosed every Serve returns after Shutdown.
func serveFailed(err error) bool {
	return err != nil && !errors.Is(err, http.ErrServerClosed)
}

// Run serves until stop is cancelled or any server exits, then shuts every
// server down. The result combines serve failures and shutdown failures.
func (runner *ServerRunner) Run(stop context.Context, servers ...ManagedServer) error {
	exits := make(chan *serverError, len(servers))
	running := 0
	for _, server := range servers {
		if server.Serve == nil {
			continue
		}
		running++
		server := server
		go func() {
			exits <- &serverError{name: server.Name, err: server.Serve()}
		}()
	}
	if running == 0 {
		return nil
	}

	var result error
	select {
	case exit := <-exits:
		running--
		result = runner.record(result, exit)
	case <-stop.Done():
	}

	timeout := runner.ShutdownTimeout
	if timeout <= 0 {
		timeout = httpServerShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, server := range servers {
		if server.Shutdown == nil {
			continue
		}
		if err := server.Shutdown(ctx); err != nil {
			runner.Logger.Warn(fmt.Sprintf("%s server shutdown failed", server.Name), map[string]string{"error": err.Error()})
			result = multierr.Append(result, &serverError{name: server.Name, err: err})
		}
	}

	for ; running > 0; running-- {
		select {
		case exit := <-exits:
			result = runner.record(result, exit)
		case <-ctx.Done():
			runner.Logger.Warn("servers did not exit before shutdown timeout", map[string]string{
				"pending": fmt.Sprint(running),
			})
			return result
		}
	}
	return result
}

func (runner *ServerRunner) record(result error, exit *serverError) error {
	if !serveFailed(exit.err) {
		return result
	}
	runner.Logger.Error("http server stopped", map[string]string{
		"server": exit.name,
		"error":  exit.err.Error(),
	})
	return multierr.Append(result, exit)
}
