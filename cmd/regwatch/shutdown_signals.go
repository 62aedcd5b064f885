package main

import (
	"context"
	"os"

	"regwatch/internal/logging"
)

// watchShutdownSignals cancels shutdownCancel on the first signal. A second
// signal is logged once as ignored; shutdown is not forced. The returned func
// stops watching.
func watchShutdownSignals(logger *logging.Logger, shutdownCancel context.CancelFunc, signalCh <-chan os.Signal) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		received := 0
		for {
			var sig os.Signal
			select {
			case <-done:
				return
			case next, ok := <-signalCh:
				if !ok {
					return
				}
				sig = next
			}

			received++
			fields := signalFields(sig)
			switch received {
			case 1:
				logger.Info("shutdown signal received", fields)
				if shutdownCancel != nil {
					shutdownCancel()
				}
			case 2:
				logger.Info("shutdown already in progress; ignoring signal", fields)
			}
		}
	}()

	return func() { close(done) }
}

func signalFields(sig os.Signal) map[string]string {
	if sig == nil {
		return nil
	}
	return map[string]string{"signal": sig.String()}
}
