package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"regwatch/internal/api"
	"regwatch/internal/config"
	"regwatch/internal/logging"
	"regwatch/internal/metrics"
	"regwatch/internal/regkey"
	"regwatch/internal/version"
	"regwatch/internal/watcher"

	"go.uber.org/multierr"
)

type daemonDeps struct {
	Stdout   io.Writer
	Stderr   io.Writer
	Getenv   func(string) string
	Opener   regkey.Opener
	Metrics  *metrics.Registry
	Signals  func(chan<- os.Signal)
	Listener func(addr string) (net.Listener, error)
	// Ready, when set, receives the bound HTTP address.
	Ready func(addr string)
}

func defaultDaemonDeps() daemonDeps {
	return daemonDeps{
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Getenv:  os.Getenv,
		Opener:  regkey.Open,
		Metrics: metrics.Default,
		Signals: func(ch chan<- os.Signal) {
			signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		},
		Listener: func(addr string) (net.Listener, error) {
			return net.Listen("tcp", addr)
		},
	}
}

func run(args []string, deps daemonDeps) int {
	flags, err := parseFlags(args, deps.Getenv, deps.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(deps.Stderr, err)
		return 2
	}
	if flags.Version {
		fmt.Fprintln(deps.Stdout, version.GetVersionInfo().Banner("regwatch"))
		return 0
	}

	overrides, err := collectOverrides(flags, deps.Getenv)
	if err != nil {
		fmt.Fprintln(deps.Stderr, err)
		return 2
	}
	cfg, err := config.Load(flags.ConfigPath, overrides)
	if err != nil {
		fmt.Fprintln(deps.Stderr, err)
		return 1
	}

	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(cfg.Log.BufferSize), cfg.Log.Level, deps.Stderr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 2)
	if deps.Signals != nil {
		deps.Signals(signalCh)
		defer signal.Stop(signalCh)
	}
	stopSignals := watchShutdownSignals(logger, cancel, signalCh)
	defer stopSignals()

	if err := serve(ctx, cfg, flags, overrides, logger, deps); err != nil {
		logger.Error("regwatch stopped", map[string]string{"error": err.Error()})
		return 1
	}
	return 0
}

// collectOverrides layers environment overrides under flag overrides.
func collectOverrides(flags flagValues, getenv func(string) string) (map[string]any, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	envSet, err := parseConfigOverridesEnv(getenv(envConfigOverrides))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", envConfigOverrides, err)
	}
	flagSet, err := parseConfigOverrides(flags.Overrides)
	if err != nil {
		return nil, err
	}
	return config.Merge(envSet, config.EnvOverridesFrom(getenv), flagSet, flags.overrides()), nil
}

func hubOptions(cfg config.Config, logger *logging.Logger, deps daemonDeps) watcher.Options {
	return watcher.Options{
		Logger:         logger,
		Registry:       deps.Metrics,
		Opener:         deps.Opener,
		WaitTimeout:    cfg.Watch.WaitTimeout,
		RetryDelay:     cfg.Watch.RetryDelay,
		JoinTimeout:    cfg.Watch.JoinTimeout,
		ReportFailures: cfg.Watch.ReportFailures,
	}
}

func syncWatches(hub *watcher.Hub, keys []regkey.Target, logger *logging.Logger) {
	err := hub.Sync(keys)
	for _, failure := range multierr.Errors(err) {
		logger.Warn("registry key not watched", map[string]string{"error": failure.Error()})
	}
	logger.Info("watch set applied", map[string]string{
		"requested": strconv.Itoa(len(keys)),
		"active":    strconv.Itoa(hub.Len()),
	})
}

func serve(ctx context.Context, cfg config.Config, flags flagValues, overrides map[string]any, logger *logging.Logger, deps daemonDeps) error {
	startedAt := time.Now()
	info := version.GetVersionInfo()
	logger.Info("regwatch starting", map[string]string{
		"version": info.Version,
		"config":  flags.ConfigPath,
		"keys":    strconv.Itoa(len(cfg.Watch.Keys)),
	})

	hub := watcher.NewHub(ctx, hubOptions(cfg, logger, deps))
	syncWatches(hub, cfg.Watch.Keys, logger)

	coordinator := newShutdownCoordinator(logger)

	configCtx, stopConfig := context.WithCancel(ctx)
	configDone := make(chan struct{})
	if !flags.NoReload && flags.ConfigPath != "" {
		go func() {
			defer close(configDone)
			err := config.Watch(configCtx, flags.ConfigPath, overrides, logger, func(next config.Config) {
				if next.Log.Level != logger.Level() {
					logger.SetLevel(next.Log.Level)
				}
				syncWatches(hub, next.Watch.Keys, logger)
			})
			if err != nil {
				logger.Warn("config reload disabled", map[string]string{
					"path":  filepath.Clean(flags.ConfigPath),
					"error": err.Error(),
				})
			}
		}()
	} else {
		close(configDone)
	}
	coordinator.Add("config watch", func(ctx context.Context) error {
		stopConfig()
		select {
		case <-configDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	coordinator.Add("watch hub", func(context.Context) error {
		return hub.Close()
	})

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.RouteConfig{
		Hub:        hub,
		Logger:     logger,
		Metrics:    deps.Metrics,
		AuthToken:  cfg.Server.AuthToken,
		EventRate:  cfg.Events.RatePerSecond,
		EventBurst: cfg.Events.Burst,
		StartedAt:  startedAt,
	})

	listen := deps.Listener
	if listen == nil {
		listen = func(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }
	}
	listener, err := listen(cfg.Server.Addr)
	if err != nil {
		return multierr.Append(fmt.Errorf("listen %s: %w", cfg.Server.Addr, err), coordinator.Run(context.Background()))
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	address := listener.Addr().String()
	logger.Info("regwatch listening", map[string]string{
		"addr":    address,
		"version": info.Version,
	})
	if deps.Ready != nil {
		deps.Ready(address)
	}

	runner := &ServerRunner{
		Logger:          logger,
		ShutdownTimeout: httpServerShutdownTimeout,
	}
	runErr := runner.Run(ctx, ManagedServer{
		Name: "api",
		Serve: func() error {
			return server.Serve(listener)
		},
		Shutdown: server.Shutdown,
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
	defer cancel()
	return multierr.Append(runErr, coordinator.Run(shutdownCtx))
}
