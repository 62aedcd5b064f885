package config

import (
	"context"
	"path/filepath"
	"strconv"

	"regwatch/internal/event"
	"regwatch/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the file at path whenever it is written or replaced and calls
// onChange with the new Config. A reload that fails to decode or validate is
// logged and published on Bus, and the previous configuration stays active.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, overrides map[string]any, logger *logging.Logger, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so atomic saves, which replace the file, are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	logger = logger.Named("config")
	fields := map[string]string{"path": path}
	logger.Info("watching config for changes", fields)

	for {
		select {
		case <-ctx.Done():
			return nil

		case change, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(change.Name) != filepath.Clean(path) {
				continue
			}
			if !change.Has(fsnotify.Write) && !change.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path, overrides)
			if err != nil {
				logger.Error("config reload failed, keeping previous config", map[string]string{
					"path":  path,
					"error": err.Error(),
				})
				Bus().Publish(event.NewConfigEvent(path, 0, err))
				continue
			}

			logger.Info("config reloaded", map[string]string{
				"path": path,
				"keys": strconv.Itoa(len(cfg.Watch.Keys)),
			})
			Bus().Publish(event.NewConfigEvent(path, len(cfg.Watch.Keys), nil))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", map[string]string{"error": err.Error()})
		}
	}
}
