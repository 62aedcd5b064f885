package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"regwatch"
	"regwatch/internal/config/flatkeys"
	"regwatch/internal/logging"
	"regwatch/internal/regkey"
)

// Config is the daemon configuration after defaults, file and overrides
// have been merged and validated.
type Config struct {
	Server ServerConfig
	Log    LogConfig
	Watch  WatchConfig
	Events EventsConfig
}

type ServerConfig struct {
	Addr      string
	AuthToken string
}

type LogConfig struct {
	Level      logging.Level
	BufferSize int
}

type WatchConfig struct {
	Keys           []regkey.Target
	WaitTimeout    time.Duration
	RetryDelay     time.Duration
	JoinTimeout    time.Duration
	ReportFailures bool
}

type EventsConfig struct {
	RatePerSecond float64
	Burst         int
}

var ErrInvalid = errors.New("invalid configuration")

// Load merges the embedded defaults, the file at path (skipped when path is
// empty or missing) and overrides, in that order. Override keys use the
// dotted form, e.g. "server.addr".
func Load(path string, overrides map[string]any) (Config, error) {
	defaults, err := flatkeys.DecodeTOML(regwatch.DefaultConfig)
	if err != nil {
		return Config{}, fmt.Errorf("decode default config: %w", err)
	}
	values := defaults.Flat()

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		} else {
			store, err := flatkeys.Decode(filepath.Ext(path), payload)
			if err != nil {
				return Config{}, fmt.Errorf("decode %s: %w", path, err)
			}
			for key, value := range store.Flat() {
				values[key] = value
			}
		}
	}

	for key, value := range overrides {
		normalized := flatkeys.NormalizeKey(key)
		if normalized == "" {
			continue
		}
		values[normalized] = value
	}

	return build(values)
}

func build(values map[string]any) (Config, error) {
	var problems []string
	invalid := func(key, format string, args ...any) {
		problems = append(problems, key+": "+fmt.Sprintf(format, args...))
	}

	cfg := Config{}
	cfg.Server.Addr = stringSetting(values, "server.addr")
	if cfg.Server.Addr == "" {
		invalid("server.addr", "is required")
	}
	cfg.Server.AuthToken = stringSetting(values, "server.auth-token")

	levelText := stringSetting(values, "log.level")
	level, ok := logging.ParseLevel(levelText)
	if !ok {
		invalid("log.level", "unknown level %q", levelText)
	}
	cfg.Log.Level = level
	cfg.Log.BufferSize = int(intSetting(values, "log.buffer-size"))
	if cfg.Log.BufferSize <= 0 {
		invalid("log.buffer-size", "must be positive")
	}

	keys, ok := flatkeys.AsStrings(values["watch.keys"])
	if !ok && values["watch.keys"] != nil {
		invalid("watch.keys", "must be a list of key paths")
	}
	seen := make(map[string]struct{}, len(keys))
	for _, raw := range keys {
		target, err := regkey.ParseKeyPath(raw)
		if err != nil {
			invalid("watch.keys", "%q: %v", raw, err)
			continue
		}
		if _, dup := seen[target.String()]; dup {
			continue
		}
		seen[target.String()] = struct{}{}
		cfg.Watch.Keys = append(cfg.Watch.Keys, target)
	}

	cfg.Watch.WaitTimeout = durationSetting(values, "watch.wait-timeout-ms", invalid)
	cfg.Watch.RetryDelay = durationSetting(values, "watch.retry-delay-ms", invalid)
	cfg.Watch.JoinTimeout = durationSetting(values, "watch.join-timeout-ms", invalid)
	cfg.Watch.ReportFailures = boolSetting(values, "watch.report-failures")

	cfg.Events.RatePerSecond = floatSetting(values, "events.rate-per-second")
	if cfg.Events.RatePerSecond <= 0 {
		invalid("events.rate-per-second", "must be positive")
	}
	cfg.Events.Burst = int(intSetting(values, "events.burst"))
	if cfg.Events.Burst <= 0 {
		invalid("events.burst", "must be positive")
	}

	if len(problems) > 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return cfg, nil
}

func stringSetting(values map[string]any, key string) string {
	if parsed, ok := values[key].(string); ok {
		return strings.TrimSpace(parsed)
	}
	return ""
}

func intSetting(values map[string]any, key string) int64 {
	switch typed := values[key].(type) {
	case string:
		var parsed int64
		if _, err := fmt.Sscan(strings.TrimSpace(typed), &parsed); err == nil {
			return parsed
		}
		return 0
	default:
		parsed, _ := flatkeys.AsInt64(typed)
		return parsed
	}
}

func floatSetting(values map[string]any, key string) float64 {
	switch typed := values[key].(type) {
	case float64:
		return typed
	case string:
		var parsed float64
		if _, err := fmt.Sscan(strings.TrimSpace(typed), &parsed); err == nil {
			return parsed
		}
		return 0
	default:
		parsed, _ := flatkeys.AsInt64(typed)
		return float64(parsed)
	}
}

func boolSetting(values map[string]any, key string) bool {
	switch typed := values[key].(type) {
	case bool:
		return typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

func durationSetting(values map[string]any, key string, invalid func(string, string, ...any)) time.Duration {
	ms := intSetting(values, key)
	if ms <= 0 {
		invalid(key, "must be a positive number of milliseconds")
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
