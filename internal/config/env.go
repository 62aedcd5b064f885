package config

import (
	"os"
	"strings"
)

// Environment variables read by EnvOverrides.
const (
	EnvAddr     = "REGWATCH_ADDR"
	EnvToken    = "REGWATCH_TOKEN"
	EnvLogLevel = "REGWATCH_LOG_LEVEL"
	// EnvKeys holds key paths separated by ';'.
	EnvKeys = "REGWATCH_KEYS"
)

// EnvOverrides returns override values for Load from the process
// environment. Unset or blank variables are skipped.
func EnvOverrides() map[string]any {
	return EnvOverridesFrom(os.Getenv)
}

// EnvOverridesFrom is EnvOverrides reading variables through getenv.
func EnvOverridesFrom(getenv func(string) string) map[string]any {
	overrides := map[string]any{}
	if value := strings.TrimSpace(getenv(EnvAddr)); value != "" {
		overrides["server.addr"] = value
	}
	if value := strings.TrimSpace(getenv(EnvToken)); value != "" {
		overrides["server.auth-token"] = value
	}
	if value := strings.TrimSpace(getenv(EnvLogLevel)); value != "" {
		overrides["log.level"] = value
	}
	if value := strings.TrimSpace(getenv(EnvKeys)); value != "" {
		var keys []string
		for _, key := range strings.Split(value, ";") {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
		overrides["watch.keys"] = keys
	}
	return overrides
}

// Merge returns a copy of base with every key of layers applied in order.
func Merge(base map[string]any, layers ...map[string]any) map[string]any {
	merged := make(map[string]any, len(base))
	for key, value := range base {
		merged[key] = value
	}
	for _, layer := range layers {
		for key, value := range layer {
			merged[key] = value
		}
	}
	return merged
}
