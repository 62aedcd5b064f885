// Package flatkeys flattens nested TOML or YAML documents into dotted,
// normalized keys so both formats resolve the same settings.
package flatkeys

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Store is a read-only view of a decoded document keyed by normalized dotted
// paths such as "watch.retry-delay".
type Store struct {
	flat map[string]any
}

func (s Store) Flat() map[string]any {
	return maps.Clone(s.flat)
}

func (s Store) Len() int {
	return len(s.flat)
}

func DecodeTOML(data []byte) (Store, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

func DecodeYAML(data []byte) (Store, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

// Decode picks the decoder from a file extension: .toml, .yaml or .yml.
func Decode(ext string, data []byte) (Store, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "toml":
		return DecodeTOML(data)
	case "yaml", "yml":
		return DecodeYAML(data)
	default:
		return Store{}, fmt.Errorf("unsupported config format %q", ext)
	}
}

// FromRaw flattens raw. When two spellings normalize to the same key (e.g.
// retry_delay and retry-delay) the lexically first one wins.
func FromRaw(raw map[string]any) Store {
	flat := make(map[string]any)
	flattenMap("", raw, flat)

	normalized := make(map[string]any, len(flat))
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		normalizedKey := NormalizeKey(key)
		if _, exists := normalized[normalizedKey]; !exists {
			normalized[normalizedKey] = flat[key]
		}
	}
	return Store{flat: normalized}
}

func lookup[T any](s Store, key string, convert func(any) (T, bool)) (T, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		var zero T
		return zero, false
	}
	return convert(value)
}

func asType[T any](value any) (T, bool) {
	typed, ok := value.(T)
	return typed, ok
}

func (s Store) GetBool(key string) (bool, bool) {
	return lookup(s, key, asType[bool])
}

func (s Store) GetInt(key string) (int64, bool) {
	return lookup(s, key, AsInt64)
}

func (s Store) GetString(key string) (string, bool) {
	return lookup(s, key, asType[string])
}

// GetStrings accepts a list of strings or a single string.
func (s Store) GetStrings(key string) ([]string, bool) {
	return lookup(s, key, AsStrings)
}

func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(key), "_", "-")
}

func AsInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case uint:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	}
	return 0, false
}

func AsStrings(value any) ([]string, bool) {
	switch typed := value.(type) {
	case string:
		return []string{typed}, true
	case []string:
		return slices.Clone(typed), true
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			text, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, text)
		}
		return out, true
	default:
		return nil, false
	}
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenMap(key, nested, out)
			continue
		}
		out[key] = value
	}
}
