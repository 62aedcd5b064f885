package regkey

import (
	"fmt"
	"strings"
)

// Target is a hive plus a subkey path below it.
type Target struct {
	Hive Hive
	Path string
}

func NewTarget(hive Hive, path string) Target {
	return Target{Hive: hive, Path: normalizePath(path)}
}

// ParseKeyPath splits a full key path such as HKCU\Software\TestApp into its
// hive and subkey path. Forward slashes are accepted as separators.
func ParseKeyPath(fullPath string) (Target, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(fullPath), "/", `\`)
	if normalized == "" {
		return Target{}, fmt.Errorf("key path is required")
	}
	root, rest, _ := strings.Cut(normalized, `\`)
	hive, err := ParseHive(root)
	if err != nil {
		return Target{}, err
	}
	return NewTarget(hive, rest), nil
}

func (t Target) String() string {
	if t.Path == "" {
		return t.Hive.String()
	}
	return t.Hive.String() + `\` + t.Path
}

func (t Target) MarshalText() ([]byte, error) {
	if !t.Hive.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHive, int(t.Hive))
	}
	return []byte(t.String()), nil
}

func (t *Target) UnmarshalText(text []byte) error {
	parsed, err := ParseKeyPath(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func normalizePath(path string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(path), "/", `\`)
	return strings.Trim(cleaned, `\`)
}
