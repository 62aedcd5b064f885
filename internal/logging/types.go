package logging

import (
	"fmt"
	"strings"
	"time"
)

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

var levelRanks = map[Level]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Rank orders levels from debug (0) to error (3). Unknown levels rank as info.
func (l Level) Rank() int {
	if rank, ok := levelRanks[l]; ok {
		return rank
	}
	return levelRanks[LevelInfo]
}

func (l Level) Valid() bool {
	_, ok := levelRanks[l]
	return ok
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, ok := ParseLevel(string(text))
	if !ok {
		return fmt.Errorf("unknown log level %q", string(text))
	}
	*l = parsed
	return nil
}

// ParseLevel accepts the level names case-insensitively, plus "warn".
func ParseLevel(value string) (Level, bool) {
	switch level := Level(strings.ToLower(strings.TrimSpace(value))); level {
	case "warn":
		return LevelWarning, true
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return level, true
	default:
		return "", false
	}
}

// LevelAtLeast reports whether level passes a minLevel filter. An empty
// minLevel passes everything.
func LevelAtLeast(level, minLevel Level) bool {
	if minLevel == "" {
		return true
	}
	return level.Rank() >= minLevel.Rank()
}

type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Category  string            `json:"category,omitempty"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}
