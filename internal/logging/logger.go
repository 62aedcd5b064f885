package logging

import (
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const DefaultBufferSize = 1000

// Logger records structured entries in a LogBuffer and prints them. Loggers
// derived with With or Named share the buffer, subscribers and minimum level
// of their parent. All methods are safe on a nil Logger.
type Logger struct {
	buffer   *LogBuffer
	output   *log.Logger
	minLevel *atomic.Value
	category string
	fields   map[string]string
	hub      *LogHub
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stdout)
}

func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if output == nil {
		output = io.Discard
	}
	level := &atomic.Value{}
	level.Store(normalizeLevel(minLevel))
	return &Logger{
		buffer:   buffer,
		output:   log.New(output, "", log.LstdFlags),
		minLevel: level,
		hub:      NewLogHub(),
	}
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

// Subscribe streams entries at or above minLevel as they are logged.
func (l *Logger) Subscribe(minLevel Level) (<-chan LogEntry, func()) {
	if l == nil {
		return nil, func() {}
	}
	return l.hub.Subscribe(0, minLevel)
}

// Hub exposes the live subscriber set.
func (l *Logger) Hub() *LogHub {
	if l == nil {
		return nil
	}
	return l.hub
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	derived := *l
	derived.fields = cloneFields(l.fields, fields)
	return &derived
}

// Named returns a logger whose entries carry category, e.g. "watcher".
func (l *Logger) Named(category string) *Logger {
	if l == nil {
		return l
	}
	derived := *l
	derived.category = category
	return &derived
}

func (l *Logger) Level() Level {
	if l == nil {
		return ""
	}
	return l.minLevel.Load().(Level)
}

// SetLevel changes the minimum level for l and every logger sharing its
// output.
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.minLevel.Store(normalizeLevel(level))
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return LevelAtLeast(level, l.Level())
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Category:  l.category,
		Message:   message,
		Context:   cloneFields(l.fields, fields),
	}
	l.buffer.Add(entry)
	l.hub.Broadcast(entry)
	l.output.Print(formatEntry(entry))
}

func normalizeLevel(level Level) Level {
	if level.Valid() {
		return level
	}
	return LevelInfo
}

func cloneFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}

// formatEntry renders `level=info category=watcher msg="..." key="value"`
// with context keys sorted.
func formatEntry(entry LogEntry) string {
	var builder strings.Builder
	builder.WriteString("level=")
	builder.WriteString(string(entry.Level))
	if entry.Category != "" {
		builder.WriteString(" category=")
		builder.WriteString(entry.Category)
	}
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteString(" ")
		builder.WriteString(key)
		builder.WriteString("=")
		builder.WriteString(strconv.Quote(entry.Context[key]))
	}
	return builder.String()
}
