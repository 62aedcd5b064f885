package logging

import (
	"sync"

	"regwatch/internal/buffer"
)

// LogBuffer retains the newest entries for /api/logs and stream replay.
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Add(entry)
}

func (b *LogBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Len()
}

func (b *LogBuffer) List() []LogEntry {
	return b.Tail(0, "")
}

// Tail returns at most limit of the newest entries at or above minLevel,
// oldest first. A non-positive limit returns every match.
func (b *LogBuffer) Tail(limit int, minLevel Level) []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if minLevel == "" {
		return b.entries.Last(limit)
	}
	entries := b.entries.List()
	filtered := entries[:0]
	for _, entry := range entries {
		if LevelAtLeast(entry.Level, minLevel) {
			filtered = append(filtered, entry)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}
