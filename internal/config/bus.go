package config

import (
	"context"
	"sync"

	"regwatch/internal/event"
)

const reloadHistorySize = 16

var reloadBus = sync.OnceValue(func() *event.Bus[event.ConfigEvent] {
	return event.NewBus[event.ConfigEvent](context.Background(), event.BusOptions{
		Name:        "config_events",
		HistorySize: reloadHistorySize,
	})
})

// Bus carries a ConfigEvent for every reload attempt made by Watch. It is
// process wide so API streams can subscribe without a handle on the watcher.
func Bus() *event.Bus[event.ConfigEvent] {
	return reloadBus()
}
