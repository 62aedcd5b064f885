package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"regwatch/internal/config"
	"regwatch/internal/event"
	"regwatch/internal/watcher"
)

func openSSE(t *testing.T, url string) (*http.Response, *bufio.Reader) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get sse: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

func readDataFrame(t *testing.T, reader *bufio.Reader) sseFrame {
	t.Helper()
	for {
		frame, err := readSSEFrame(reader)
		if err != nil {
			t.Fatalf("read sse frame: %v", err)
		}
		if len(frame.Data) > 0 {
			return frame
		}
	}
}

func TestEventsSSEStreamsRegistryEvents(t *testing.T) {
	bus := newRegistryBus(t)
	server := newTestServer(t, &EventsSSEHandler{Bus: bus})

	resp, reader := openSSE(t, server.URL+"/api/events/stream")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	waitForSubscribers(t, bus, 1)
	bus.Publish(keyChanged(`Software\TestApp`))

	frame := readDataFrame(t, reader)
	if frame.Event != watcher.EventTypeKeyChanged {
		t.Fatalf("expected event name %q, got %q", watcher.EventTypeKeyChanged, frame.Event)
	}
	var payload eventPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Key != `HKEY_CURRENT_USER\Software\TestApp` {
		t.Fatalf("unexpected key %q", payload.Key)
	}
}

func TestEventsSSEIncludesConfigEvents(t *testing.T) {
	bus := newRegistryBus(t)
	server := newTestServer(t, &EventsSSEHandler{Bus: bus})

	_, reader := openSSE(t, server.URL+"/api/events/stream?types=config_reloaded,config_reload_failed")
	waitForSubscribers(t, bus, 1)
	deadline := time.Now().Add(time.Second)
	for config.Bus().SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for config subscriber")
		}
		time.Sleep(time.Millisecond)
	}

	bus.Publish(keyChanged(`Software\Filtered`))
	config.Bus().Publish(event.NewConfigEvent("regwatch.toml", 3, nil))

	frame := readDataFrame(t, reader)
	if !strings.HasPrefix(frame.Event, "config_") {
		t.Fatalf("expected config event, got %q", frame.Event)
	}
	var payload configEventPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Path != "regwatch.toml" || payload.Keys != 3 {
		t.Fatalf("unexpected config payload %+v", payload)
	}
}

func TestEventsSSERequiresToken(t *testing.T) {
	bus := newRegistryBus(t)
	server := newTestServer(t, &EventsSSEHandler{Bus: bus, AuthToken: "secret"})

	resp, err := http.Get(server.URL + "/api/events/stream")
	if err != nil {
		t.Fatalf("get sse: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSSETypeFilterParsesLists(t *testing.T) {
	filter := newSSETypeFilter([]string{"key_changed, watch_failed", ""})
	if !filter.Allows("key_changed") || !filter.Allows("watch_failed") {
		t.Fatal("expected listed types to pass")
	}
	if filter.Allows("config_reloaded") {
		t.Fatal("expected unlisted type to be filtered")
	}
	if !newSSETypeFilter(nil).Allows("anything") {
		t.Fatal("expected empty filter to pass everything")
	}
}
