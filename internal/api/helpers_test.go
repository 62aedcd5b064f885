package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"regwatch/internal/logging"
	"regwatch/internal/metrics"
	"regwatch/internal/regkey"
	"regwatch/internal/watcher"
)

var (
	appKey     = regkey.NewTarget(regkey.CurrentUser, `Software\TestApp`)
	missingKey = regkey.NewTarget(regkey.CurrentUser, `Software\Missing`)
)

type fakeKeys struct {
	mu   sync.Mutex
	keys map[string]*regkey.FakeKey
}

func (f *fakeKeys) open(target regkey.Target) (regkey.Key, error) {
	if target.Path == missingKey.Path {
		return nil, &regkey.OpenError{Hive: target.Hive, Path: target.Path, Code: 2, Err: errors.New("not found")}
	}
	key := regkey.NewFakeKey()
	f.mu.Lock()
	f.keys[target.String()] = key
	f.mu.Unlock()
	return key, nil
}

func (f *fakeKeys) get(t *testing.T, target regkey.Target) *regkey.FakeKey {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[target.String()]
	if !ok {
		t.Fatalf("no key opened for %s", target)
	}
	return key
}

func newTestLogger() *logging.Logger {
	return logging.NewLoggerWithOutput(logging.NewLogBuffer(100), logging.LevelDebug, io.Discard)
}

func newTestHub(t *testing.T, logger *logging.Logger) (*watcher.Hub, *fakeKeys) {
	t.Helper()
	return newTestHubWithRegistry(t, logger, metrics.NewRegistry())
}

func newTestHubWithRegistry(t *testing.T, logger *logging.Logger, registry *metrics.Registry) (*watcher.Hub, *fakeKeys) {
	t.Helper()
	keys := &fakeKeys{keys: make(map[string]*regkey.FakeKey)}
	hub := watcher.NewHub(context.Background(), watcher.Options{
		Logger:      logger,
		Registry:    registry,
		Opener:      keys.open,
		WaitTimeout: 20 * time.Millisecond,
		RetryDelay:  5 * time.Millisecond,
		JoinTimeout: time.Second,
	})
	t.Cleanup(func() { _ = hub.Close() })
	return hub, keys
}

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping server test (listener unavailable): %v", err)
	}
	server := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	server.Start()
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

// changeWhenArmed fires one change on key once its watcher has armed.
func changeWhenArmed(t *testing.T, key *regkey.FakeKey) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !key.Armed() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for watcher to arm")
		}
		time.Sleep(time.Millisecond)
	}
	if !key.Change() {
		t.Fatal("expected change to be observed")
	}
}
