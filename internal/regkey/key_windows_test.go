//go:build windows

package regkey

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/windows/registry"
)

func createTestKey(t *testing.T) string {
	t.Helper()
	path := fmt.Sprintf(`Software\regwatch-test-%d`, time.Now().UnixNano())
	key, _, err := registry.CreateKey(registry.CURRENT_USER, path, registry.ALL_ACCESS)
	if err != nil {
		t.Skipf("skipping registry test (create key failed): %v", err)
	}
	_ = key.Close()
	t.Cleanup(func() {
		_ = registry.DeleteKey(registry.CURRENT_USER, path)
	})
	return path
}

func TestNativeKeySignalsOnValueWrite(t *testing.T) {
	path := createTestKey(t)
	key, err := Open(NewTarget(CurrentUser, path))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer key.Close()

	if err := key.Arm(); err != nil {
		t.Fatalf("arm: %v", err)
	}

	writable, err := registry.OpenKey(registry.CURRENT_USER, path, registry.SET_VALUE)
	if err != nil {
		t.Fatalf("open writable: %v", err)
	}
	if err := writable.SetStringValue("marker", "1"); err != nil {
		t.Fatalf("set value: %v", err)
	}
	_ = writable.Close()

	result, err := key.Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if result != WaitSignaled {
		t.Fatalf("expected signaled wait, got %s", result)
	}
}

func TestNativeKeyMissingKeyFails(t *testing.T) {
	_, err := Open(NewTarget(CurrentUser, fmt.Sprintf(`Software\regwatch-missing-%d`, time.Now().UnixNano())))
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected *OpenError, got %v", err)
	}
	if openErr.Code == 0 {
		t.Fatal("expected an OS status code")
	}
}

func TestNativeKeyCloseIsIdempotent(t *testing.T) {
	path := createTestKey(t)
	key, err := Open(NewTarget(CurrentUser, path))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := key.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := key.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := key.Arm(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := key.Wait(time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Wait, got %v", err)
	}
	if err := key.Signal(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Signal, got %v", err)
	}
}

func TestNativeKeySignalRacesClose(t *testing.T) {
	path := createTestKey(t)
	for i := 0; i < 50; i++ {
		key, err := Open(NewTarget(CurrentUser, path))
		if err != nil {
			t.Fatalf("open: %v", err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := key.Signal(); err != nil && !errors.Is(err, ErrClosed) {
					errs <- err
				}
			}()
		}
		if err := key.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("signal during close: %v", err)
		}
	}
}
