//go:build windows

package regkey

import (
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const (
	waitObject0 = 0x00000000
	waitTimeout = 0x00000102

	notifyFilter = windows.REG_NOTIFY_CHANGE_NAME |
		windows.REG_NOTIFY_CHANGE_ATTRIBUTES |
		windows.REG_NOTIFY_CHANGE_LAST_SET
)

// rootKeys maps hives to predefined root handles; read-only after init.
var rootKeys = map[Hive]registry.Key{
	LocalMachine: registry.LOCAL_MACHINE,
	CurrentUser:  registry.CURRENT_USER,
	ClassesRoot:  registry.CLASSES_ROOT,
	Users:        registry.USERS,
}

type nativeKey struct {
	// mu keeps Close from releasing handles while Arm or Wait is using them.
	mu     sync.RWMutex
	key    registry.Key
	event  windows.Handle
	closed atomic.Bool
	once   sync.Once
}

func openNative(target Target) (Key, error) {
	root, ok := rootKeys[target.Hive]
	if !ok {
		return nil, &OpenError{Hive: target.Hive, Path: target.Path, Err: ErrUnknownHive}
	}

	key, err := registry.OpenKey(root, target.Path, registry.READ|registry.NOTIFY)
	if err != nil {
		return nil, &OpenError{Hive: target.Hive, Path: target.Path, Code: statusCode(err), Err: err}
	}

	event, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		_ = key.Close()
		return nil, &OpenError{Hive: target.Hive, Path: target.Path, Code: statusCode(err), Err: err}
	}

	return &nativeKey{key: key, event: event}, nil
}

func (k *nativeKey) Arm() error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed.Load() {
		return ErrClosed
	}
	return windows.RegNotifyChangeKeyValue(windows.Handle(k.key), true, notifyFilter, k.event, true)
}

func (k *nativeKey) Wait(timeout time.Duration) (WaitResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed.Load() {
		return WaitTimeout, ErrClosed
	}

	status, err := windows.WaitForSingleObject(k.event, uint32(timeout/time.Millisecond))
	switch status {
	case waitObject0:
		return WaitSignaled, nil
	case waitTimeout:
		return WaitTimeout, nil
	}
	if err == nil {
		err = syscall.Errno(status)
	}
	return WaitTimeout, err
}

func (k *nativeKey) Signal() error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed.Load() {
		return ErrClosed
	}
	return windows.SetEvent(k.event)
}

func (k *nativeKey) Close() error {
	var closeErr error
	k.once.Do(func() {
		k.closed.Store(true)
		// Wake any waiter before taking the write lock.
		_ = windows.SetEvent(k.event)
		k.mu.Lock()
		defer k.mu.Unlock()
		closeErr = multierr.Combine(k.key.Close(), windows.CloseHandle(k.event))
	})
	return closeErr
}

func statusCode(err error) uint32 {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return uint32(errno)
	}
	return 0
}
