package watcher

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"regwatch/internal/event"
	"regwatch/internal/logging"
	"regwatch/internal/metrics"
	"regwatch/internal/regkey"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testTarget = `Software\TestApp`

func testOptions(key *regkey.FakeKey) Options {
	return Options{
		Logger:      logging.NewLoggerWithOutput(logging.NewLogBuffer(100), logging.LevelDebug, io.Discard),
		Registry:    metrics.NewRegistry(),
		Opener:      regkey.FakeOpener(key),
		WaitTimeout: 20 * time.Millisecond,
		RetryDelay:  5 * time.Millisecond,
		JoinTimeout: time.Second,
	}
}

func newTestWatcher(t *testing.T, key *regkey.FakeKey, options Options) *Watcher {
	t.Helper()
	w, err := NewWithOptions(regkey.NewTarget(regkey.CurrentUser, testTarget), options)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func collect(t *testing.T, w *Watcher) *event.EventCollector[Event] {
	t.Helper()
	collector := event.NewEventCollector[Event]()
	if _, err := w.Subscribe(collector.Collect); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return collector
}

func TestNewReturnsOpenError(t *testing.T) {
	options := testOptions(nil)
	options.Opener = regkey.FailingOpener(2, errors.New("the system cannot find the file specified"))

	w, err := NewWithOptions(regkey.NewTarget(regkey.CurrentUser, `Software\Missing`), options)
	if w != nil {
		t.Fatal("expected no watcher on open failure")
	}
	var openErr *regkey.OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if openErr.Code != 2 || openErr.Path != `Software\Missing` {
		t.Fatalf("unexpected open error %+v", openErr)
	}
}

func TestNewWrapsPlainOpenerError(t *testing.T) {
	boom := errors.New("boom")
	options := testOptions(nil)
	options.Opener = func(regkey.Target) (regkey.Key, error) { return nil, boom }

	_, err := NewWithOptions(regkey.NewTarget(regkey.LocalMachine, `Software`), options)
	if !regkey.IsOpenError(err) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped OpenError, got %v", err)
	}
}

func TestNewStartsInCreatedState(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))

	if w.State() != StateCreated {
		t.Fatalf("expected created, got %s", w.State())
	}
	if w.Target().String() != `HKEY_CURRENT_USER\Software\TestApp` {
		t.Fatalf("unexpected target %s", w.Target())
	}
	time.Sleep(30 * time.Millisecond)
	if key.Arms() != 0 {
		t.Fatalf("expected no arm before Start, got %d", key.Arms())
	}
}

func TestSingleChangeDeliversOneEvent(t *testing.T) {
	key := regkey.NewFakeKey()
	options := testOptions(key)
	w := newTestWatcher(t, key, options)
	collector := collect(t, w)

	w.Start()
	waitFor(t, "arm", key.Armed)
	if !key.Change() {
		t.Fatal("expected change to be observed")
	}
	if !collector.WaitForCount(1, 2*time.Second) {
		t.Fatal("timed out waiting for change event")
	}
	time.Sleep(60 * time.Millisecond)

	events := collector.Events()
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(events))
	}
	got := events[0]
	if got.Type() != EventTypeKeyChanged || got.Hive != regkey.CurrentUser || got.Path != testTarget {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.Timestamp().IsZero() {
		t.Fatal("expected timestamp")
	}
	if w.Metrics().Changes != 1 {
		t.Fatalf("expected 1 change counted, got %d", w.Metrics().Changes)
	}
	expected := `
# HELP regwatch_watcher_changes_total Change notifications dispatched to subscribers
# TYPE regwatch_watcher_changes_total counter
regwatch_watcher_changes_total{target="HKEY_CURRENT_USER\\Software\\TestApp"} 1
`
	if err := testutil.GatherAndCompare(options.Registry.Gatherer(), strings.NewReader(expected), "regwatch_watcher_changes_total"); err != nil {
		t.Fatalf("unexpected change metric: %v", err)
	}
}

func TestLoopReArmsAfterEachChange(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))
	collector := collect(t, w)

	w.Start()
	for i := 1; i <= 3; i++ {
		waitFor(t, "arm", key.Armed)
		key.Change()
		if !collector.WaitForCount(i, 2*time.Second) {
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	if key.Arms() < 3 {
		t.Fatalf("expected a fresh arm per change, got %d", key.Arms())
	}
}

func TestTimeoutKeepsRegistrationArmed(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))

	w.Start()
	waitFor(t, "wait timeouts", func() bool { return w.Metrics().WaitTimeouts >= 3 })
	if key.Arms() != 1 {
		t.Fatalf("expected a single outstanding arm across timeouts, got %d", key.Arms())
	}
}

func TestChangeWhileUnarmedIsNotReported(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))
	collector := collect(t, w)

	if key.Change() {
		t.Fatal("expected change before Start to be missed")
	}
	w.Start()
	waitFor(t, "arm", key.Armed)
	time.Sleep(40 * time.Millisecond)
	if collector.Len() != 0 {
		t.Fatalf("expected no events, got %d", collector.Len())
	}
	if key.Missed() != 1 {
		t.Fatalf("expected 1 missed change, got %d", key.Missed())
	}
}

func TestStartTwiceRunsOneLoop(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))

	w.Start()
	w.Start()
	waitFor(t, "arm", key.Armed)
	time.Sleep(60 * time.Millisecond)

	if w.State() != StateStarted {
		t.Fatalf("expected started, got %s", w.State())
	}
	if key.Arms() != 1 {
		t.Fatalf("expected one arm, got %d", key.Arms())
	}
}

func TestStopWhenNotStartedIsNoop(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))

	w.Stop()
	if w.State() != StateCreated {
		t.Fatalf("expected created, got %s", w.State())
	}
}

func TestStopDoesNotDispatchAndStartResumes(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))
	collector := collect(t, w)

	w.Start()
	waitFor(t, "first arm", func() bool { return key.Arms() == 1 })
	w.Stop()
	if w.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", w.State())
	}
	time.Sleep(40 * time.Millisecond)
	if collector.Len() != 0 {
		t.Fatalf("expected stop wake not to be dispatched, got %d events", collector.Len())
	}

	w.Start()
	waitFor(t, "second arm", func() bool { return key.Arms() == 2 })
	key.Change()
	if !collector.WaitForCount(1, 2*time.Second) {
		t.Fatal("timed out waiting for event after restart")
	}
	time.Sleep(40 * time.Millisecond)
	if collector.Len() != 1 {
		t.Fatalf("expected 1 event after restart, got %d", collector.Len())
	}
}

func TestCloseReleasesOnceUnderConcurrency(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))
	w.Start()
	waitFor(t, "arm", key.Armed)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Close()
		}()
	}
	wg.Wait()

	if key.Closes() != 1 || key.CloseCalls() != 1 {
		t.Fatalf("expected a single release, got %d releases from %d calls", key.Closes(), key.CloseCalls())
	}
	if w.State() != StateDisposed {
		t.Fatalf("expected disposed, got %s", w.State())
	}
}

func TestStartAfterCloseIsNoop(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	w.Start()
	time.Sleep(30 * time.Millisecond)

	if w.State() != StateDisposed {
		t.Fatalf("expected disposed, got %s", w.State())
	}
	if key.Arms() != 0 {
		t.Fatalf("expected no arm after close, got %d", key.Arms())
	}
	if _, err := w.Subscribe(func(Event) {}); !errors.Is(err, regkey.ErrClosed) {
		t.Fatalf("expected ErrClosed from Subscribe, got %v", err)
	}
}

func TestCloseRightAfterStart(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))
	collector := collect(t, w)

	w.Start()
	started := time.Now()
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("close took %s", elapsed)
	}
	if collector.Len() != 0 {
		t.Fatalf("expected no events, got %d", collector.Len())
	}
	if w.Err() != nil {
		t.Fatalf("expected no failure after close, got %v", w.Err())
	}
}

func TestCloseInterruptsRetrySleep(t *testing.T) {
	key := regkey.NewFakeKey()
	options := testOptions(key)
	options.RetryDelay = 10 * time.Second
	w := newTestWatcher(t, key, options)

	key.QueueWaitErrors(errors.New("wait failed"))
	w.Start()
	waitFor(t, "transient error", func() bool { return w.Metrics().TransientErrors == 1 })

	started := time.Now()
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if elapsed := time.Since(started); elapsed > options.JoinTimeout+500*time.Millisecond {
		t.Fatalf("close took %s", elapsed)
	}
	if w.Metrics().JoinTimeouts != 0 {
		t.Fatalf("expected loop to exit before join timeout")
	}
}

func TestCloseFromCallbackDoesNotWaitForItself(t *testing.T) {
	key := regkey.NewFakeKey()
	options := testOptions(key)
	options.JoinTimeout = 5 * time.Second
	w := newTestWatcher(t, key, options)

	closed := make(chan time.Duration, 1)
	if _, err := w.Subscribe(func(Event) {
		started := time.Now()
		_ = w.Close()
		closed <- time.Since(started)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	w.Start()
	waitFor(t, "arm", key.Armed)
	key.Change()

	elapsed := event.ReceiveWithTimeout(t, (<-chan time.Duration)(closed), 2*time.Second)
	if elapsed > time.Second {
		t.Fatalf("close from callback took %s", elapsed)
	}
	if w.Metrics().JoinTimeouts != 0 {
		t.Fatalf("expected no join timeout, got %d", w.Metrics().JoinTimeouts)
	}
	if w.State() != StateDisposed {
		t.Fatalf("expected disposed, got %s", w.State())
	}
	if key.Closes() != 1 {
		t.Fatalf("expected key released once, got %d", key.Closes())
	}
}

func TestStopRacingStartLeavesStartedRunLive(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))
	w.Start()

	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			w.Stop()
		}()
		go func() {
			defer wg.Done()
			w.Start()
		}()
		wg.Wait()

		if w.State() != StateStarted {
			continue
		}
		run := w.run.Load()
		select {
		case <-run.stop:
			t.Fatalf("iteration %d: watcher is started but its run was halted", i)
		default:
		}
	}
}

func TestTransientWaitErrorsAreRetried(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))
	collector := collect(t, w)

	key.QueueWaitErrors(errors.New("first"), errors.New("second"))
	w.Start()
	waitFor(t, "retries", func() bool { return w.Metrics().TransientErrors == 2 })
	waitFor(t, "arm", key.Armed)
	if key.Arms() != 1 {
		t.Fatalf("expected retries to keep the outstanding arm, got %d arms", key.Arms())
	}
	key.Change()

	if !collector.WaitForCount(1, 2*time.Second) {
		t.Fatal("timed out waiting for event after retries")
	}
	if w.State() != StateStarted {
		t.Fatalf("expected started, got %s", w.State())
	}
	waitFor(t, "re-arm after event", func() bool { return key.Arms() == 2 })
}

func TestArmFailureIsSilentByDefault(t *testing.T) {
	key := regkey.NewFakeKey()
	options := testOptions(key)
	handlerCalls := 0
	options.ErrorHandler = func(error) { handlerCalls++ }
	w := newTestWatcher(t, key, options)
	collector := collect(t, w)

	boom := errors.New("access denied")
	key.SetArmError(boom)
	w.Start()
	waitFor(t, "failed state", func() bool { return w.State() == StateFailed })

	if !errors.Is(w.Err(), boom) {
		t.Fatalf("expected recorded arm error, got %v", w.Err())
	}
	if collector.Len() != 0 || handlerCalls != 0 {
		t.Fatalf("expected silent failure, got %d events and %d handler calls", collector.Len(), handlerCalls)
	}
	w.Start()
	if w.State() != StateFailed {
		t.Fatalf("expected Start to leave a failed watcher alone, got %s", w.State())
	}
	count, err := testutil.GatherAndCount(options.Registry.Gatherer(), "regwatch_watcher_failures_total")
	if err != nil || count != 1 {
		t.Fatalf("expected one failure series, got %d (%v)", count, err)
	}
}

func TestArmFailureReported(t *testing.T) {
	key := regkey.NewFakeKey()
	options := testOptions(key)
	options.ReportFailures = true
	handled := make(chan error, 1)
	options.ErrorHandler = func(err error) { handled <- err }
	w := newTestWatcher(t, key, options)
	collector := collect(t, w)

	boom := errors.New("access denied")
	key.SetArmError(boom)
	w.Start()

	err := event.ReceiveWithTimeout(t, (<-chan error)(handled), 2*time.Second)
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler to receive arm error, got %v", err)
	}
	if !collector.WaitForCount(1, 2*time.Second) {
		t.Fatal("timed out waiting for failure event")
	}
	failed := collector.Events()[0]
	if failed.Type() != EventTypeWatchFailed || failed.Error == "" {
		t.Fatalf("unexpected failure event %+v", failed)
	}
}

func TestCallbackPanicDoesNotStopDelivery(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))
	if _, err := w.Subscribe(func(Event) { panic("subscriber bug") }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	collector := collect(t, w)

	w.Start()
	for i := 1; i <= 2; i++ {
		waitFor(t, "arm", key.Armed)
		key.Change()
		if !collector.WaitForCount(i, 2*time.Second) {
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	if w.Metrics().CallbackPanics != 2 {
		t.Fatalf("expected 2 recovered panics, got %d", w.Metrics().CallbackPanics)
	}
}

func TestSubscribersRunInRegistrationOrder(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		index := i
		_, _ = w.Subscribe(func(Event) {
			mu.Lock()
			order = append(order, index)
			mu.Unlock()
			if index == 2 {
				close(done)
			}
		})
	}

	w.Start()
	waitFor(t, "arm", key.Armed)
	key.Change()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callbacks")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("unexpected callback order %v", order)
	}
}

func TestHandleCloseUnsubscribes(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))
	removed := event.NewEventCollector[Event]()
	handle, err := w.Subscribe(removed.Collect)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	kept := collect(t, w)

	if err := handle.Close(); err != nil {
		t.Fatalf("close handle: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	w.Start()
	waitFor(t, "arm", key.Armed)
	key.Change()
	if !kept.WaitForCount(1, 2*time.Second) {
		t.Fatal("timed out waiting for remaining subscriber")
	}
	if removed.Len() != 0 {
		t.Fatalf("expected closed handle to receive nothing, got %d", removed.Len())
	}
}

func TestSubscribeRejectsNilCallback(t *testing.T) {
	key := regkey.NewFakeKey()
	w := newTestWatcher(t, key, testOptions(key))

	if _, err := w.Subscribe(nil); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("expected ErrNilCallback, got %v", err)
	}
	if _, err := w.OnChange(nil); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("expected ErrNilCallback, got %v", err)
	}
}

func TestOnChangeAndClockTimestamp(t *testing.T) {
	key := regkey.NewFakeKey()
	options := testOptions(key)
	mockClock := clock.NewMock()
	changedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	mockClock.Set(changedAt)
	options.Clock = mockClock
	w := newTestWatcher(t, key, options)

	type change struct {
		hive regkey.Hive
		path string
	}
	changes := make(chan change, 1)
	if _, err := w.OnChange(func(hive regkey.Hive, path string) {
		changes <- change{hive: hive, path: path}
	}); err != nil {
		t.Fatalf("on change: %v", err)
	}
	collector := collect(t, w)

	w.Start()
	waitFor(t, "arm", key.Armed)
	key.Change()

	got := event.ReceiveWithTimeout(t, (<-chan change)(changes), 2*time.Second)
	if got.hive != regkey.CurrentUser || got.path != testTarget {
		t.Fatalf("unexpected change %+v", got)
	}
	if !collector.WaitForCount(1, 2*time.Second) {
		t.Fatal("timed out waiting for event")
	}
	if stamp := collector.Events()[0].Timestamp(); !stamp.Equal(changedAt) {
		t.Fatalf("expected timestamp %s, got %s", changedAt, stamp)
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateCreated:  "created",
		StateStarted:  "started",
		StateStopped:  "stopped",
		StateFailed:   "failed",
		StateDisposed: "disposed",
		State(42):     "unknown",
	}
	for state, want := range cases {
		if state.String() != want {
			t.Fatalf("expected %q, got %q", want, state.String())
		}
	}
}
