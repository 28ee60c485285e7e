package invoke

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petal-labs/anther/extension"
)

// scriptedAdapter simulates transports with controllable latency and
// concurrency tracking.
type scriptedAdapter struct {
	mu          sync.Mutex
	tools       []extension.ToolDescriptor
	listErr     error
	delay       time.Duration
	invokeErr   error
	multiplexes bool
	canceled    []string
	closed      bool
	entered     chan<- string
	gate        <-chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	started     []string
}

func (a *scriptedAdapter) Connect(ctx context.Context) error { return nil }

func (a *scriptedAdapter) ListTools(ctx context.Context) ([]extension.ToolDescriptor, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	return a.tools, nil
}

func (a *scriptedAdapter) Invoke(ctx context.Context, req extension.InvokeRequest) (extension.InvokeResponse, error) {
	current := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		max := a.maxInFlight.Load()
		if current <= max || a.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}

	a.mu.Lock()
	a.started = append(a.started, req.Tool)
	delay := a.delay
	invokeErr := a.invokeErr
	a.mu.Unlock()

	if a.entered != nil {
		a.entered <- req.Tool
	}
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return extension.InvokeResponse{}, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return extension.InvokeResponse{}, ctx.Err()
		}
	}
	if invokeErr != nil {
		return extension.InvokeResponse{}, invokeErr
	}
	return extension.InvokeResponse{Text: "done:" + req.Tool}, nil
}

func (a *scriptedAdapter) Cancel(callID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.canceled = append(a.canceled, callID)
}

func (a *scriptedAdapter) Multiplexing() bool { return a.multiplexes }

func (a *scriptedAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *scriptedAdapter) canceledCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.canceled))
	copy(out, a.canceled)
	return out
}

func (a *scriptedAdapter) startedTools() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.started))
	copy(out, a.started)
	return out
}

type scriptedFactory struct {
	adapters map[string]*scriptedAdapter
}

func (f *scriptedFactory) New(ext extension.Extension) (extension.Adapter, error) {
	adapter, ok := f.adapters[ext.ID]
	if !ok {
		return nil, fmt.Errorf("no adapter for %s", ext.ID)
	}
	return adapter, nil
}

func newTestInvoker(t *testing.T, adapters map[string]*scriptedAdapter, exts ...extension.Extension) (*Invoker, *extension.Registry) {
	t.Helper()
	registry := extension.NewRegistry(&scriptedFactory{adapters: adapters}, nil)
	for _, ext := range exts {
		if _, err := registry.Register(ext); err != nil {
			t.Fatalf("Register(%s) error = %v", ext.ID, err)
		}
		if err := registry.Enable(context.Background(), ext.ID); err != nil {
			t.Fatalf("Enable(%s) error = %v", ext.ID, err)
		}
	}
	return New(registry, nil), registry
}

func TestInvokeSucceeds(t *testing.T) {
	adapter := &scriptedAdapter{multiplexes: true}
	invoker, _ := newTestInvoker(t,
		map[string]*scriptedAdapter{"dev": adapter},
		extension.Extension{ID: "dev", Kind: KindForTest()},
	)

	record, err := invoker.Invoke(context.Background(), "dev", "shell", map[string]any{"cmd": "ls"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if record.Status != StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", record.Status)
	}
	if record.Response.Text != "done:shell" {
		t.Fatalf("response text = %q", record.Response.Text)
	}
	if record.ID == "" {
		t.Fatal("record has no call id")
	}

	stored, ok := invoker.Lookup(record.ID)
	if !ok || stored.Status != StatusSucceeded {
		t.Fatalf("Lookup() = %+v, %v", stored, ok)
	}
}

func TestInvokeNotReadyExtension(t *testing.T) {
	registry := extension.NewRegistry(&scriptedFactory{}, nil)
	if _, err := registry.Register(extension.Extension{ID: "dev", Kind: KindForTest()}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	invoker := New(registry, nil)

	record, err := invoker.Invoke(context.Background(), "dev", "shell", nil)
	if !errors.Is(err, extension.ErrNotReady) {
		t.Fatalf("Invoke() error = %v, want ErrNotReady", err)
	}
	if record.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", record.Status)
	}
}

func TestInvokeTimeoutFailsSingleLaneTransport(t *testing.T) {
	adapter := &scriptedAdapter{delay: 10 * time.Second}
	invoker, registry := newTestInvoker(t,
		map[string]*scriptedAdapter{"dev": adapter},
		extension.Extension{ID: "dev", Kind: KindForTest(), TimeoutSeconds: 1},
	)

	start := time.Now()
	record, err := invoker.Invoke(context.Background(), "dev", "shell", nil)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Invoke() error = nil, want timeout")
	}
	if record.Status != StatusTimedOut {
		t.Fatalf("status = %q, want timed_out", record.Status)
	}
	if code := extension.ErrorCode(err); code != extension.ErrorCodeTimeout {
		t.Fatalf("error code = %q, want TIMEOUT", code)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("Invoke() returned after %v, deadline was not enforced", elapsed)
	}
	if calls := adapter.canceledCalls(); len(calls) != 1 || calls[0] != record.ID {
		t.Fatalf("canceled calls = %v, want the abandoned call id", calls)
	}

	// A single-lane transport dies with its call; the extension must be
	// failed so callers do not route to a dead pipe.
	handle, err := registry.Get("dev")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if handle.State() != extension.StateFailed {
		t.Fatalf("state = %q, want failed", handle.State())
	}
}

func TestInvokeTimeoutKeepsMultiplexingExtensionReady(t *testing.T) {
	adapter := &scriptedAdapter{delay: 10 * time.Second, multiplexes: true}
	invoker, registry := newTestInvoker(t,
		map[string]*scriptedAdapter{"remote": adapter},
		extension.Extension{ID: "remote", Kind: KindForTest(), TimeoutSeconds: 1},
	)

	record, err := invoker.Invoke(context.Background(), "remote", "search", nil)
	if err == nil || record.Status != StatusTimedOut {
		t.Fatalf("record = %+v, err = %v, want timeout", record, err)
	}

	handle, err := registry.Get("remote")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if handle.State() != extension.StateReady {
		t.Fatalf("state = %q, want ready", handle.State())
	}
}

func TestInvokeCallerCancelMarksCanceled(t *testing.T) {
	adapter := &scriptedAdapter{delay: 10 * time.Second, multiplexes: true}
	invoker, _ := newTestInvoker(t,
		map[string]*scriptedAdapter{"remote": adapter},
		extension.Extension{ID: "remote", Kind: KindForTest()},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	record, err := invoker.Invoke(ctx, "remote", "search", nil)
	if err == nil {
		t.Fatal("Invoke() error = nil, want cancellation")
	}
	if record.Status != StatusCanceled {
		t.Fatalf("status = %q, want canceled", record.Status)
	}
	if code := extension.ErrorCode(err); code != extension.ErrorCodeCanceled {
		t.Fatalf("error code = %q, want CANCELED", code)
	}
}

func TestInvokeDisableLetsInFlightCallFinish(t *testing.T) {
	entered := make(chan string, 1)
	adapter := &scriptedAdapter{delay: 300 * time.Millisecond, multiplexes: true, entered: entered}
	invoker, registry := newTestInvoker(t,
		map[string]*scriptedAdapter{"slow": adapter},
		extension.Extension{ID: "slow", Kind: KindForTest(), TimeoutSeconds: 5},
	)

	type result struct {
		record ToolCall
		err    error
	}
	done := make(chan result, 1)
	go func() {
		record, err := invoker.Invoke(context.Background(), "slow", "work", nil)
		done <- result{record: record, err: err}
	}()

	// Disable mid-call. The call must run to completion, not be aborted.
	<-entered
	if err := registry.Disable(context.Background(), "slow"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Invoke() error = %v, want the in-flight call to finish", res.err)
	}
	if res.record.Status != StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", res.record.Status)
	}
	if res.record.Response.Text != "done:work" {
		t.Fatalf("response text = %q", res.record.Response.Text)
	}

	// Nothing new is accepted once the state left ready.
	if _, err := invoker.Invoke(context.Background(), "slow", "work", nil); !errors.Is(err, extension.ErrNotReady) {
		t.Fatalf("Invoke() after disable error = %v, want ErrNotReady", err)
	}
}

func TestInvokeForcedAbortMarksCanceled(t *testing.T) {
	entered := make(chan string, 1)
	adapter := &scriptedAdapter{delay: 10 * time.Second, multiplexes: true, entered: entered}
	invoker, registry := newTestInvoker(t,
		map[string]*scriptedAdapter{"remote": adapter},
		extension.Extension{ID: "remote", Kind: KindForTest()},
	)

	type result struct {
		record ToolCall
		err    error
	}
	done := make(chan result, 1)
	go func() {
		record, err := invoker.Invoke(context.Background(), "remote", "search", nil)
		done <- result{record: record, err: err}
	}()

	// A forced abort, here a health sweep failing the extension mid-call,
	// is not a deadline expiry and must not be reported as one.
	<-entered
	handle, err := registry.Get("remote")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	handle.Fail(errors.New("health check threshold exceeded"))

	res := <-done
	if res.err == nil {
		t.Fatal("Invoke() error = nil, want cancellation")
	}
	if res.record.Status != StatusCanceled {
		t.Fatalf("status = %q, want canceled", res.record.Status)
	}
	if code := extension.ErrorCode(res.err); code != extension.ErrorCodeCanceled {
		t.Fatalf("error code = %q, want CANCELED", code)
	}
	if handle.State() != extension.StateFailed {
		t.Fatalf("state = %q, want failed", handle.State())
	}
}

func TestInvokeSerializesSingleLaneExtension(t *testing.T) {
	adapter := &scriptedAdapter{delay: 50 * time.Millisecond}
	invoker, _ := newTestInvoker(t,
		map[string]*scriptedAdapter{"dev": adapter},
		extension.Extension{ID: "dev", Kind: KindForTest()},
	)

	const calls = 4
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := invoker.Invoke(context.Background(), "dev", fmt.Sprintf("tool-%d", n), nil); err != nil {
				t.Errorf("Invoke() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if max := adapter.maxInFlight.Load(); max != 1 {
		t.Fatalf("max concurrent calls = %d, want 1", max)
	}
	if started := adapter.startedTools(); len(started) != calls {
		t.Fatalf("started %d calls, want %d", len(started), calls)
	}
}

func TestInvokeDistinctExtensionsRunConcurrently(t *testing.T) {
	// Both adapters hold their call open until the test observes both in
	// flight. If calls serialized across extensions, the second entry
	// would never arrive.
	entered := make(chan string, 2)
	gate := make(chan struct{})
	adapters := map[string]*scriptedAdapter{
		"a": {entered: entered, gate: gate},
		"b": {entered: entered, gate: gate},
	}
	invoker, _ := newTestInvoker(t,
		adapters,
		extension.Extension{ID: "a", Kind: KindForTest()},
		extension.Extension{ID: "b", Kind: KindForTest()},
	)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := invoker.Invoke(context.Background(), id, "wait", nil); err != nil {
				t.Errorf("Invoke(%s) error = %v", id, err)
			}
		}(id)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("calls to distinct extensions did not overlap")
		}
	}
	close(gate)
	wg.Wait()
}

func TestDispatchRoutesPrefixedNames(t *testing.T) {
	adapter := &scriptedAdapter{multiplexes: true}
	invoker, _ := newTestInvoker(t,
		map[string]*scriptedAdapter{"dev": adapter},
		extension.Extension{ID: "dev", Kind: KindForTest()},
	)

	record, err := invoker.Dispatch(context.Background(), "dev__shell", map[string]any{"cmd": "ls"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if record.ExtensionID != "dev" || record.Tool != "shell" {
		t.Fatalf("record routed to %s/%s", record.ExtensionID, record.Tool)
	}

	if _, err := invoker.Dispatch(context.Background(), "no-separator", nil); err == nil {
		t.Fatal("Dispatch() accepted an unprefixed name")
	}
}

func TestListToolsPrefixesAndSkipsBrokenExtensions(t *testing.T) {
	healthy := &scriptedAdapter{
		multiplexes: true,
		tools: []extension.ToolDescriptor{
			{Name: "shell"},
			{Name: "edit"},
		},
	}
	broken := &scriptedAdapter{
		multiplexes: true,
		listErr:     errors.New("connection reset"),
	}
	invoker, _ := newTestInvoker(t,
		map[string]*scriptedAdapter{"dev": healthy, "remote": broken},
		extension.Extension{ID: "dev", Kind: KindForTest()},
		extension.Extension{ID: "remote", Kind: KindForTest()},
	)

	tools, err := invoker.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		names[tool.Name] = true
	}
	if !names["dev__shell"] || !names["dev__edit"] {
		t.Fatalf("tool names = %v, want dev__ prefixed entries", names)
	}
	if len(tools) != 2 {
		t.Fatalf("len(tools) = %d, want 2 (broken extension skipped)", len(tools))
	}
}

func TestSplitToolName(t *testing.T) {
	cases := []struct {
		in      string
		wantExt string
		wantTl  string
		ok      bool
	}{
		{"dev__shell", "dev", "shell", true},
		{"memory__remember_memory", "memory", "remember_memory", true},
		{"dev__", "", "", false},
		{"__shell", "", "", false},
		{"plain", "", "", false},
	}
	for _, tc := range cases {
		ext, tool, ok := SplitToolName(tc.in)
		if ext != tc.wantExt || tool != tc.wantTl || ok != tc.ok {
			t.Fatalf("SplitToolName(%q) = %q, %q, %v", tc.in, ext, tool, ok)
		}
	}
}

func TestRecordLogEvictsOldest(t *testing.T) {
	log := newRecordLog(2)
	log.put(ToolCall{ID: "a"})
	log.put(ToolCall{ID: "b"})
	log.put(ToolCall{ID: "c"})

	if _, ok := log.get("a"); ok {
		t.Fatal("oldest record was not evicted")
	}
	recent := log.recent(0)
	if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
		t.Fatalf("recent = %+v, want [c b]", recent)
	}
}

// KindForTest returns a kind accepted by registration; the scripted factory
// ignores it.
func KindForTest() extension.Kind {
	return extension.KindStdio
}
