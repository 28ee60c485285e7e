package extension

import (
	"context"
	"sync"
)

// State is the lifecycle state of a registered extension.
type State string

const (
	// StateDisabled is the initial state of a registered extension.
	StateDisabled State = "disabled"
	// StateStarting means the enable handshake is in progress.
	StateStarting State = "starting"
	// StateReady means the adapter is connected and serving calls.
	StateReady State = "ready"
	// StateFailed means enable or a mid-call fault broke the adapter. The
	// failure error is retained; a fresh enable is required.
	StateFailed State = "failed"
	// StateStopped means the extension was disabled after being ready.
	StateStopped State = "stopped"
)

// Handle is the registry's live record for one extension: its declared
// configuration, lifecycle state, connected adapter, and in-flight calls.
type Handle struct {
	ext Extension

	mu       sync.Mutex
	state    State
	lastErr  error
	adapter  Adapter
	inFlight map[string]context.CancelFunc
	idle     chan struct{}
	gate     *fifoGate
}

func newHandle(ext Extension) *Handle {
	return &Handle{
		ext:      ext,
		state:    StateDisabled,
		inFlight: make(map[string]context.CancelFunc),
		gate:     &fifoGate{},
	}
}

// Extension returns the declared configuration.
func (h *Handle) Extension() Extension {
	return h.ext
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the retained failure error, if the extension is failed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Adapter returns the connected adapter, or ErrNotReady.
func (h *Handle) Adapter() (Adapter, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady || h.adapter == nil {
		return nil, ErrNotReady
	}
	return h.adapter, nil
}

// BeginCall registers an in-flight call with its cancel function so a
// disable can release it. Fails with ErrNotReady outside the ready state.
func (h *Handle) BeginCall(callID string, cancel context.CancelFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady {
		return ErrNotReady
	}
	h.inFlight[callID] = cancel
	return nil
}

// EndCall removes a completed call from the in-flight set.
func (h *Handle) EndCall(callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inFlight, callID)
	h.notifyIdleLocked()
}

// InFlight returns the number of calls currently executing.
func (h *Handle) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inFlight)
}

// AwaitIdle blocks until every in-flight call has ended or ctx expires.
// Calls end on their own, by completing or hitting their deadlines; nothing
// here hurries them.
func (h *Handle) AwaitIdle(ctx context.Context) error {
	h.mu.Lock()
	if len(h.inFlight) == 0 {
		h.mu.Unlock()
		return nil
	}
	if h.idle == nil {
		h.idle = make(chan struct{})
	}
	idle := h.idle
	h.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

// AcquireTurn blocks until the caller holds the extension's single call
// slot. Used for adapters that cannot multiplex; waiters are served in
// arrival order.
func (h *Handle) AcquireTurn(ctx context.Context) error {
	return h.gate.Acquire(ctx)
}

// ReleaseTurn hands the call slot to the next waiter.
func (h *Handle) ReleaseTurn() {
	h.gate.Release()
}

// Fail transitions the extension to failed, retaining err. In-flight calls
// are canceled. The adapter is returned so the caller can close it outside
// the lock; it may be nil.
func (h *Handle) Fail(err error) Adapter {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.state
	h.state = StateFailed
	h.lastErr = err
	adapter := h.adapter
	h.adapter = nil
	h.cancelInFlightLocked()

	emitLifecycleObservation(LifecycleObservation{
		ExtensionID: h.ext.ID,
		Kind:        h.ext.Kind,
		From:        from,
		To:          StateFailed,
		ErrorCode:   ErrorCode(err),
	})
	return adapter
}

func (h *Handle) cancelInFlightLocked() {
	for id, cancel := range h.inFlight {
		cancel()
		delete(h.inFlight, id)
	}
	h.notifyIdleLocked()
}

func (h *Handle) notifyIdleLocked() {
	if len(h.inFlight) == 0 && h.idle != nil {
		close(h.idle)
		h.idle = nil
	}
}

func (h *Handle) transition(to State, err error, adapter Adapter) {
	h.mu.Lock()
	from := h.state
	h.state = to
	h.lastErr = err
	h.adapter = adapter
	h.mu.Unlock()

	emitLifecycleObservation(LifecycleObservation{
		ExtensionID: h.ext.ID,
		Kind:        h.ext.Kind,
		From:        from,
		To:          to,
		ErrorCode:   ErrorCode(err),
	})
}

// fifoGate is a single-slot gate whose waiters are granted strictly in
// arrival order. A plain mutex gives no ordering guarantee under contention.
type fifoGate struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

func (g *fifoGate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, waiter := range g.waiters {
			if waiter == ready {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The slot was granted concurrently with cancellation; pass it on.
		<-ready
		g.Release()
		return ctx.Err()
	}
}

func (g *fifoGate) Release() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(next)
		return
	}
	g.busy = false
	g.mu.Unlock()
}
