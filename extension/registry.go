package extension

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry owns extension lifecycle: registration, enable/disable
// transitions, and lookup for the invocation path.
type Registry struct {
	factory AdapterFactory
	logger  *slog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry backed by the given factory.
func NewRegistry(factory AdapterFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory: factory,
		logger:  logger,
		handles: make(map[string]*Handle),
	}
}

// Register records an extension declaration in the disabled state. The ID is
// sanitized to the tool-name alphabet before storage.
func (r *Registry) Register(ext Extension) (*Handle, error) {
	ext.ID = SanitizeID(ext.ID)
	if ext.ID == "" {
		return nil, newError(ErrorCodeInvalidConfig, "extension id is required", false, nil)
	}
	if ext.Kind == "" {
		return nil, newError(ErrorCodeInvalidConfig, fmt.Sprintf("extension %s has no kind", ext.ID), false, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[ext.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, ext.ID)
	}
	handle := newHandle(ext)
	r.handles[ext.ID] = handle

	r.logger.Debug("extension registered", "extension", ext.ID, "kind", ext.Kind)
	return handle, nil
}

// Get returns the handle for an ID.
func (r *Registry) Get(id string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.handles[SanitizeID(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExtension, id)
	}
	return handle, nil
}

// List returns all handles ordered by extension ID.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, handle := range r.handles {
		handles = append(handles, handle)
	}
	r.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool {
		return handles[i].ext.ID < handles[j].ext.ID
	})
	return handles
}

// Enable builds a fresh adapter and performs the connection handshake.
// On failure the extension lands in the failed state with the error
// retained; it never restarts on its own.
func (r *Registry) Enable(ctx context.Context, id string) error {
	handle, err := r.Get(id)
	if err != nil {
		return err
	}

	handle.mu.Lock()
	switch handle.state {
	case StateReady:
		handle.mu.Unlock()
		return nil
	case StateStarting:
		handle.mu.Unlock()
		return newError(ErrorCodeInvalidConfig, fmt.Sprintf("extension %s is already starting", handle.ext.ID), false, nil)
	}
	from := handle.state
	handle.state = StateStarting
	handle.lastErr = nil
	handle.adapter = nil
	handle.mu.Unlock()
	emitLifecycleObservation(LifecycleObservation{
		ExtensionID: handle.ext.ID,
		Kind:        handle.ext.Kind,
		From:        from,
		To:          StateStarting,
	})

	adapter, err := r.factory.New(handle.ext)
	if err != nil {
		handle.transition(StateFailed, err, nil)
		r.logger.Warn("extension enable failed", "extension", handle.ext.ID, "error", err)
		return err
	}
	if err := adapter.Connect(ctx); err != nil {
		_ = adapter.Close(context.Background())
		handle.transition(StateFailed, err, nil)
		r.logger.Warn("extension enable failed", "extension", handle.ext.ID, "error", err)
		return err
	}

	handle.transition(StateReady, nil, adapter)
	r.logger.Info("extension enabled", "extension", handle.ext.ID, "kind", handle.ext.Kind)
	return nil
}

// Disable stops a ready extension. New calls are rejected the moment the
// state leaves ready; calls already in flight run to completion or their
// deadline before the adapter is closed. Disabling an already-inactive or
// failed extension is a no-op: failed stays failed until a fresh enable.
func (r *Registry) Disable(ctx context.Context, id string) error {
	handle, err := r.Get(id)
	if err != nil {
		return err
	}

	handle.mu.Lock()
	switch handle.state {
	case StateStarting:
		handle.mu.Unlock()
		return newError(ErrorCodeInvalidConfig, fmt.Sprintf("extension %s is starting", handle.ext.ID), false, nil)
	case StateDisabled, StateStopped, StateFailed:
		handle.mu.Unlock()
		return nil
	}
	adapter := handle.adapter
	handle.state = StateStopped
	handle.lastErr = nil
	handle.adapter = nil
	handle.mu.Unlock()
	emitLifecycleObservation(LifecycleObservation{
		ExtensionID: handle.ext.ID,
		Kind:        handle.ext.Kind,
		From:        StateReady,
		To:          StateStopped,
	})

	if err := handle.AwaitIdle(ctx); err != nil {
		r.logger.Warn("disable proceeding with calls still in flight", "extension", handle.ext.ID, "error", err)
	}
	if adapter != nil {
		if err := adapter.Close(ctx); err != nil {
			r.logger.Warn("extension adapter close failed", "extension", handle.ext.ID, "error", err)
		}
	}
	r.logger.Info("extension disabled", "extension", handle.ext.ID)
	return nil
}

// Shutdown disables every ready extension. Failed extensions keep their
// state and retained error; their adapters were already closed when they
// failed. Errors are logged, not returned.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, handle := range r.List() {
		if handle.State() == StateReady {
			_ = r.Disable(ctx, handle.ext.ID)
		}
	}
}

// Snapshot is a point-in-time view of one extension for status surfaces.
type Snapshot struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	State    State  `json:"state"`
	InFlight int    `json:"in_flight,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Snapshots returns the status of every registered extension, ordered by ID.
func (r *Registry) Snapshots() []Snapshot {
	handles := r.List()
	snapshots := make([]Snapshot, 0, len(handles))
	for _, handle := range handles {
		snapshot := Snapshot{
			ID:       handle.ext.ID,
			Kind:     handle.ext.Kind,
			State:    handle.State(),
			InFlight: handle.InFlight(),
		}
		if err := handle.Err(); err != nil {
			snapshot.Error = strings.TrimSpace(err.Error())
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}
