package extension

import (
	"context"
	"time"
)

// ToolDescriptor describes one tool an extension exposes.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// InvokeRequest is the transport-agnostic invocation payload.
type InvokeRequest struct {
	CallID    string         `json:"call_id,omitempty"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// InvokeResponse is the transport-agnostic invocation result.
type InvokeResponse struct {
	Text       string         `json:"text,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// Adapter hides transport details behind a uniform invocation surface.
// Connect must complete before ListTools or Invoke is used.
type Adapter interface {
	// Connect performs the transport handshake.
	Connect(ctx context.Context) error
	// ListTools enumerates the tools the extension currently exposes.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	// Invoke executes one tool call. Cancellation of ctx abandons the call
	// at the protocol level; Cancel releases transport resources when the
	// protocol alone cannot.
	Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error)
	// Cancel force-releases whatever resource is servicing the call. For a
	// subprocess that means killing the process; for a stream, closing it.
	Cancel(callID string)
	// Multiplexing reports whether the transport correlates concurrent
	// calls. Non-multiplexing adapters must be driven one call at a time.
	Multiplexing() bool
	Close(ctx context.Context) error
}

// AdapterFactory builds adapters from extension declarations.
type AdapterFactory interface {
	New(ext Extension) (Adapter, error)
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
