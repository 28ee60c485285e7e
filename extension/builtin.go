package extension

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"
)

// BuiltinTool is one in-process tool implementation. Call must honor ctx
// cancellation; builtin cancellation is cooperative.
type BuiltinTool interface {
	Descriptor() ToolDescriptor
	Call(ctx context.Context, arguments map[string]any) (InvokeResponse, error)
}

// BuiltinProvider exposes a set of builtin tools as one extension.
type BuiltinProvider interface {
	Tools() []BuiltinTool
}

// BuiltinAdapter serves a provider's tools in-process. Calls run on the
// caller's goroutine and multiplex freely.
type BuiltinAdapter struct {
	extensionID string
	provider    BuiltinProvider
	tools       map[string]BuiltinTool
}

// NewBuiltinAdapter indexes the provider's tools by name.
func NewBuiltinAdapter(extensionID string, provider BuiltinProvider) (*BuiltinAdapter, error) {
	if provider == nil {
		return nil, newError(ErrorCodeInvalidConfig, "builtin provider is nil", false, nil)
	}
	tools := make(map[string]BuiltinTool)
	for _, tool := range provider.Tools() {
		name := tool.Descriptor().Name
		if name == "" {
			return nil, newError(ErrorCodeInvalidConfig, "builtin tool has no name", false, nil)
		}
		if _, exists := tools[name]; exists {
			return nil, newError(ErrorCodeInvalidConfig, fmt.Sprintf("duplicate builtin tool %q", name), false, nil)
		}
		tools[name] = tool
	}
	return &BuiltinAdapter{
		extensionID: extensionID,
		provider:    provider,
		tools:       tools,
	}, nil
}

func (a *BuiltinAdapter) Connect(ctx context.Context) error {
	return nil
}

func (a *BuiltinAdapter) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	descriptors := make([]ToolDescriptor, 0, len(a.tools))
	for _, tool := range a.tools {
		descriptors = append(descriptors, tool.Descriptor())
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors, nil
}

func (a *BuiltinAdapter) Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error) {
	tool, ok := a.tools[req.Tool]
	if !ok {
		return InvokeResponse{}, newError(ErrorCodeToolNotFound, fmt.Sprintf("tool %q not found in %s", req.Tool, a.extensionID), false, nil)
	}
	if err := ctx.Err(); err != nil {
		return InvokeResponse{}, newError(ErrorCodeCanceled, "invocation canceled", false, err)
	}

	start := time.Now()
	resp, err := tool.Call(ctx, req.Arguments)
	if err != nil {
		return InvokeResponse{}, err
	}
	resp.DurationMS = elapsedMS(start)
	return resp, nil
}

// Cancel is a no-op; builtin calls stop through ctx cancellation.
func (a *BuiltinAdapter) Cancel(callID string) {}

func (a *BuiltinAdapter) Multiplexing() bool { return true }

func (a *BuiltinAdapter) Close(ctx context.Context) error {
	if closer, ok := a.provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
