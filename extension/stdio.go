package extension

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/anther/extension/rpc"
)

// StdioAdapter drives a subprocess extension over its stdin/stdout pipe.
// The pipe carries no response correlation, so the adapter does not
// multiplex; callers must serialize invocations.
type StdioAdapter struct {
	extensionID string
	cfg         rpc.StdioTransportConfig

	mu        sync.Mutex
	transport *rpc.StdioTransport
	client    *rpc.Client
	killed    bool
}

// NewStdioAdapter prepares an adapter; the subprocess is spawned by Connect.
func NewStdioAdapter(extensionID string, cfg rpc.StdioTransportConfig) (*StdioAdapter, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, newError(ErrorCodeInvalidConfig, fmt.Sprintf("extension %s has no command", extensionID), false, nil)
	}
	return &StdioAdapter{extensionID: extensionID, cfg: cfg}, nil
}

// Connect spawns the subprocess and performs the protocol handshake.
func (a *StdioAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}

	transport, err := rpc.NewStdioTransport(a.cfg)
	if err != nil {
		return newError(ErrorCodeConnectFailed, fmt.Sprintf("spawn %s", a.extensionID), false, err)
	}
	client := rpc.NewClient(transport, rpc.Options{})
	if _, err := client.Initialize(ctx); err != nil {
		_ = client.Close(context.Background())
		return newError(ErrorCodeConnectFailed, fmt.Sprintf("initialize %s", a.extensionID), false, err)
	}

	a.transport = transport
	a.client = client
	return nil
}

func (a *StdioAdapter) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	client, err := a.readyClient()
	if err != nil {
		return nil, err
	}
	result, err := client.ListTools(ctx)
	if err != nil {
		return nil, a.classify(err)
	}
	return descriptorsFromRPC(result.Tools), nil
}

func (a *StdioAdapter) Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error) {
	client, err := a.readyClient()
	if err != nil {
		return InvokeResponse{}, err
	}

	start := time.Now()
	result, err := client.CallTool(ctx, rpc.ToolsCallParams{
		Name:      req.Tool,
		Arguments: req.Arguments,
		CallID:    req.CallID,
	})
	if err != nil {
		return InvokeResponse{}, a.classify(err)
	}
	return responseFromRPC(result, start)
}

// Cancel kills the subprocess. A pipe with one in-flight call has no other
// way to reclaim the worker; the extension must be re-enabled afterwards.
func (a *StdioAdapter) Cancel(callID string) {
	a.mu.Lock()
	transport := a.transport
	a.killed = true
	a.mu.Unlock()

	if transport != nil {
		transport.Kill()
	}
}

func (a *StdioAdapter) Multiplexing() bool { return false }

func (a *StdioAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.transport = nil
	a.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close(ctx)
}

func (a *StdioAdapter) readyClient() (*rpc.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.killed {
		return nil, newError(ErrorCodeTransportFailure, fmt.Sprintf("extension %s process was terminated", a.extensionID), false, ErrNotReady)
	}
	if a.client == nil {
		return nil, newError(ErrorCodeTransportFailure, fmt.Sprintf("extension %s is not connected", a.extensionID), false, ErrNotReady)
	}
	return a.client, nil
}

// classify maps protocol failures to structured codes. A dead pipe means the
// process exited; the error is not retryable because the process does not
// restart on its own.
func (a *StdioAdapter) classify(err error) error {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return newError(ErrorCodeToolFailed, rpcErr.Message, false, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorCodeCanceled, "invocation canceled", false, err)
	}
	return newError(ErrorCodeTransportFailure, fmt.Sprintf("extension %s transport failed", a.extensionID), false, err)
}

func descriptorsFromRPC(tools []rpc.ToolDescriptor) []ToolDescriptor {
	descriptors := make([]ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		descriptors = append(descriptors, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return descriptors
}

func responseFromRPC(result rpc.ToolsCallResult, start time.Time) (InvokeResponse, error) {
	text := result.JoinedText()
	if result.IsError {
		message := text
		if message == "" {
			message = "tool reported an error"
		}
		return InvokeResponse{}, newError(ErrorCodeToolFailed, message, false, nil)
	}
	return InvokeResponse{
		Text:       text,
		Outputs:    result.StructuredContent,
		DurationMS: elapsedMS(start),
	}, nil
}
