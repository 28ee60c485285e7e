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

// StreamAdapter drives a remote extension over an HTTP endpoint with a
// server-sent-events response stream. Responses carry request IDs, so
// concurrent calls multiplex over the shared connection.
type StreamAdapter struct {
	extensionID string
	cfg         rpc.SSETransportConfig

	mu     sync.Mutex
	client *rpc.Client
}

// NewStreamAdapter prepares an adapter; the stream is opened by Connect.
func NewStreamAdapter(extensionID string, cfg rpc.SSETransportConfig) (*StreamAdapter, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, newError(ErrorCodeInvalidConfig, fmt.Sprintf("extension %s has no endpoint", extensionID), false, nil)
	}
	return &StreamAdapter{extensionID: extensionID, cfg: cfg}, nil
}

// Connect opens the stream and performs the protocol handshake.
func (a *StreamAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}

	transport, err := rpc.NewSSETransport(ctx, a.cfg)
	if err != nil {
		return newError(ErrorCodeConnectFailed, fmt.Sprintf("open stream for %s", a.extensionID), false, err)
	}
	client := rpc.NewClient(transport, rpc.Options{})
	if _, err := client.Initialize(ctx); err != nil {
		_ = client.Close(context.Background())
		return newError(ErrorCodeConnectFailed, fmt.Sprintf("initialize %s", a.extensionID), false, err)
	}

	a.client = client
	return nil
}

func (a *StreamAdapter) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
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

func (a *StreamAdapter) Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error) {
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

// Cancel tells the remote end to abandon the call. The shared stream stays
// open for other in-flight calls; a late response is dropped by the client
// because its request ID is no longer pending.
func (a *StreamAdapter) Cancel(callID string) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Notify(ctx, "notifications/cancelled", map[string]any{
		"callId": callID,
		"reason": "deadline exceeded",
	})
}

func (a *StreamAdapter) Multiplexing() bool { return true }

func (a *StreamAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close(ctx)
}

func (a *StreamAdapter) readyClient() (*rpc.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, newError(ErrorCodeTransportFailure, fmt.Sprintf("extension %s is not connected", a.extensionID), false, ErrNotReady)
	}
	return a.client, nil
}

func (a *StreamAdapter) classify(err error) error {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return newError(ErrorCodeToolFailed, rpcErr.Message, false, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorCodeCanceled, "invocation canceled", false, err)
	}
	return newError(ErrorCodeTransportFailure, fmt.Sprintf("extension %s transport failed", a.extensionID), true, err)
}
