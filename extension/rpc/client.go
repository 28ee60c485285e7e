package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

const (
	defaultClientName    = "anther"
	defaultClientVersion = "dev"
)

// ErrClientClosed is returned for calls issued after the client shut down.
var ErrClientClosed = errors.New("rpc: client is closed")

// Transport is the message transport contract used by the client core.
// Implementations exist for subprocess stdio pipes and SSE streams.
type Transport interface {
	Send(ctx context.Context, message Message) error
	Receive(ctx context.Context) (Message, error)
	Close(ctx context.Context) error
}

// Options configures the identity announced in the handshake.
type Options struct {
	Client Peer
}

// Client is a JSON-RPC tool-protocol client. Responses are correlated to
// requests by ID, so callers may issue concurrent calls when the underlying
// transport interleaves responses.
type Client struct {
	transport Transport
	options   Options

	mu          sync.Mutex
	nextID      int64
	pending     map[int64]chan Message
	initialized bool
	initResult  InitializeResult
	recvErr     error
	closed      bool

	done     chan struct{}
	loopStop context.CancelFunc
}

// NewClient returns a new client for a given transport and starts its
// receive loop.
func NewClient(transport Transport, options Options) *Client {
	if options.Client.Name == "" {
		options.Client.Name = defaultClientName
	}
	if options.Client.Version == "" {
		options.Client.Version = defaultClientVersion
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: transport,
		options:   options,
		nextID:    1,
		pending:   make(map[int64]chan Message),
		done:      make(chan struct{}),
		loopStop:  cancel,
	}
	go c.receiveLoop(loopCtx)
	return c
}

// receiveLoop dispatches transport messages to pending calls by request ID.
// Notifications and responses for unknown IDs are dropped; a dropped ID is
// how a late response for a timed-out call is discarded.
func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.done)
	for {
		message, err := c.transport.Receive(ctx)
		if err != nil {
			c.failPending(err)
			return
		}
		if message.JSONRPC != "" && message.JSONRPC != jsonRPCVersion {
			c.failPending(fmt.Errorf("rpc: unsupported jsonrpc version %q", message.JSONRPC))
			return
		}
		if message.ID == 0 {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[message.ID]
		if ok {
			delete(c.pending, message.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- message
		}
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	c.recvErr = err
	pending := c.pending
	c.pending = make(map[int64]chan Message)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- Message{Error: &RPCError{Code: codeTransportFailure, Message: err.Error()}}
	}
}

// Initialize performs the protocol handshake and sends the initialized
// notification. Repeat calls return the cached result.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	if c == nil {
		return InitializeResult{}, errors.New("rpc: client is nil")
	}

	c.mu.Lock()
	alreadyInitialized := c.initialized
	cachedResult := c.initResult
	c.mu.Unlock()
	if alreadyInitialized {
		return cachedResult, nil
	}

	params := InitializeParams{Client: c.options.Client}

	var result InitializeResult
	if err := c.Call(ctx, "initialize", params, &result); err != nil {
		return InitializeResult{}, err
	}

	if err := c.notify(ctx, "notifications/initialized", map[string]any{}); err != nil {
		return InitializeResult{}, err
	}

	c.mu.Lock()
	c.initialized = true
	c.initResult = result
	c.mu.Unlock()

	return result, nil
}

// ListTools returns server tools from tools/list.
func (c *Client) ListTools(ctx context.Context) (ToolsListResult, error) {
	var result ToolsListResult
	if err := c.Call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return ToolsListResult{}, err
	}
	return result, nil
}

// CallTool executes a tool by name with arguments.
func (c *Client) CallTool(ctx context.Context, params ToolsCallParams) (ToolsCallResult, error) {
	var result ToolsCallResult
	if err := c.Call(ctx, "tools/call", params, &result); err != nil {
		return ToolsCallResult{}, err
	}
	return result, nil
}

// Close sends a close notification, stops the receive loop, and closes the
// transport.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.transport == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.notify(ctx, "close", map[string]any{})
	c.loopStop()
	return c.transport.Close(ctx)
}

// Call issues one correlated request and decodes its result into out.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	if c == nil || c.transport == nil {
		return &RequestError{Method: method, Err: errors.New("transport is nil")}
	}

	paramsRaw, err := encodeParams(params)
	if err != nil {
		return &RequestError{Method: method, Err: err}
	}

	respCh := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &RequestError{Method: method, Err: ErrClientClosed}
	}
	if c.recvErr != nil {
		err := c.recvErr
		c.mu.Unlock()
		return &RequestError{Method: method, Err: err}
	}
	id := c.nextID
	c.nextID++
	c.pending[id] = respCh
	c.mu.Unlock()

	if err := c.transport.Send(ctx, newRequest(id, method, paramsRaw)); err != nil {
		c.dropPending(id)
		return &RequestError{Method: method, Err: err}
	}

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return &RequestError{Method: method, Err: ctx.Err()}
	case response := <-respCh:
		if response.Error != nil {
			return &RequestError{Method: method, Err: response.Error}
		}
		if out == nil || len(response.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(response.Result, out); err != nil {
			return &RequestError{Method: method, Err: fmt.Errorf("decode result: %w", err)}
		}
		return nil
	}
}

// Notify sends a one-way notification. No response is expected.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	return c.notify(ctx, method, params)
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	if c == nil || c.transport == nil {
		return nil
	}
	paramsRaw, err := encodeParams(params)
	if err != nil {
		return &RequestError{Method: method, Err: err}
	}
	return c.transport.Send(ctx, newNotification(method, paramsRaw))
}
