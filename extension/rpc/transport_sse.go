package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// SSETransportConfig configures a remote-stream transport.
type SSETransportConfig struct {
	// Endpoint receives JSON-RPC requests via POST.
	Endpoint string
	// StreamEndpoint, when set, is opened as a persistent server-sent-events
	// stream carrying correlated responses. When empty, responses are read
	// from the POST response body instead.
	StreamEndpoint string
	Headers        map[string]string
	// BearerToken, when set, is attached as an Authorization header. This is
	// the out-of-band authorization handshake output for endpoints that
	// require one.
	BearerToken string
	Client      *http.Client
}

// SSETransport implements the tool protocol over an HTTP endpoint with an
// optional persistent event stream. Responses may interleave across
// concurrent calls; correlation by request ID is the client's job.
type SSETransport struct {
	mu     sync.Mutex
	cfg    SSETransportConfig
	recvCh chan Message
	closed bool
	stop   context.CancelFunc
}

// NewSSETransport creates an endpoint-backed transport and, when a stream
// endpoint is configured, opens the persistent stream.
func NewSSETransport(ctx context.Context, cfg SSETransportConfig) (*SSETransport, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("rpc: sse endpoint is required")
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}

	t := &SSETransport{
		cfg:    cfg,
		recvCh: make(chan Message, 64),
	}

	if strings.TrimSpace(cfg.StreamEndpoint) != "" {
		streamCtx, cancel := context.WithCancel(context.Background())
		t.stop = cancel
		body, err := t.openStream(ctx, streamCtx)
		if err != nil {
			cancel()
			return nil, err
		}
		go t.streamLoop(body)
	}

	return t, nil
}

func (t *SSETransport) openStream(ctx, streamCtx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.StreamEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	t.applyHeaders(req)

	type result struct {
		resp *http.Response
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		resp, err := t.cfg.Client.Do(req)
		resCh <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		t.stop()
		return nil, ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("rpc: open stream: %w", res.err)
		}
		if res.resp.StatusCode < http.StatusOK || res.resp.StatusCode >= http.StatusMultipleChoices {
			_ = res.resp.Body.Close()
			return nil, fmt.Errorf("rpc: stream endpoint returned status %d", res.resp.StatusCode)
		}
		return res.resp.Body, nil
	}
}

// streamLoop parses server-sent events and enqueues any JSON-RPC payloads.
func (t *SSETransport) streamLoop(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
		if line != "" {
			continue
		}
		if data.Len() == 0 {
			continue
		}
		payload := data.String()
		data.Reset()

		var message Message
		if err := json.Unmarshal([]byte(payload), &message); err != nil {
			continue
		}
		t.enqueue(message)
	}
}

func (t *SSETransport) enqueue(message Message) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	select {
	case t.recvCh <- message:
	default:
	}
}

// Send posts one JSON-RPC message and enqueues any JSON-RPC response body.
func (t *SSETransport) Send(ctx context.Context, message Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.New("rpc: sse transport is closed")
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("rpc: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.applyHeaders(req)

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("rpc: endpoint returned status %d", resp.StatusCode)
	}

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rpc: read response: %w", err)
	}
	if len(strings.TrimSpace(string(responseBytes))) == 0 {
		return nil
	}

	var response Message
	if err := json.Unmarshal(responseBytes, &response); err != nil {
		return fmt.Errorf("rpc: decode response: %w", err)
	}
	select {
	case t.recvCh <- response:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next queued JSON-RPC message.
func (t *SSETransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case message := <-t.recvCh:
		return message, nil
	}
}

// Close marks the transport closed and tears down the persistent stream.
func (t *SSETransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.stop != nil {
		t.stop()
	}
	return nil
}

func (t *SSETransport) applyHeaders(req *http.Request) {
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}
	if t.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.BearerToken)
	}
}
