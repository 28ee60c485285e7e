package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The wire protocol is JSON-RPC 2.0 with four methods: initialize opens the
// session, notifications/initialized acknowledges it, tools/list enumerates
// tools, and tools/call executes one. Cancellation travels out of band as a
// notifications/cancelled notification carrying the call ID.
const jsonRPCVersion = "2.0"

// Well-known JSON-RPC error codes, plus the implementation-defined code the
// client stamps on calls that die with their transport.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	codeTransportFailure = -32000
)

// Message is the wire envelope. A request carries ID and Method, a
// notification only Method, and a response ID with either Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func newRequest(id int64, method string, params json.RawMessage) Message {
	return Message{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}
}

func newNotification(method string, params json.RawMessage) Message {
	return Message{JSONRPC: jsonRPCVersion, Method: method, Params: params}
}

// encodeParams marshals a params value, mapping nil to an absent field.
func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return data, nil
}

// RPCError is the error object a server attaches to a failed response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc: remote error %d: %s", e.Code, e.Message)
}

// RequestError wraps transport and protocol failures with the method that
// was in flight when they happened.
type RequestError struct {
	Method string
	Err    error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc: request %q failed: %v", e.Method, e.Err)
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Peer identifies one end of the session.
type Peer struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams opens the session: the host announces itself.
type InitializeParams struct {
	Client Peer `json:"client"`
}

// InitializeResult completes the handshake. Instructions, when present, are
// server guidance surfaced to the model alongside the tool list.
type InitializeResult struct {
	Server       Peer   `json:"server"`
	Instructions string `json:"instructions,omitempty"`
}

// ToolDescriptor describes one tool discovered via tools/list.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolsListResult is returned by the tools/list request.
type ToolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolsCallParams is sent in the tools/call request. CallID names the
// invocation so a later notifications/cancelled can reference it.
type ToolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	CallID    string         `json:"callId,omitempty"`
}

// ContentBlock is a content item returned by tools/call.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolsCallResult is returned by the tools/call request. IsError marks a
// tool-level failure delivered as a normal response.
type ToolsCallResult struct {
	Content           []ContentBlock `json:"content,omitempty"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// JoinedText concatenates the text content blocks, one per line.
func (r ToolsCallResult) JoinedText() string {
	var parts []string
	for _, block := range r.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
