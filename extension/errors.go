package extension

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRegistered indicates an extension ID collision in the registry.
	ErrAlreadyRegistered = errors.New("extension: already registered")
	// ErrUnknownExtension indicates the registry has no record for an ID.
	ErrUnknownExtension = errors.New("extension: unknown extension")
	// ErrNotReady indicates a call targeted an extension whose adapter is
	// not in the ready state.
	ErrNotReady = errors.New("extension: not ready")
)

const (
	// ErrorCodeInvalidConfig is returned when an extension declaration is unusable.
	ErrorCodeInvalidConfig = "INVALID_CONFIG"
	// ErrorCodeConnectFailed is returned when the enable handshake fails.
	ErrorCodeConnectFailed = "CONNECT_FAILED"
	// ErrorCodeTransportFailure is returned when transport I/O fails mid-call.
	ErrorCodeTransportFailure = "TRANSPORT_FAILURE"
	// ErrorCodeTimeout is returned when an invocation exceeds its deadline.
	ErrorCodeTimeout = "TIMEOUT"
	// ErrorCodeToolNotFound is returned when a tool name is unknown.
	ErrorCodeToolNotFound = "TOOL_NOT_FOUND"
	// ErrorCodeToolFailed is returned when a tool reports an execution error.
	ErrorCodeToolFailed = "TOOL_FAILED"
	// ErrorCodeCanceled is returned when the caller abandoned the invocation.
	ErrorCodeCanceled = "CANCELED"
)

// Error is a structured extension error that keeps a machine-readable code
// and retryability across transport, registry, and invocation layers.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return ErrorCodeToolFailed
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(code, message string, retryable bool, cause error) *Error {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = ErrorCodeToolFailed
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &Error{
		Code:      cleanCode,
		Message:   cleanMsg,
		Retryable: retryable,
		Cause:     cause,
	}
}

// ErrorCode extracts the structured code from an error chain, or "".
func ErrorCode(err error) string {
	var extErr *Error
	if errors.As(err, &extErr) && extErr != nil {
		return extErr.Code
	}
	return ""
}
