package provider

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies provider failures for routing policy.
type ErrorKind string

const (
	// KindMissingCredential means the credential environment variable is
	// unset. Never retried.
	KindMissingCredential ErrorKind = "missing_credential"
	// KindAuthFailed means the backend rejected the credential (401/403).
	// Never retried.
	KindAuthFailed ErrorKind = "auth_failed"
	// KindTransientFailure covers rate limits, server errors, and dropped
	// connections. Retried with backoff.
	KindTransientFailure ErrorKind = "transient_failure"
	// KindRetriesExhausted wraps the last transient error once the retry
	// budget is spent.
	KindRetriesExhausted ErrorKind = "retries_exhausted"
	// KindInvalidRequest covers non-retryable request failures.
	KindInvalidRequest ErrorKind = "invalid_request"
)

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Provider   string    `json:"provider"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Provider == "" {
		return fmt.Sprintf("provider: %s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf extracts the classification from an error chain.
func KindOf(err error) ErrorKind {
	var provErr *Error
	if errors.As(err, &provErr) && provErr != nil {
		return provErr.Kind
	}
	return ""
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuthFailed
	case status == 429 || status >= 500:
		return KindTransientFailure
	default:
		return KindInvalidRequest
	}
}

// isRetryable reports whether an error should be retried: an explicit
// transient classification, a retryable status code, or a dropped
// connection.
func isRetryable(err error) bool {
	var provErr *Error
	if errors.As(err, &provErr) && provErr != nil {
		switch provErr.Kind {
		case KindTransientFailure:
			return true
		case KindMissingCredential, KindAuthFailed, KindInvalidRequest, KindRetriesExhausted:
			return false
		}
		if provErr.StatusCode != 0 {
			return ClassifyStatus(provErr.StatusCode) == KindTransientFailure
		}
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
