// Package provider routes chat completion requests to configured model
// backends with credential validation and bounded exponential retry.
package provider

import (
	"context"
	"strings"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a normalized completion request.
type Request struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int64     `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is a normalized completion result.
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Client is one model backend.
type Client interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// NormalizeHost prefixes a scheme-less host with http. A host carrying a
// scheme is used verbatim.
func NormalizeHost(host string) string {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return ""
	}
	if strings.Contains(trimmed, "://") {
		return trimmed
	}
	return "http://" + trimmed
}

// ResolveHost picks the configured host, falling back to the default only
// when none is configured, and normalizes the scheme.
func ResolveHost(configured, fallback string) string {
	if strings.TrimSpace(configured) != "" {
		return NormalizeHost(configured)
	}
	return NormalizeHost(fallback)
}
