// Package anthropic adapts the Anthropic Messages API to the provider
// contract. Retry is owned by the router, so the SDK's own retry loop is
// disabled.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/petal-labs/anther/provider"
)

const (
	// Name is the router registration name.
	Name = "anthropic"
	// CredentialEnv holds the API key.
	CredentialEnv = "ANTHROPIC_API_KEY"
	// HostEnv overrides the API host.
	HostEnv = "ANTHROPIC_HOST"

	defaultHost      = "https://api.anthropic.com"
	defaultMaxTokens = 4096
)

// Config customizes client construction. Zero values resolve from the
// environment.
type Config struct {
	APIKey     string
	Host       string
	Getenv     func(key string) string
	HTTPClient *http.Client
}

// Client is the Anthropic backend.
type Client struct {
	client *anthropic.Client
}

// New builds a client.
func New(cfg Config) *Client {
	getenv := cfg.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	key := cfg.APIKey
	if key == "" {
		key = getenv(CredentialEnv)
	}
	host := cfg.Host
	if host == "" {
		host = getenv(HostEnv)
	}
	host = provider.ResolveHost(host, defaultHost)

	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithBaseURL(host),
	}
	if key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	client := anthropic.NewClient(opts...)
	return &Client{client: &client}
}

func (c *Client) Name() string { return Name }

func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.Messages),
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return provider.Response{}, classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return provider.Response{
		Text:         text.String(),
		Model:        string(resp.Model),
		FinishReason: string(resp.StopReason),
		Usage: provider.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func buildMessages(messages []provider.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, message := range messages {
		block := anthropic.NewTextBlock(message.Content)
		if message.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &provider.Error{
			Kind:       provider.ClassifyStatus(apiErr.StatusCode),
			Provider:   Name,
			Message:    apiErr.Error(),
			StatusCode: apiErr.StatusCode,
			Cause:      err,
		}
	}
	return err
}

var _ provider.Client = (*Client)(nil)
