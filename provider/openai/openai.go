// Package openai adapts the OpenAI Chat Completions API to the provider
// contract. Retry is owned by the router, so the SDK's own retry loop is
// disabled.
package openai

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/petal-labs/anther/provider"
)

const (
	// Name is the router registration name.
	Name = "openai"
	// CredentialEnv holds the API key.
	CredentialEnv = "OPENAI_API_KEY"
	// HostEnv overrides the API host.
	HostEnv = "OPENAI_HOST"

	defaultHost = "https://api.openai.com"
)

// Config customizes client construction. Zero values resolve from the
// environment.
type Config struct {
	APIKey     string
	Host       string
	Getenv     func(key string) string
	HTTPClient *http.Client
}

// Client is the OpenAI backend.
type Client struct {
	client *openai.Client
}

// New builds a client. The host is the configured one when set, the
// environment override next, and the public API host last.
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
		option.WithBaseURL(host + "/v1"),
	}
	if key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	client := openai.NewClient(opts...)
	return &Client{client: &client}
}

func (c *Client) Name() string { return Name }

func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: buildMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return provider.Response{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return provider.Response{}, &provider.Error{
			Kind:     provider.KindInvalidRequest,
			Provider: Name,
			Message:  "response has no choices",
		}
	}

	choice := resp.Choices[0]
	return provider.Response{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Usage: provider.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func buildMessages(req provider.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, message := range req.Messages {
		switch message.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(message.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(message.Content))
		default:
			messages = append(messages, openai.UserMessage(message.Content))
		}
	}
	return messages
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &provider.Error{
			Kind:       provider.ClassifyStatus(apiErr.StatusCode),
			Provider:   Name,
			Message:    apiErr.Error(),
			StatusCode: apiErr.StatusCode,
			Cause:      err,
		}
	}
	// Network-level failures keep their original type so the router's
	// connection checks apply.
	return err
}

var _ provider.Client = (*Client)(nil)
