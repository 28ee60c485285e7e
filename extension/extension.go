package extension

import (
	"strings"
	"time"
)

// DefaultTimeoutSeconds bounds tool invocations when an extension does not
// set its own limit.
const DefaultTimeoutSeconds = 300

// Kind selects the transport an extension is reached over.
type Kind string

const (
	// KindBuiltin runs in-process.
	KindBuiltin Kind = "builtin"
	// KindStdio spawns a subprocess and speaks newline-delimited JSON-RPC
	// over its stdin/stdout pipe.
	KindStdio Kind = "stdio"
	// KindStream talks to a remote HTTP endpoint with a server-sent-events
	// response stream.
	KindStream Kind = "stream"
)

// TransportSpec carries the kind-specific connection settings.
type TransportSpec struct {
	// Command and Args configure a stdio subprocess.
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// EnvKeys names parent-process environment variables whose values are
	// resolved when the extension is enabled and merged into Env.
	EnvKeys []string `json:"env_keys,omitempty" yaml:"env_keys,omitempty"`

	// URL is the request endpoint of a stream extension. StreamURL, when
	// set, is a separate persistent event-stream endpoint.
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	StreamURL string            `json:"stream_url,omitempty" yaml:"stream_url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// BearerTokenEnv names the environment variable holding the bearer
	// token for stream endpoints that require authorization.
	BearerTokenEnv string `json:"bearer_token_env,omitempty" yaml:"bearer_token_env,omitempty"`
}

// Extension is the declared configuration of one tool provider.
type Extension struct {
	ID          string        `json:"id" yaml:"id"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        Kind          `json:"kind" yaml:"kind"`
	Transport   TransportSpec `json:"transport" yaml:"transport"`
	// TimeoutSeconds bounds each tool invocation. Zero means the default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Timeout returns the per-invocation deadline duration.
func (e Extension) Timeout() time.Duration {
	seconds := e.TimeoutSeconds
	if seconds <= 0 {
		seconds = DefaultTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// SanitizeID lowercases an extension identifier and replaces every character
// outside [a-z0-9_-] with an underscore. IDs appear inside prefixed tool
// names, so they must stay within the model-facing tool name alphabet.
func SanitizeID(id string) string {
	lowered := strings.ToLower(strings.TrimSpace(id))
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
