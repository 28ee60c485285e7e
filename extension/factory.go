package extension

import (
	"fmt"
	"net/http"
	"os"

	"github.com/petal-labs/anther/extension/rpc"
)

// BuiltinLookup resolves a builtin provider by extension ID.
type BuiltinLookup func(extensionID string) (BuiltinProvider, bool)

// DefaultAdapterFactory builds adapters for the supported transport kinds.
// Environment references in a transport spec (EnvKeys, BearerTokenEnv) are
// resolved here, when the adapter is built, not when the extension was
// declared.
type DefaultAdapterFactory struct {
	// Builtins resolves in-process providers. Nil means no builtins.
	Builtins BuiltinLookup
	// Getenv resolves environment references. Nil means os.Getenv.
	Getenv func(key string) string
	// HTTPClient is used by stream adapters. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

func (f *DefaultAdapterFactory) New(ext Extension) (Adapter, error) {
	switch ext.Kind {
	case KindBuiltin:
		if f.Builtins == nil {
			return nil, newError(ErrorCodeInvalidConfig, fmt.Sprintf("no builtin provider for %s", ext.ID), false, nil)
		}
		provider, ok := f.Builtins(ext.ID)
		if !ok {
			return nil, newError(ErrorCodeInvalidConfig, fmt.Sprintf("no builtin provider for %s", ext.ID), false, nil)
		}
		return NewBuiltinAdapter(ext.ID, provider)

	case KindStdio:
		return NewStdioAdapter(ext.ID, rpc.StdioTransportConfig{
			Command: ext.Transport.Command,
			Args:    ext.Transport.Args,
			Env:     f.resolveEnv(ext.Transport),
		})

	case KindStream:
		return NewStreamAdapter(ext.ID, rpc.SSETransportConfig{
			Endpoint:       ext.Transport.URL,
			StreamEndpoint: ext.Transport.StreamURL,
			Headers:        ext.Transport.Headers,
			BearerToken:    f.resolveBearerToken(ext.Transport),
			Client:         f.HTTPClient,
		})

	default:
		return nil, newError(ErrorCodeInvalidConfig, fmt.Sprintf("unsupported extension kind %q", ext.Kind), false, nil)
	}
}

// resolveEnv merges declared env values with the named parent-process
// variables. Explicit Env entries win over EnvKeys lookups.
func (f *DefaultAdapterFactory) resolveEnv(spec TransportSpec) map[string]string {
	if len(spec.Env) == 0 && len(spec.EnvKeys) == 0 {
		return nil
	}
	merged := make(map[string]string, len(spec.Env)+len(spec.EnvKeys))
	for _, key := range spec.EnvKeys {
		if value := f.getenv(key); value != "" {
			merged[key] = value
		}
	}
	for key, value := range spec.Env {
		merged[key] = value
	}
	return merged
}

func (f *DefaultAdapterFactory) resolveBearerToken(spec TransportSpec) string {
	if spec.BearerTokenEnv == "" {
		return ""
	}
	return f.getenv(spec.BearerTokenEnv)
}

func (f *DefaultAdapterFactory) getenv(key string) string {
	if f.Getenv != nil {
		return f.Getenv(key)
	}
	return os.Getenv(key)
}
