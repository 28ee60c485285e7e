package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/petal-labs/anther/extension"
)

// ExtensionID is the registry ID the memory provider is registered under.
const ExtensionID = "memory"

// Provider exposes the store as a builtin extension. The agent reaches it
// through the invocation path like any other extension; there is no side
// door.
type Provider struct {
	store Store
}

// NewProvider wraps a store.
func NewProvider(store Store) *Provider {
	return &Provider{store: store}
}

func (p *Provider) Tools() []extension.BuiltinTool {
	return []extension.BuiltinTool{
		rememberTool{store: p.store},
		retrieveTool{store: p.store},
		searchTool{store: p.store},
		forgetTool{store: p.store},
		clearTool{store: p.store},
	}
}

// Close releases the underlying store.
func (p *Provider) Close() error {
	return p.store.Close()
}

// DeclaredExtension returns the registry declaration for the provider.
func DeclaredExtension() extension.Extension {
	return extension.Extension{
		ID:          ExtensionID,
		Description: "categorized, tagged memory with global and local scopes",
		Kind:        extension.KindBuiltin,
	}
}

type rememberTool struct{ store Store }

func (rememberTool) Descriptor() extension.ToolDescriptor {
	return extension.ToolDescriptor{
		Name:        "remember",
		Description: "Store a memory entry under a category with optional tags.",
		InputSchema: objectSchema(map[string]any{
			"category": map[string]any{"type": "string"},
			"content":  map[string]any{"type": "string"},
			"tags":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"scope":    map[string]any{"type": "string", "enum": []string{"global", "local"}},
		}, "category", "content"),
	}
}

func (t rememberTool) Call(ctx context.Context, arguments map[string]any) (extension.InvokeResponse, error) {
	scope, err := scopeArg(arguments, ScopeGlobal)
	if err != nil {
		return extension.InvokeResponse{}, err
	}
	entry := Entry{
		Category: stringArg(arguments, "category"),
		Content:  stringArg(arguments, "content"),
		Tags:     stringSliceArg(arguments, "tags"),
		Scope:    scope,
	}
	if err := t.store.Remember(ctx, entry); err != nil {
		return extension.InvokeResponse{}, err
	}
	return extension.InvokeResponse{
		Text: fmt.Sprintf("remembered under %q (%s scope)", entry.Category, entry.Scope),
	}, nil
}

type retrieveTool struct{ store Store }

func (retrieveTool) Descriptor() extension.ToolDescriptor {
	return extension.ToolDescriptor{
		Name:        "retrieve",
		Description: "List memory entries of a category within one scope, newest first.",
		InputSchema: objectSchema(map[string]any{
			"category": map[string]any{"type": "string"},
			"scope":    map[string]any{"type": "string", "enum": []string{"global", "local"}},
		}, "category"),
	}
}

func (t retrieveTool) Call(ctx context.Context, arguments map[string]any) (extension.InvokeResponse, error) {
	scope, err := scopeArg(arguments, ScopeGlobal)
	if err != nil {
		return extension.InvokeResponse{}, err
	}
	entries, err := t.store.Retrieve(ctx, scope, stringArg(arguments, "category"))
	if err != nil {
		return extension.InvokeResponse{}, err
	}
	return entriesResponse(entries), nil
}

type searchTool struct{ store Store }

func (searchTool) Descriptor() extension.ToolDescriptor {
	return extension.ToolDescriptor{
		Name:        "search",
		Description: "Search memory content, categories, and tags case-insensitively.",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{"type": "string"},
			"scope": map[string]any{"type": "string", "enum": []string{"global", "local"}},
		}, "query"),
	}
}

func (t searchTool) Call(ctx context.Context, arguments map[string]any) (extension.InvokeResponse, error) {
	scope, err := scopeArg(arguments, ScopeAny)
	if err != nil {
		return extension.InvokeResponse{}, err
	}
	entries, err := t.store.Search(ctx, stringArg(arguments, "query"), scope)
	if err != nil {
		return extension.InvokeResponse{}, err
	}
	return entriesResponse(entries), nil
}

type forgetTool struct{ store Store }

func (forgetTool) Descriptor() extension.ToolDescriptor {
	return extension.ToolDescriptor{
		Name:        "forget",
		Description: "Remove every entry in a category whose content matches exactly.",
		InputSchema: objectSchema(map[string]any{
			"category":      map[string]any{"type": "string"},
			"content_match": map[string]any{"type": "string"},
		}, "category", "content_match"),
	}
}

func (t forgetTool) Call(ctx context.Context, arguments map[string]any) (extension.InvokeResponse, error) {
	removed, err := t.store.Forget(ctx, stringArg(arguments, "category"), stringArg(arguments, "content_match"))
	if err != nil {
		return extension.InvokeResponse{}, err
	}
	return extension.InvokeResponse{
		Text:    fmt.Sprintf("removed %d entries", removed),
		Outputs: map[string]any{"removed": removed},
	}, nil
}

type clearTool struct{ store Store }

func (clearTool) Descriptor() extension.ToolDescriptor {
	return extension.ToolDescriptor{
		Name:        "clear",
		Description: "Delete every entry in one scope. Irreversible.",
		InputSchema: objectSchema(map[string]any{
			"scope": map[string]any{"type": "string", "enum": []string{"global", "local"}},
		}, "scope"),
	}
}

func (t clearTool) Call(ctx context.Context, arguments map[string]any) (extension.InvokeResponse, error) {
	scope, err := scopeArg(arguments, ScopeLocal)
	if err != nil {
		return extension.InvokeResponse{}, err
	}
	if err := t.store.Clear(ctx, scope); err != nil {
		return extension.InvokeResponse{}, err
	}
	return extension.InvokeResponse{
		Text: fmt.Sprintf("cleared %s scope", scope),
	}, nil
}

func entriesResponse(entries []Entry) extension.InvokeResponse {
	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, map[string]any{
			"category":   entry.Category,
			"content":    entry.Content,
			"tags":       entry.Tags,
			"scope":      string(entry.Scope),
			"created_at": entry.CreatedAt,
		})
	}
	return extension.InvokeResponse{
		Text:    fmt.Sprintf("%d entries", len(entries)),
		Outputs: map[string]any{"entries": payload},
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringArg(arguments map[string]any, key string) string {
	value, _ := arguments[key].(string)
	return value
}

func stringSliceArg(arguments map[string]any, key string) []string {
	raw, ok := arguments[key]
	if !ok {
		return nil
	}
	switch values := raw.(type) {
	case []string:
		return values
	case []any:
		out := make([]string, 0, len(values))
		for _, value := range values {
			if s, ok := value.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// scopeArg resolves the scope argument; a missing or blank value means the
// tool's own fallback, never ScopeAny.
func scopeArg(arguments map[string]any, fallback Scope) (Scope, error) {
	raw := strings.TrimSpace(stringArg(arguments, "scope"))
	if raw == "" {
		return fallback, nil
	}
	return ParseScope(raw)
}

var _ extension.BuiltinProvider = (*Provider)(nil)
