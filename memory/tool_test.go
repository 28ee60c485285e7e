package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/petal-labs/anther/extension"
	"github.com/petal-labs/anther/invoke"
)

// newMemoryInvoker wires the provider through the real registry and
// invoker, so the tests exercise the same path the agent uses.
func newMemoryInvoker(t *testing.T) *invoke.Invoker {
	t.Helper()

	provider := NewProvider(NewInMemoryStore())
	factory := &extension.DefaultAdapterFactory{
		Builtins: func(extensionID string) (extension.BuiltinProvider, bool) {
			if extensionID == ExtensionID {
				return provider, true
			}
			return nil, false
		},
	}
	registry := extension.NewRegistry(factory, nil)
	if _, err := registry.Register(DeclaredExtension()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.Enable(context.Background(), ExtensionID); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	return invoke.New(registry, nil)
}

func TestMemoryToolsThroughInvoker(t *testing.T) {
	invoker := newMemoryInvoker(t)
	ctx := context.Background()

	record, err := invoker.Dispatch(ctx, "memory__remember", map[string]any{
		"category": "pref",
		"content":  "use JWT",
		"tags":     []any{"api"},
		"scope":    "global",
	})
	if err != nil {
		t.Fatalf("remember error = %v", err)
	}
	if record.Status != invoke.StatusSucceeded {
		t.Fatalf("remember status = %q", record.Status)
	}

	record, err = invoker.Dispatch(ctx, "memory__search", map[string]any{"query": "jwt"})
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	entries, ok := record.Response.Outputs["entries"].([]map[string]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("search outputs = %+v, want one entry", record.Response.Outputs)
	}
	if entries[0]["content"] != "use JWT" {
		t.Fatalf("search entry = %+v", entries[0])
	}

	record, err = invoker.Dispatch(ctx, "memory__forget", map[string]any{
		"category":      "pref",
		"content_match": "use JWT",
	})
	if err != nil {
		t.Fatalf("forget error = %v", err)
	}
	if removed := record.Response.Outputs["removed"]; removed != 1 {
		t.Fatalf("forget removed = %v, want 1", removed)
	}

	record, err = invoker.Dispatch(ctx, "memory__retrieve", map[string]any{
		"category": "pref",
		"scope":    "global",
	})
	if err != nil {
		t.Fatalf("retrieve error = %v", err)
	}
	entries, _ = record.Response.Outputs["entries"].([]map[string]any)
	if len(entries) != 0 {
		t.Fatalf("retrieve after forget = %+v, want empty", entries)
	}
}

func TestMemoryToolErrorsSurfaceThroughInvoker(t *testing.T) {
	invoker := newMemoryInvoker(t)
	ctx := context.Background()

	_, err := invoker.Dispatch(ctx, "memory__remember", map[string]any{
		"category": "",
		"content":  "orphan",
	})
	if !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("remember error = %v, want ErrInvalidCategory", err)
	}

	_, err = invoker.Dispatch(ctx, "memory__forget", map[string]any{
		"category":      "missing",
		"content_match": "nothing",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("forget error = %v, want ErrNotFound", err)
	}

	_, err = invoker.Dispatch(ctx, "memory__search", map[string]any{
		"query": "x",
		"scope": "everywhere",
	})
	if err == nil {
		t.Fatal("search accepted an invalid scope")
	}
}

func TestMemoryClearDefaultsToLocalScope(t *testing.T) {
	invoker := newMemoryInvoker(t)
	ctx := context.Background()

	for _, entry := range []map[string]any{
		{"category": "pref", "content": "keep me", "scope": "global"},
		{"category": "pref", "content": "wipe me", "scope": "local"},
	} {
		if _, err := invoker.Dispatch(ctx, "memory__remember", entry); err != nil {
			t.Fatalf("remember error = %v", err)
		}
	}

	// A blank scope argument means local, same as leaving it out; it must
	// never widen to both scopes.
	record, err := invoker.Dispatch(ctx, "memory__clear", map[string]any{"scope": "  "})
	if err != nil {
		t.Fatalf("clear error = %v", err)
	}
	if record.Status != invoke.StatusSucceeded {
		t.Fatalf("clear status = %q", record.Status)
	}

	record, err = invoker.Dispatch(ctx, "memory__retrieve", map[string]any{
		"category": "pref",
		"scope":    "global",
	})
	if err != nil {
		t.Fatalf("retrieve error = %v", err)
	}
	entries, _ := record.Response.Outputs["entries"].([]map[string]any)
	if len(entries) != 1 || entries[0]["content"] != "keep me" {
		t.Fatalf("global entries after clear = %+v, want the global entry intact", entries)
	}

	record, err = invoker.Dispatch(ctx, "memory__retrieve", map[string]any{
		"category": "pref",
		"scope":    "local",
	})
	if err != nil {
		t.Fatalf("retrieve error = %v", err)
	}
	entries, _ = record.Response.Outputs["entries"].([]map[string]any)
	if len(entries) != 0 {
		t.Fatalf("local entries after clear = %+v, want empty", entries)
	}
}

func TestMemoryToolListing(t *testing.T) {
	invoker := newMemoryInvoker(t)

	tools, err := invoker.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"memory__remember",
		"memory__retrieve",
		"memory__search",
		"memory__forget",
		"memory__clear",
	} {
		if !names[want] {
			t.Fatalf("tool %q missing from listing %v", want, names)
		}
	}
}
