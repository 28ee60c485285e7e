package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRoot creates a fresh cobra root command wired to all subcommands.
// Each test gets an isolated command tree to avoid shared state.
func newTestRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "anther",
		SilenceUsage: true,
	}
	root.AddCommand(NewExtensionsCmd())
	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewInvokeCmd())
	root.AddCommand(NewMemoryCmd())
	root.AddCommand(NewCompleteCmd())
	return root
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeTestConfig creates a temporary config file and returns its path.
func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const testConfigYAML = `
extensions:
  - id: builder
    kind: stdio
    transport:
      command: /nonexistent/builder-server
`

// --- extensions command tests ---

func TestExtensionsList_ShowsMemoryAndConfigured(t *testing.T) {
	path := writeTestConfig(t, testConfigYAML)
	root := newTestRoot()
	stdout, _, err := executeCommand(root, "extensions", "list", "--config", path, "--ephemeral-memory")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, "memory") || !strings.Contains(stdout, "builtin") {
		t.Errorf("expected memory builtin row, got: %q", stdout)
	}
	if !strings.Contains(stdout, "builder") || !strings.Contains(stdout, "stdio") {
		t.Errorf("expected builder stdio row, got: %q", stdout)
	}
	if !strings.Contains(stdout, "disabled") {
		t.Errorf("expected disabled state without probe, got: %q", stdout)
	}
}

func TestExtensionsProbe_ReportsFailedConnection(t *testing.T) {
	path := writeTestConfig(t, testConfigYAML)
	root := newTestRoot()
	stdout, _, err := executeCommand(root, "extensions", "probe", "--config", path, "--ephemeral-memory")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	// The builtin comes up; the stdio server binary does not exist.
	if !strings.Contains(stdout, "ready") {
		t.Errorf("expected memory to be ready, got: %q", stdout)
	}
	if !strings.Contains(stdout, "failed") {
		t.Errorf("expected builder to be failed, got: %q", stdout)
	}
}

func TestExtensionsList_RejectsBadConfig(t *testing.T) {
	path := writeTestConfig(t, "extensions:\n  - id: x\n    kind: telepathy\n")
	root := newTestRoot()
	_, _, err := executeCommand(root, "extensions", "list", "--config", path, "--ephemeral-memory")
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
	exitErr, ok := err.(*ExitError)
	if !ok {
		t.Fatalf("error type = %T, want *ExitError", err)
	}
	if exitErr.Code != exitValidation {
		t.Fatalf("exit code = %d, want %d", exitErr.Code, exitValidation)
	}
}

// --- tools command tests ---

func TestTools_ListsPrefixedMemoryTools(t *testing.T) {
	path := writeTestConfig(t, "")
	root := newTestRoot()
	stdout, _, err := executeCommand(root, "tools", "--config", path, "--ephemeral-memory")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	for _, name := range []string{"memory__remember", "memory__retrieve", "memory__search", "memory__forget", "memory__clear"} {
		if !strings.Contains(stdout, name) {
			t.Errorf("expected %s in output, got: %q", name, stdout)
		}
	}
}

// --- invoke command tests ---

func TestInvoke_RejectsUnprefixedName(t *testing.T) {
	path := writeTestConfig(t, "")
	root := newTestRoot()
	_, _, err := executeCommand(root, "invoke", "remember", "--config", path, "--ephemeral-memory")
	if err == nil {
		t.Fatal("expected error for unprefixed tool name")
	}
	if !strings.Contains(err.Error(), "extension") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInvoke_DispatchesBuiltinTool(t *testing.T) {
	path := writeTestConfig(t, "")
	root := newTestRoot()
	stdout, _, err := executeCommand(root,
		"invoke", "memory__remember",
		"--args", `{"category": "build", "content": "use make lint before pushing"}`,
		"--config", path, "--ephemeral-memory",
	)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, "remembered") {
		t.Errorf("expected confirmation, got: %q", stdout)
	}
}

func TestInvoke_UnknownExtension(t *testing.T) {
	path := writeTestConfig(t, "")
	root := newTestRoot()
	_, _, err := executeCommand(root, "invoke", "ghost__tool", "--config", path, "--ephemeral-memory")
	if err == nil {
		t.Fatal("expected error for unknown extension")
	}
	exitErr, ok := err.(*ExitError)
	if !ok {
		t.Fatalf("error type = %T, want *ExitError", err)
	}
	if exitErr.Code != exitRuntime {
		t.Fatalf("exit code = %d, want %d", exitErr.Code, exitRuntime)
	}
}

// --- memory command tests ---

func TestMemory_RememberAndRetrieveOnDisk(t *testing.T) {
	configPath := writeTestConfig(t, "")
	dbPath := filepath.Join(t.TempDir(), "memory.db")

	root := newTestRoot()
	_, _, err := executeCommand(root,
		"memory", "remember", "prefer tabs over spaces",
		"--category", "style", "--tag", "formatting", "--scope", "local",
		"--config", configPath, "--memory-path", dbPath,
	)
	if err != nil {
		t.Fatalf("remember error: %v", err)
	}

	// A fresh command tree reads the same database.
	root = newTestRoot()
	stdout, _, err := executeCommand(root,
		"memory", "retrieve", "style", "--scope", "local",
		"--config", configPath, "--memory-path", dbPath,
	)
	if err != nil {
		t.Fatalf("retrieve error: %v", err)
	}
	if !strings.Contains(stdout, "prefer tabs over spaces") {
		t.Errorf("expected stored entry in output, got: %q", stdout)
	}
}

func TestMemory_SearchSpansScopes(t *testing.T) {
	configPath := writeTestConfig(t, "")
	dbPath := filepath.Join(t.TempDir(), "memory.db")

	for _, scope := range []string{"global", "local"} {
		root := newTestRoot()
		_, _, err := executeCommand(root,
			"memory", "remember", "JWT tokens expire after an hour ("+scope+")",
			"--category", "auth", "--scope", scope,
			"--config", configPath, "--memory-path", dbPath,
		)
		if err != nil {
			t.Fatalf("remember %s error: %v", scope, err)
		}
	}

	root := newTestRoot()
	stdout, _, err := executeCommand(root,
		"memory", "search", "jwt",
		"--config", configPath, "--memory-path", dbPath,
	)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if !strings.Contains(stdout, "(global)") || !strings.Contains(stdout, "(local)") {
		t.Errorf("expected matches from both scopes, got: %q", stdout)
	}
}

func TestMemory_ForgetMissingEntryFails(t *testing.T) {
	configPath := writeTestConfig(t, "")
	root := newTestRoot()
	_, _, err := executeCommand(root,
		"memory", "forget", "auth", "never stored",
		"--config", configPath, "--ephemeral-memory",
	)
	if err == nil {
		t.Fatal("expected error forgetting a missing entry")
	}
}

// --- complete command tests ---

func TestComplete_MissingCredentialFailsFast(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	configPath := writeTestConfig(t, "")
	root := newTestRoot()
	_, _, err := executeCommand(root,
		"complete", "hello",
		"--provider", "openai", "--model", "gpt-4o",
		"--config", configPath, "--ephemeral-memory",
	)
	if err == nil {
		t.Fatal("expected error without credential")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestComplete_RequiresModel(t *testing.T) {
	configPath := writeTestConfig(t, "")
	root := newTestRoot()
	_, _, err := executeCommand(root,
		"complete", "hello", "--provider", "anthropic",
		"--config", configPath, "--ephemeral-memory",
	)
	if err == nil {
		t.Fatal("expected error without a model")
	}
	exitErr, ok := err.(*ExitError)
	if !ok {
		t.Fatalf("error type = %T, want *ExitError", err)
	}
	if exitErr.Code != exitValidation {
		t.Fatalf("exit code = %d, want %d", exitErr.Code, exitValidation)
	}
}
