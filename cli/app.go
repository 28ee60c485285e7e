// Package cli implements the anther command surface: extension management,
// tool invocation, memory access, and provider completions.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/anther/config"
	"github.com/petal-labs/anther/extension"
	"github.com/petal-labs/anther/invoke"
	"github.com/petal-labs/anther/memory"
)

// session holds the wired components behind one command execution.
type session struct {
	file     config.File
	logger   *slog.Logger
	registry *extension.Registry
	invoker  *invoke.Invoker
	memory   *memory.Provider
}

// addSessionFlags registers the flags every session-backed command shares.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to config file (default: $ANTHER_CONFIG or ~/.anther/config.yaml)")
	cmd.Flags().String("memory-path", "", "Path to the memory SQLite database")
	cmd.Flags().Bool("ephemeral-memory", false, "Keep memory in process memory only")
	cmd.Flags().Bool("verbose", false, "Enable debug logging")
}

// newSession loads config and assembles the registry, builtins, and invoker.
func newSession(cmd *cobra.Command) (*session, error) {
	file, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd)

	store, err := openMemoryStore(cmd, file.Memory)
	if err != nil {
		return nil, exitError(exitRuntime, "opening memory store: %v", err)
	}
	memoryProvider := memory.NewProvider(store)

	builtins := map[string]extension.BuiltinProvider{
		memory.ExtensionID: memoryProvider,
	}
	factory := &extension.DefaultAdapterFactory{
		Builtins: func(extensionID string) (extension.BuiltinProvider, bool) {
			provider, ok := builtins[extensionID]
			return provider, ok
		},
	}

	registry := extension.NewRegistry(factory, logger)
	if _, err := registry.Register(memory.DeclaredExtension()); err != nil {
		_ = memoryProvider.Close()
		return nil, exitError(exitRuntime, "registering memory extension: %v", err)
	}
	for _, ext := range file.Extensions {
		if _, err := registry.Register(ext); err != nil {
			if errors.Is(err, extension.ErrAlreadyRegistered) {
				logger.Warn("skipping duplicate extension declaration", "extension", ext.ID)
				continue
			}
			_ = memoryProvider.Close()
			return nil, exitError(exitValidation, "registering extension %s: %v", ext.ID, err)
		}
	}

	return &session{
		file:     file,
		logger:   logger,
		registry: registry,
		invoker:  invoke.New(registry, logger),
		memory:   memoryProvider,
	}, nil
}

// Close disables every extension and releases the memory store.
func (s *session) Close(ctx context.Context) {
	s.registry.Shutdown(ctx)
	_ = s.memory.Close()
}

// enableAll brings every registered extension up. Failures land the
// extension in the failed state and are reported through the snapshot, not
// as a command error.
func (s *session) enableAll(ctx context.Context) {
	for _, handle := range s.registry.List() {
		if err := s.registry.Enable(ctx, handle.Extension().ID); err != nil {
			s.logger.Warn("extension enable failed", "extension", handle.Extension().ID, "error", err)
		}
	}
}

func loadConfig(cmd *cobra.Command) (config.File, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return config.File{}, exitError(exitRuntime, "%v", err)
		}
		path = defaultPath
	}
	file, err := config.Load(path)
	if err != nil {
		return config.File{}, exitError(exitValidation, "%v", err)
	}
	return file, nil
}

func openMemoryStore(cmd *cobra.Command, cfg config.MemoryConfig) (memory.Store, error) {
	ephemeral, _ := cmd.Flags().GetBool("ephemeral-memory")
	if ephemeral || cfg.Ephemeral {
		return memory.NewInMemoryStore(), nil
	}
	path, _ := cmd.Flags().GetString("memory-path")
	if path == "" {
		path = cfg.Path
	}
	if path == "" {
		return memory.NewDefaultSQLiteStore()
	}
	return memory.NewSQLiteStore(path)
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
