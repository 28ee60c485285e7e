package cli

import (
	"github.com/spf13/cobra"

	"github.com/petal-labs/anther/invoke"
	"github.com/petal-labs/anther/memory"
)

// NewMemoryCmd creates the "memory" command group. Every subcommand goes
// through the invocation path; the store has no side door.
func NewMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Store and retrieve agent memory",
	}
	cmd.AddCommand(newMemoryRememberCmd())
	cmd.AddCommand(newMemoryRetrieveCmd())
	cmd.AddCommand(newMemorySearchCmd())
	cmd.AddCommand(newMemoryForgetCmd())
	cmd.AddCommand(newMemoryClearCmd())
	return cmd
}

func newMemoryRememberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remember <content>",
		Short: "Store a memory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, _ := cmd.Flags().GetString("category")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			scope, _ := cmd.Flags().GetString("scope")
			arguments := map[string]any{
				"category": category,
				"content":  args[0],
				"scope":    scope,
			}
			if len(tags) > 0 {
				arguments["tags"] = toAnySlice(tags)
			}
			return dispatchMemory(cmd, "remember", arguments)
		},
	}
	addSessionFlags(cmd)
	cmd.Flags().String("category", "", "Entry category (required)")
	cmd.Flags().StringSlice("tag", nil, "Entry tag (repeatable)")
	cmd.Flags().String("scope", "global", "Entry scope: global | local")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newMemoryRetrieveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrieve <category>",
		Short: "List entries of a category, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			return dispatchMemory(cmd, "retrieve", map[string]any{
				"category": args[0],
				"scope":    scope,
			})
		},
	}
	addSessionFlags(cmd)
	cmd.Flags().String("scope", "global", "Scope to read: global | local")
	return cmd
}

func newMemorySearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search content, categories, and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments := map[string]any{"query": args[0]}
			if scope, _ := cmd.Flags().GetString("scope"); scope != "" {
				arguments["scope"] = scope
			}
			return dispatchMemory(cmd, "search", arguments)
		},
	}
	addSessionFlags(cmd)
	cmd.Flags().String("scope", "", "Restrict to one scope: global | local (default: both)")
	return cmd
}

func newMemoryForgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <category> <content>",
		Short: "Remove every entry in a category matching the content exactly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchMemory(cmd, "forget", map[string]any{
				"category":      args[0],
				"content_match": args[1],
			})
		},
	}
	addSessionFlags(cmd)
	return cmd
}

func newMemoryClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry in a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			return dispatchMemory(cmd, "clear", map[string]any{"scope": scope})
		},
	}
	addSessionFlags(cmd)
	cmd.Flags().String("scope", "local", "Scope to clear: global | local")
	return cmd
}

func dispatchMemory(cmd *cobra.Command, tool string, arguments map[string]any) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close(cmd.Context())

	if err := s.registry.Enable(cmd.Context(), memory.ExtensionID); err != nil {
		return exitError(exitRuntime, "enabling memory: %v", err)
	}

	record, err := s.invoker.Dispatch(cmd.Context(), invoke.JoinToolName(memory.ExtensionID, tool), arguments)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	return printCallRecord(cmd, record)
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, value := range values {
		out[i] = value
	}
	return out
}
