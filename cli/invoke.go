package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/anther/invoke"
)

// NewInvokeCmd creates the "invoke" command.
func NewInvokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <extension__tool>",
		Short: "Invoke one extension tool",
		Args:  cobra.ExactArgs(1),
		RunE:  runInvoke,
	}
	addSessionFlags(cmd)
	cmd.Flags().String("args", "", "Tool arguments as a JSON object")
	cmd.Flags().Bool("json", false, "Print the full call record as JSON")
	return cmd
}

func runInvoke(cmd *cobra.Command, args []string) error {
	extensionID, _, ok := invoke.SplitToolName(args[0])
	if !ok {
		return exitError(exitValidation, "tool name %q is not of the form <extension>%s<tool>", args[0], invoke.ToolNameSeparator)
	}

	arguments, err := parseArguments(cmd)
	if err != nil {
		return err
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close(cmd.Context())

	if err := s.registry.Enable(cmd.Context(), extensionID); err != nil {
		return exitError(exitRuntime, "enabling %s: %v", extensionID, err)
	}

	record, err := s.invoker.Dispatch(cmd.Context(), args[0], arguments)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	return printCallRecord(cmd, record)
}

func parseArguments(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("args")
	if raw == "" {
		return nil, nil
	}
	var arguments map[string]any
	if err := json.Unmarshal([]byte(raw), &arguments); err != nil {
		return nil, exitError(exitValidation, "invalid --args: %v", err)
	}
	return arguments, nil
}

func printCallRecord(cmd *cobra.Command, record invoke.ToolCall) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(record)
	}

	if record.Response.Text != "" {
		fmt.Fprintln(cmd.OutOrStdout(), record.Response.Text)
	}
	if len(record.Response.Outputs) > 0 {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(record.Response.Outputs); err != nil {
			return exitError(exitRuntime, "marshaling output: %v", err)
		}
	}
	return nil
}
