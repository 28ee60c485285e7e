package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewToolsCmd creates the "tools" command.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools of every reachable extension",
		RunE:  runTools,
	}
	addSessionFlags(cmd)
	return cmd
}

func runTools(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close(cmd.Context())

	s.enableAll(cmd.Context())

	descriptors, err := s.invoker.ListTools(cmd.Context())
	if err != nil {
		return exitError(exitRuntime, "listing tools: %v", err)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tDESCRIPTION")
	for _, descriptor := range descriptors {
		description := descriptor.Description
		if description == "" {
			description = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\n", descriptor.Name, description)
	}
	return writer.Flush()
}
