package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewExtensionsCmd creates the "extensions" command group.
func NewExtensionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extensions",
		Short: "Inspect configured extensions",
	}
	cmd.AddCommand(newExtensionsListCmd())
	cmd.AddCommand(newExtensionsProbeCmd())
	return cmd
}

func newExtensionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured extensions and their state",
		RunE:  runExtensionsList,
	}
	addSessionFlags(cmd)
	return cmd
}

func runExtensionsList(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close(cmd.Context())

	return printSnapshots(cmd, s)
}

func newExtensionsProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [id]",
		Short: "Connect to extensions and report the resulting state",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExtensionsProbe,
	}
	addSessionFlags(cmd)
	return cmd
}

func runExtensionsProbe(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close(cmd.Context())

	if len(args) == 1 {
		if err := s.registry.Enable(cmd.Context(), args[0]); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "probe failed: %v\n", err)
		}
	} else {
		s.enableAll(cmd.Context())
	}
	return printSnapshots(cmd, s)
}

func printSnapshots(cmd *cobra.Command, s *session) error {
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tKIND\tSTATE\tIN-FLIGHT\tERROR")
	for _, snapshot := range s.registry.Snapshots() {
		errText := snapshot.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n",
			snapshot.ID, snapshot.Kind, snapshot.State, snapshot.InFlight, errText)
	}
	return writer.Flush()
}
