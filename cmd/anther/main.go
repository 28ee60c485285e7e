package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/anther"
	"github.com/petal-labs/anther/cli"
)

// Overridden via ldflags at build time.
var version = anther.Version

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anther",
	Short: "Anther agent extension host CLI",
	Long:  "Anther is a CLI for managing agent extensions, invoking their tools, and talking to model backends.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("anther version %s\n", version))

	rootCmd.AddCommand(cli.NewExtensionsCmd())
	rootCmd.AddCommand(cli.NewToolsCmd())
	rootCmd.AddCommand(cli.NewInvokeCmd())
	rootCmd.AddCommand(cli.NewMemoryCmd())
	rootCmd.AddCommand(cli.NewCompleteCmd())
	rootCmd.AddCommand(cli.NewDaemonCmd())
}
