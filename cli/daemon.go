package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/anther/extension"
	antherotel "github.com/petal-labs/anther/otel"
)

// NewDaemonCmd creates the "daemon" command: enable everything, sweep
// health in the background, and hold until interrupted.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run with all extensions enabled and health sweeping active",
		RunE:  runDaemon,
	}
	addSessionFlags(cmd)
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP collector endpoint for trace export")
	cmd.Flags().Bool("otlp-insecure", false, "Send OTLP over plain HTTP")
	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	otlpInsecure, _ := cmd.Flags().GetBool("otlp-insecure")

	providers, err := antherotel.Setup(cmd.Context(), antherotel.SetupConfig{
		ServiceName: "anther",
		Endpoint:    otlpEndpoint,
		Insecure:    otlpInsecure,
	})
	if err != nil {
		return exitError(exitRuntime, "initializing telemetry: %v", err)
	}
	defer func() {
		extension.SetObserver(nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close(context.Background())

	s.enableAll(cmd.Context())
	if err := printSnapshots(cmd, s); err != nil {
		return err
	}

	var sweeper *extension.HealthSweeper
	if !s.file.Health.Disabled {
		sweeper, err = extension.NewHealthSweeper(extension.HealthSweeperConfig{
			Registry:         s.registry,
			Schedule:         s.file.Health.Schedule,
			FailureThreshold: s.file.Health.FailureThreshold,
			OnEvent: func(event extension.HealthEvent) {
				if event.Failed {
					s.logger.Warn("extension failed health sweeping", "extension", event.ExtensionID, "failures", event.FailureCount, "error", event.Error)
				}
			},
		})
		if err != nil {
			return exitError(exitValidation, "%v", err)
		}
		if err := sweeper.Start(); err != nil {
			return exitError(exitRuntime, "starting health sweeper: %v", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = sweeper.Stop(stopCtx)
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(cmd.OutOrStdout(), "anther daemon running, press Ctrl+C to stop")
	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
	return nil
}
