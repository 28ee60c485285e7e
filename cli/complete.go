package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/anther/config"
	"github.com/petal-labs/anther/provider"
	"github.com/petal-labs/anther/provider/anthropic"
	"github.com/petal-labs/anther/provider/openai"
	"github.com/petal-labs/anther/provider/openrouter"
)

// NewCompleteCmd creates the "complete" command.
func NewCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <prompt>",
		Short: "Send one completion request to a model backend",
		Args:  cobra.ExactArgs(1),
		RunE:  runComplete,
	}
	addSessionFlags(cmd)
	cmd.Flags().String("provider", "openai", "Backend: openai | anthropic | openrouter")
	cmd.Flags().String("model", "", "Model name (default: from config)")
	cmd.Flags().String("system", "", "System prompt")
	cmd.Flags().Int64("max-tokens", 0, "Completion token limit")
	cmd.Flags().Float64("temperature", 0, "Sampling temperature")
	return cmd
}

func runComplete(cmd *cobra.Command, args []string) error {
	file, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd)

	router := provider.NewRouter(logger)
	if err := registerBackends(router, file); err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	name, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		if cfg, ok := file.Provider(name); ok {
			model = cfg.Model
		}
	}
	if model == "" {
		return exitError(exitValidation, "no model given for %s: pass --model or set one in the config file", name)
	}

	system, _ := cmd.Flags().GetString("system")
	maxTokens, _ := cmd.Flags().GetInt64("max-tokens")
	temperature, _ := cmd.Flags().GetFloat64("temperature")

	resp, err := router.Complete(cmd.Context(), name, provider.Request{
		Model:       model,
		System:      system,
		Messages:    []provider.Message{{Role: "user", Content: args[0]}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(resp.Text))
	return nil
}

// registerBackends wires the three supported backends with any hosts and
// retry policies declared in the config file.
func registerBackends(router *provider.Router, file config.File) error {
	openaiCfg, _ := file.Provider(openai.Name)
	if err := router.Register(provider.Registration{
		Client:         openai.New(openai.Config{Host: openaiCfg.Host}),
		CredentialEnvs: []string{openai.CredentialEnv},
		Retry:          openaiCfg.Retry,
	}); err != nil {
		return err
	}

	anthropicCfg, _ := file.Provider(anthropic.Name)
	if err := router.Register(provider.Registration{
		Client:         anthropic.New(anthropic.Config{Host: anthropicCfg.Host}),
		CredentialEnvs: []string{anthropic.CredentialEnv},
		Retry:          anthropicCfg.Retry,
	}); err != nil {
		return err
	}

	openrouterCfg, _ := file.Provider(openrouter.Name)
	return router.Register(provider.Registration{
		Client:         openrouter.New(openrouter.Config{Host: openrouterCfg.Host}),
		CredentialEnvs: []string{openrouter.CredentialEnv},
		Retry:          openrouterCfg.Retry,
	})
}
