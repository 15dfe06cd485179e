// Scenario Coach - scripted dialogue training server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/scenario-coach/internal/config"
	"github.com/ashureev/scenario-coach/internal/dialogue"
	"github.com/ashureev/scenario-coach/internal/llm"
	"github.com/ashureev/scenario-coach/internal/llm/anthropic"
	"github.com/ashureev/scenario-coach/internal/llm/gemini"
	"github.com/ashureev/scenario-coach/internal/scenario"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coach",
		Short:         "Scripted dialogue training with objective tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newScenariosCmd())
	root.AddCommand(newPlayCmd())
	return root
}

// loadConfig reads .env (if present) and the environment.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	return config.Load()
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// loadScenarios returns the builtin scenarios overlaid with SCENARIO_DIR.
func loadScenarios(cfg *config.Config) (*scenario.Registry, error) {
	registry, err := scenario.LoadBuiltin(cfg.Scenarios.DefaultID)
	if err != nil {
		return nil, err
	}
	if cfg.Scenarios.Dir != "" {
		if err := registry.LoadDir(cfg.Scenarios.Dir); err != nil {
			return nil, fmt.Errorf("load %s: %w", cfg.Scenarios.Dir, err)
		}
	}
	if _, err := registry.Get(""); err != nil {
		return nil, fmt.Errorf("default scenario: %w", err)
	}
	return registry, nil
}

// newProvider builds the configured model client plus the orchestrator
// options it needs.
func newProvider(ctx context.Context, cfg *config.Config) (llm.Provider, []dialogue.Option, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, nil, err
	}

	var opts []dialogue.Option
	switch cfg.Model.Provider {
	case config.ProviderGemini:
		client, err := gemini.New(ctx, cfg.Model.GeminiAPIKey, nil, gemini.WithModel(cfg.Model.Name))
		if err != nil {
			return nil, nil, err
		}
		// Builtin scenarios name Claude models.
		model := cfg.Model.Name
		if model == "" {
			model = gemini.DefaultModel
		}
		opts = append(opts, dialogue.WithModel(model))
		return client, opts, nil
	default:
		client := anthropic.New(cfg.Model.AnthropicAPIKey, anthropic.WithBaseURL(cfg.Model.AnthropicBaseURL))
		if cfg.Model.Name != "" {
			opts = append(opts, dialogue.WithModel(cfg.Model.Name))
		}
		return client, opts, nil
	}
}
