package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/scenario-coach/internal/dialogue"
	"github.com/ashureev/scenario-coach/internal/scenario"
	"github.com/ashureev/scenario-coach/internal/session"
	"github.com/spf13/cobra"
)

func newPlayCmd() *cobra.Command {
	var scenarioID string

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Run a scenario interactively in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Keep the terminal for the dialogue; only warnings go to stderr.
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

			registry, err := loadScenarios(cfg)
			if err != nil {
				return err
			}
			sc, err := registry.Get(scenarioID)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			provider, opts, err := newProvider(ctx, cfg)
			if err != nil {
				return err
			}
			opts = append(opts, dialogue.WithModelTimeout(cfg.Model.Timeout))
			engine := dialogue.New(session.NewMemoryStore(), provider, registry, opts...)

			return play(ctx, engine, sc, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "scenario ID (defaults to DEFAULT_SCENARIO)")
	return cmd
}

type dialogueEngine interface {
	Start(ctx context.Context, scenarioID string) (*dialogue.Result, error)
	SendMessage(ctx context.Context, sessionID, text string) (*dialogue.Result, error)
}

// play drives one dialogue over in and out until the scenario completes, the
// learner types /quit, or in reaches EOF.
func play(ctx context.Context, engine dialogueEngine, sc *scenario.Scenario, in io.Reader, out io.Writer) error {
	keys := sc.ObjectiveKeys()
	labels := make(map[string]string, len(sc.Objectives))
	for _, o := range sc.Objectives {
		labels[o.Key] = o.Label
	}

	_, _ = fmt.Fprintln(out, titleStyle.Render(sc.Title))
	_, _ = fmt.Fprintln(out, mutedStyle.Render("Type /quit to leave, /progress to see objectives."))

	res, err := engine.Start(ctx, sc.ID)
	if err != nil {
		return fmt.Errorf("start scenario: %w", err)
	}
	_, _ = fmt.Fprintln(out, personaStyle.Render(res.Text))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for {
		_, _ = fmt.Fprint(out, titleStyle.Render("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/progress":
			_, _ = fmt.Fprint(out, checklist(keys, labels, res.Progress))
			continue
		}

		next, err := engine.SendMessage(ctx, res.SessionID, line)
		if err != nil {
			_, _ = fmt.Fprintln(out, errorStyle.Render(describe(err)))
			continue
		}
		res = next

		if res.Completed {
			_, _ = fmt.Fprintln(out, feedbackStyle.Render(res.Text))
			_, _ = fmt.Fprint(out, checklist(keys, labels, res.Progress))
			return nil
		}
		_, _ = fmt.Fprintln(out, personaStyle.Render(res.Text))
	}
}

func describe(err error) string {
	var upErr *dialogue.UpstreamError
	if errors.As(err, &upErr) && upErr.Retryable() {
		return "The model is unavailable right now. Send your message again."
	}
	return "Error: " + err.Error()
}
