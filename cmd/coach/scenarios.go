package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the available scenarios and their objectives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registry, err := loadScenarios(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range registry.List() {
				marker := ""
				if s.ID == registry.Default() {
					marker = mutedStyle.Render(" (default)")
				}
				_, _ = fmt.Fprintln(out, titleStyle.Render(s.ID)+marker)
				if s.Description != "" {
					_, _ = fmt.Fprintln(out, mutedStyle.Render("  "+s.Description))
				}
				for _, o := range s.Objectives {
					_, _ = fmt.Fprintf(out, "  - %s: %s\n", o.Key, o.Label)
				}
				_, _ = fmt.Fprintln(out)
			}
			return nil
		},
	}
}
