package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"reactsens/internal/config"
	"reactsens/pkg/reactsens"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the built-in models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(client *reactsens.Client, _ *config.Config, _ *slog.Logger) error {
				models, err := client.Models()
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(cmd.OutOrStdout(), models)
				}
				out := cmd.OutOrStdout()
				for _, m := range models {
					fmt.Fprintf(out, "%s\n  %s\n", m.Name, m.Description)
					fmt.Fprintf(out, "  observables: %s\n", strings.Join(m.Observables, ", "))
					fmt.Fprintf(out, "  conditions:  %s\n", strings.Join(m.Conditions, ", "))
					for _, p := range m.Processes {
						fmt.Fprintf(out, "  %-24s reactions %v\n", p.Name, p.Reactions)
					}
				}
				return nil
			})
		},
	}
}
