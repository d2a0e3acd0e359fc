package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"reactsens/internal/config"
	"reactsens/pkg/reactsens"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent analysis runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			modelName, _ := cmd.Flags().GetString("model")
			fromStore, _ := cmd.Flags().GetBool("from-store")
			return withClient(cmd, func(client *reactsens.Client, _ *config.Config, _ *slog.Logger) error {
				runs, err := client.Runs(cmd.Context(), reactsens.RunsRequest{Limit: limit, Model: modelName, FromStore: fromStore})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "no runs")
					return nil
				}
				for _, r := range runs {
					when := r.CreatedAtUTC
					if ts, err := time.Parse(time.RFC3339Nano, r.CreatedAtUTC); err == nil {
						when = humanize.Time(ts)
					}
					cached := ""
					if r.CacheHit {
						cached = " cached"
					}
					fmt.Fprintf(out, "%s  %-14s %s/%s style=%s sets=%d nan=%d%s\n",
						r.RunID, when, r.Model, r.Metric, r.Style, r.ParameterSets, r.NaNCells, cached)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of runs")
	cmd.Flags().String("model", "", "only runs of this model")
	cmd.Flags().Bool("from-store", false, "read run records from the store instead of the run index")
	return cmd
}
