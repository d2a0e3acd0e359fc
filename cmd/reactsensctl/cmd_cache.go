package main

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"reactsens/internal/config"
	"reactsens/pkg/reactsens"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear cached sensitivity coefficients",
	}
	cmd.PersistentFlags().String("model", "", "model name")
	cmd.PersistentFlags().String("metric", "", "signaling metric (empty means every metric)")
	_ = cmd.MarkPersistentFlagRequired("model")
	cmd.AddCommand(newCacheInfoCmd(), newCacheClearCmd())
	return cmd
}

func newCacheInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show cached coefficient tensors",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelName, _ := cmd.Flags().GetString("model")
			metricName, _ := cmd.Flags().GetString("metric")
			return withClient(cmd, func(client *reactsens.Client, _ *config.Config, _ *slog.Logger) error {
				entries, err := client.CacheInfo(cmd.Context(), modelName, metricName)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					if !e.Exists {
						fmt.Fprintf(out, "%-28s missing  %s\n", e.Key.String(), e.Location)
						continue
					}
					fmt.Fprintf(out, "%-28s %-8s %s  dims=%v\n",
						e.Key.String(), humanize.Bytes(uint64(e.Size)), e.Location, e.Dims)
				}
				return nil
			})
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete cached coefficient tensors",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelName, _ := cmd.Flags().GetString("model")
			metricName, _ := cmd.Flags().GetString("metric")
			return withClient(cmd, func(client *reactsens.Client, _ *config.Config, _ *slog.Logger) error {
				if err := client.CacheClear(cmd.Context(), modelName, metricName); err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "cleared", "model": modelName, "metric": metricName})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared cached coefficients for %s\n", modelName)
				return nil
			})
		},
	}
}
