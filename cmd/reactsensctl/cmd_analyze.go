package main

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"reactsens/internal/config"
	"reactsens/internal/sensitivity"
	"reactsens/pkg/reactsens"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute and report reaction sensitivity coefficients",
		Example: `  reactsensctl analyze --model erk_feedback --metric amplitude --style barplot
  reactsensctl analyze --model erk_feedback --metric integral --style heatmap --normalize`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelName, _ := cmd.Flags().GetString("model")
			metricName, _ := cmd.Flags().GetString("metric")
			style, _ := cmd.Flags().GetString("style")
			source, _ := cmd.Flags().GetString("source")
			workers, _ := cmd.Flags().GetInt("workers")
			recompute, _ := cmd.Flags().GetBool("recompute")
			progressMode, _ := cmd.Flags().GetString("progress")

			return withClient(cmd, func(client *reactsens.Client, cfg *config.Config, logger *slog.Logger) error {
				if !cmd.Flags().Changed("progress") {
					progressMode = cfg.Analysis.Progress
				}
				if jsonOutput(cmd) && progressMode == "bar" {
					progressMode = "log"
				}
				req := reactsens.AnalyzeRequest{
					Model:     modelName,
					Metric:    metricName,
					Style:     style,
					Source:    source,
					Workers:   workers,
					Recompute: recompute,
					Progress:  progressFor(cmd, progressMode, logger),
				}
				if cmd.Flags().Changed("normalize") {
					normalize, _ := cmd.Flags().GetBool("normalize")
					req.Normalize = &normalize
				}

				summary, err := client.Analyze(cmd.Context(), req)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(cmd.OutOrStdout(), summary)
				}

				out := cmd.OutOrStdout()
				origin := "computed"
				if summary.CacheHit {
					origin = "cached"
				}
				fmt.Fprintf(out, "run %s: %s/%s (%s)\n", summary.RunID, summary.Model, summary.Metric, origin)
				fmt.Fprintf(out, "  parameter sets: %s  reactions: %d  undefined coefficients: %s\n",
					humanize.Comma(int64(summary.ParameterSets)), len(summary.Reactions), humanize.Comma(int64(summary.NaNCells)))
				for _, fig := range summary.Figures {
					fmt.Fprintf(out, "  figure: %s\n", fig)
				}
				for _, skipped := range summary.Skipped {
					fmt.Fprintf(out, "  skipped: %s\n", skipped)
				}
				fmt.Fprintf(out, "  artifacts: %s\n", summary.ArtifactsDir)
				if summary.Warning != "" {
					fmt.Fprintf(out, "  warning: %s\n", summary.Warning)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("model", "", "model name (see 'reactsensctl models')")
	cmd.Flags().String("metric", "amplitude", "signaling metric: amplitude|duration|integral")
	cmd.Flags().String("style", "barplot", "report style: barplot|heatmap|none")
	cmd.Flags().String("source", reactsens.SourceDir, "parameter set source: dir|store")
	cmd.Flags().Int("workers", 0, "parameter sets simulated concurrently (0 uses the configured value)")
	cmd.Flags().Bool("normalize", false, "scale each heatmap row by its largest magnitude")
	cmd.Flags().Bool("recompute", false, "ignore cached coefficients")
	cmd.Flags().String("progress", "bar", "progress output: bar|log|none")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func progressFor(cmd *cobra.Command, mode string, logger *slog.Logger) sensitivity.Progress {
	switch mode {
	case "bar":
		return sensitivity.WriterProgress(cmd.ErrOrStderr())
	case "log":
		return sensitivity.LogProgress(logger, 10)
	default:
		return nil
	}
}
