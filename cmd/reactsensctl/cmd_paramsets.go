package main

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"reactsens/internal/config"
	"reactsens/pkg/reactsens"
)

func newParamSetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paramsets",
		Short: "Manage accepted parameter sets",
	}
	cmd.AddCommand(newParamSetsListCmd(), newParamSetsImportCmd(), newParamSetsSynthCmd())
	return cmd
}

func newParamSetsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the accepted parameter set indices of a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelName, _ := cmd.Flags().GetString("model")
			source, _ := cmd.Flags().GetString("source")
			return withClient(cmd, func(client *reactsens.Client, _ *config.Config, _ *slog.Logger) error {
				indices, err := client.ListParameterSets(cmd.Context(), reactsens.ParameterSetsRequest{Model: modelName, Source: source})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"model": modelName, "source": source, "indices": indices})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s accepted parameter sets (%s): %v\n",
					humanize.Comma(int64(len(indices))), source, indices)
				return nil
			})
		},
	}
	cmd.Flags().String("model", "", "model name")
	cmd.Flags().String("source", reactsens.SourceDir, "parameter set source: dir|store")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func newParamSetsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy best-fit directories of a model into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelName, _ := cmd.Flags().GetString("model")
			return withClient(cmd, func(client *reactsens.Client, _ *config.Config, _ *slog.Logger) error {
				n, err := client.ImportParameterSets(cmd.Context(), modelName)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"model": modelName, "imported": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s parameter sets for %s\n", humanize.Comma(int64(n)), modelName)
				return nil
			})
		},
	}
	cmd.Flags().String("model", "", "model name")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func newParamSetsSynthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate best-fit files by scattering the model defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelName, _ := cmd.Flags().GetString("model")
			count, _ := cmd.Flags().GetInt("count")
			spread, _ := cmd.Flags().GetFloat64("spread")
			seed, _ := cmd.Flags().GetInt64("seed")
			start, _ := cmd.Flags().GetInt("start")
			return withClient(cmd, func(client *reactsens.Client, _ *config.Config, _ *slog.Logger) error {
				written, err := client.SynthesizeParameterSets(cmd.Context(), reactsens.SynthRequest{
					Model:  modelName,
					Count:  count,
					Spread: spread,
					Seed:   seed,
					Start:  start,
				})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"model": modelName, "written": written})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s parameter sets for %s: %v\n",
					humanize.Comma(int64(len(written))), modelName, written)
				return nil
			})
		},
	}
	cmd.Flags().String("model", "", "model name")
	cmd.Flags().Int("count", 10, "number of parameter sets")
	cmd.Flags().Float64("spread", 0.1, "standard deviation of the log-scale perturbation")
	cmd.Flags().Int64("seed", 1, "random seed")
	cmd.Flags().Int("start", 1, "index of the first parameter set")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
