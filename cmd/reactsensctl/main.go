package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reactsensctl",
		Short: "Local reaction sensitivity analysis for ODE signaling models",
		Long: `reactsensctl perturbs every reaction rate of a signaling model by 1% across
all accepted parameter sets and reports the resulting sensitivity coefficients
of amplitude, duration and integral of each observable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("root", "", "directory holding one subdirectory per model")
	rootCmd.PersistentFlags().String("store", "", "store backend: memory|sqlite")
	rootCmd.PersistentFlags().String("db-path", "", "sqlite database path")
	rootCmd.PersistentFlags().String("cache-backend", "", "coefficient cache backend: file|store")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace|debug|info|warn|error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: tint|text|json")
	rootCmd.PersistentFlags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newAnalyzeCmd(),
		newModelsCmd(),
		newParamSetsCmd(),
		newCacheCmd(),
		newRunsCmd(),
	)
	return rootCmd
}
