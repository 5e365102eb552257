package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "endure",
		Short: "Endure - durable workflow action runner",
		Long: `Endure runs workflow actions against a durable execution engine.

Every action runs under a retry policy (exponential, linear or constant
backoff), reports each state transition to the engine and is executed at
most once per workflow execution: duplicate invocations are answered from
the completion cache.

Without an engine URL (DURABLE_ENGINE_BASE_URL) an in-process engine is used.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newCatalogCommand())
	rootCmd.AddCommand(newDelaysCommand())
	rootCmd.AddCommand(newStoreCommand())

	return rootCmd
}
