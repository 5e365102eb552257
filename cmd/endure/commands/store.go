package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/endure/endure-sdk-go/pkg/config"
)

func newStoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Maintain the durable completion store",
	}
	cmd.AddCommand(newStorePurgeCommand())
	return cmd
}

func newStorePurgeCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete acknowledged completions",
		Long: `Delete completions the engine acknowledged before the retention window.

Unacknowledged completions are never purged: they are still needed to answer
duplicate invocations and to re-send their terminal report.`,
		Example: `  ENDURE_STORE_DRIVER=sqlite ENDURE_STORE_PATH=endure.db endure store purge --older-than 24h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver == config.StoreNone {
				return fmt.Errorf("no completion store configured")
			}
			if olderThan == 0 {
				olderThan = cfg.Store.Retention
			}

			store, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			cutoff := time.Now().Add(-olderThan)
			purged, err := store.PurgeAcknowledged(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("failed to purge completions: %w", err)
			}

			log.Info().
				Str("driver", cfg.Store.Driver).
				Time("cutoff", cutoff).
				Int64("purged", purged).
				Msg("Purged acknowledged completions")
			if jsonOutput {
				return printJSON(cmd, map[string]any{"purged": purged, "cutoff": cutoff})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d completions acknowledged before %s\n", purged, cutoff.Format(time.RFC3339))
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention window (default: store.retention)")
	return cmd
}
