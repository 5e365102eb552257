package commands

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/endure/endure-sdk-go/pkg/config"
	"github.com/endure/endure-sdk-go/pkg/demo"
)

func newRunCommand() *cobra.Command {
	var (
		input       string
		inputFile   string
		executionID string
		timeScale   float64
		seed        uint64
		watch       bool
		metrics     bool
	)

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a demo workflow",
		Long: fmt.Sprintf(`Run one of the demo workflows with simulated catalog actions.

Available workflows: %v

Actions sleep for their nominal duration multiplied by --time-scale and fail
with their documented probability. Re-running with the same --execution-id
against the same engine or store replays recorded results instead of
executing actions again.`, demo.Names()),
		Example: `  # Run the order workflow quickly
  endure run process_order --time-scale 0.01 \
    --input '{"order_id":"o-1","customer_email":"a@b.co","items":[{"id":"sku","quantity":1,"price":9.5}],"total_amount":9.5}'

  # Resume an execution against a durable store
  ENDURE_STORE_DRIVER=sqlite ENDURE_STORE_PATH=endure.db \
    endure run process_refund --execution-id 7f1c... --input-file refund.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			workflow := args[0]

			raw := []byte(input)
			if inputFile != "" {
				data, err := os.ReadFile(inputFile)
				if err != nil {
					return fmt.Errorf("failed to read input: %w", err)
				}
				raw = data
			}
			if executionID == "" {
				executionID = uuid.NewString()
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !metrics {
				cfg.Telemetry.Metrics.Enabled = false
			}

			w, err := newWorker(ctx, cfg, workerOptions{timeScale: timeScale, seed: seed})
			if err != nil {
				return err
			}
			defer func() {
				if err := w.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to release worker resources")
				}
			}()

			if err := w.tel.StartMetricsServer(ctx); err != nil {
				return err
			}
			if w.local != nil {
				go func() { _ = w.coord.Listen(ctx, w.local.Signals()) }()
			}
			if w.http != nil {
				if err := w.http.MarkRunning(ctx, executionID); err != nil {
					return fmt.Errorf("failed to mark execution running: %w", err)
				}
			}
			if watch && configPath != "" {
				watcher, err := config.Watch(ctx, configPath, w.logger, func(next *config.Config) error {
					return w.registry.SetOverrides(next.Actions)
				})
				if err != nil {
					return err
				}
				defer watcher.Close()
			}

			log.Info().
				Str("workflow", workflow).
				Str("execution_id", executionID).
				Msg("Running workflow")

			result, err := w.workflows.Run(ctx, workflow, executionID, raw)
			if err != nil {
				return fmt.Errorf("workflow %s (%s) failed: %w", workflow, executionID, err)
			}

			if pinned := w.coord.Pinned(); pinned > 0 {
				log.Warn().Int("pinned", pinned).Msg("Some outcomes were not acknowledged by the engine")
			}
			return printJSON(cmd, map[string]any{
				"execution_id": executionID,
				"workflow":     workflow,
				"result":       result,
			})
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "workflow input as JSON")
	cmd.Flags().StringVarP(&inputFile, "input-file", "f", "", "read workflow input from file")
	cmd.Flags().StringVar(&executionID, "execution-id", "", "workflow execution id (default: random UUID)")
	cmd.Flags().Float64Var(&timeScale, "time-scale", 1, "multiplier for simulated action durations")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "seed for simulated failures")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload action policy overrides when the config file changes")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve Prometheus metrics while running")

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
