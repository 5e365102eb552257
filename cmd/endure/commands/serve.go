package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/endure/endure-sdk-go/pkg/config"
	"github.com/endure/endure-sdk-go/pkg/service"
)

func newServeCommand() *cobra.Command {
	var (
		addr      string
		timeScale float64
		seed      uint64
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo workflows to the engine",
		Long: `Serve the demo workflows over HTTP so the engine can start and redeliver
executions.

  POST /execute/{service}/{workflow}   {"execution_id": "...", "input": {...}}
  GET  /discover

The workflows are hosted as the orders, users and payments services.`,
		Example: `  endure serve --addr :8000 --time-scale 0.1

  curl -X POST localhost:8000/execute/orders/get_order_status \
    -d '{"execution_id":"e-1","input":{"order_id":"o-1"}}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
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

			handler, err := w.serviceHandler()
			if err != nil {
				return err
			}

			if err := w.tel.StartMetricsServer(ctx); err != nil {
				return err
			}
			if w.local != nil {
				go func() { _ = w.coord.Listen(ctx, w.local.Signals()) }()
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

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			return serve(ctx, ln, handler)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "address to serve workflows on")
	cmd.Flags().Float64Var(&timeScale, "time-scale", 1, "multiplier for simulated action durations")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "seed for simulated failures")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload action policy overrides when the config file changes")

	return cmd
}

// serviceHandler hosts the demo workflows. Executions are marked running on
// the engine when one is configured.
func (w *worker) serviceHandler() (*service.Handler, error) {
	registry := service.NewRegistry()
	if err := w.workflows.Host(registry); err != nil {
		return nil, err
	}
	opts := []service.HandlerOption{
		service.WithLogger(w.tel.Logger.NewComponentLogger("service")),
		service.WithTracer(w.tel.Tracer.Tracer()),
	}
	if w.http != nil {
		opts = append(opts, service.WithMarker(w.http))
	}
	return service.NewHandler(registry, opts...), nil
}

// serve handles requests on ln until ctx is cancelled, then lets in-flight
// executions finish.
func serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("address", ln.Addr().String()).Msg("Serving workflows")
		errc <- server.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
