package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/endure/endure-sdk-go/pkg/catalog"
	"github.com/endure/endure-sdk-go/pkg/config"
	"github.com/endure/endure-sdk-go/pkg/demo"
	"github.com/endure/endure-sdk-go/pkg/engineclient"
	"github.com/endure/endure-sdk-go/pkg/execution"
	"github.com/endure/endure-sdk-go/pkg/stores"
	"github.com/endure/endure-sdk-go/pkg/telemetry"
)

// completionStore is a durable store the CLI can also maintain.
type completionStore interface {
	execution.CompletionStore
	PurgeAcknowledged(ctx context.Context, cutoff time.Time) (int64, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// worker wires configuration, telemetry, engine, store and coordinator.
type worker struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	logger    zerolog.Logger
	local     *engineclient.Local
	http      *engineclient.HTTPClient
	store     completionStore
	registry  *execution.Registry
	coord     *execution.Coordinator
	workflows *demo.Workflows
}

type workerOptions struct {
	timeScale float64
	seed      uint64
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func newWorker(ctx context.Context, cfg *config.Config, opts workerOptions) (*worker, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	w := &worker{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("worker").Zerolog(),
	}

	var engine execution.EngineClient
	if cfg.Engine.BaseURL != "" {
		w.http, err = engineclient.NewHTTPClient(cfg.Engine.BaseURL,
			engineclient.WithHTTPClient(&http.Client{Timeout: cfg.Engine.Timeout}),
			engineclient.WithLogger(tel.Logger.NewComponentLogger("engine").Zerolog()),
		)
		if err != nil {
			return nil, errors.Join(err, w.Close())
		}
		engine = w.http
	} else {
		w.local = engineclient.NewLocal(tel.Logger.NewComponentLogger("engine").Zerolog())
		engine = w.local
	}

	coordOpts := append(cfg.CoordinatorOptions(), tel.CoordinatorOptions()...)
	w.store, err = openStore(ctx, cfg.Store)
	if err != nil {
		return nil, errors.Join(err, w.Close())
	}
	if w.store != nil {
		coordOpts = append(coordOpts, execution.WithStore(w.store))
	}

	w.coord, err = execution.NewCoordinator(engine, coordOpts...)
	if err != nil {
		return nil, errors.Join(err, w.Close())
	}

	w.registry = execution.NewRegistry()
	if err := catalog.NewSimulator(opts.timeScale, opts.seed).Register(w.registry); err != nil {
		return nil, errors.Join(err, w.Close())
	}
	if err := w.registry.SetOverrides(cfg.Actions); err != nil {
		return nil, errors.Join(err, w.Close())
	}

	w.workflows = demo.New(w.coord, w.registry,
		demo.WithLogger(tel.Logger.NewComponentLogger("workflow").Zerolog()),
		demo.WithTracer(tel.Tracer.Tracer()),
		demo.WithPauseScale(opts.timeScale),
	)
	return w, nil
}

// openStore opens the configured completion store, or returns nil when
// none is configured.
func openStore(ctx context.Context, cfg config.StoreConfig) (completionStore, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		s, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Path})
		if err != nil {
			return nil, err
		}
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			return nil, errors.Join(err, s.Close())
		}
		return s, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		s := stores.NewRedisStore(client)
		if err := s.HealthCheck(ctx); err != nil {
			return nil, errors.Join(err, client.Close())
		}
		return &redisStore{RedisStore: s, client: client}, nil
	default:
		return nil, nil
	}
}

// redisStore closes the client it owns.
type redisStore struct {
	*stores.RedisStore
	client *redis.Client
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

// Close releases every resource of the worker.
func (w *worker) Close() error {
	var errs []error
	if w.local != nil {
		w.local.Close()
	}
	if w.store != nil {
		errs = append(errs, w.store.Close())
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs = append(errs, w.tel.Shutdown(shutdownCtx))
	return errors.Join(errs...)
}
