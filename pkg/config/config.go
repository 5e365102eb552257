package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/endure/endure-sdk-go/pkg/backoff"
	"github.com/endure/endure-sdk-go/pkg/execution"
	"github.com/endure/endure-sdk-go/pkg/telemetry"
)

var validate = validator.New()

// Store drivers.
const (
	StoreNone   = "none"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the complete worker configuration.
type Config struct {
	Engine    EngineConfig     `yaml:"engine"`
	Execution ExecutionConfig  `yaml:"execution"`
	Store     StoreConfig      `yaml:"store"`
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Actions overrides declared retry policies by action name.
	Actions map[string]backoff.Policy `yaml:"actions" validate:"dive"`
}

// EngineConfig locates the durable execution engine.
type EngineConfig struct {
	// BaseURL is the engine API root. Empty selects the in-process engine.
	BaseURL string        `yaml:"base_url" env:"DURABLE_ENGINE_BASE_URL" validate:"omitempty,http_url"`
	Timeout time.Duration `yaml:"timeout" env:"ENDURE_ENGINE_TIMEOUT" validate:"gte=0"`
}

// ExecutionConfig tunes the coordinator.
type ExecutionConfig struct {
	ReportInterval time.Duration `yaml:"report_interval" env:"ENDURE_REPORT_INTERVAL" validate:"gt=0"`
	ReportMaxTries uint          `yaml:"report_max_tries" env:"ENDURE_REPORT_MAX_TRIES" validate:"gte=1"`
	CacheCapacity  int           `yaml:"cache_capacity" env:"ENDURE_CACHE_CAPACITY" validate:"gte=0"`
	FanOutLimit    int           `yaml:"fan_out_limit" env:"ENDURE_FAN_OUT_LIMIT" validate:"gte=0"`
}

// StoreConfig selects the durable completion store.
type StoreConfig struct {
	Driver    string `yaml:"driver" env:"ENDURE_STORE_DRIVER" validate:"oneof=none sqlite redis"`
	Path      string `yaml:"path" env:"ENDURE_STORE_PATH" validate:"required_if=Driver sqlite"`
	RedisAddr string `yaml:"redis_addr" env:"ENDURE_REDIS_ADDR" validate:"required_if=Driver redis"`

	// Retention is how long acknowledged completions are kept before purge.
	Retention time.Duration `yaml:"retention" env:"ENDURE_STORE_RETENTION" validate:"gte=0"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Timeout: 10 * time.Second,
		},
		Execution: ExecutionConfig{
			ReportInterval: execution.DefaultReportInterval,
			ReportMaxTries: execution.DefaultReportMaxTries,
			CacheCapacity:  execution.DefaultAcknowledgedCapacity,
		},
		Store: StoreConfig{
			Driver:    StoreNone,
			Retention: 7 * 24 * time.Hour,
		},
		Telemetry: *telemetry.DefaultConfig(),
		Actions:   map[string]backoff.Policy{},
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	for name, p := range c.Actions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid config: action %s: %w", name, err)
		}
	}
	return nil
}

// CoordinatorOptions returns the coordinator tuning described by the
// execution section.
func (c *Config) CoordinatorOptions() []execution.Option {
	return []execution.Option{
		execution.WithReporting(c.Execution.ReportInterval, c.Execution.ReportMaxTries),
		execution.WithCacheCapacity(c.Execution.CacheCapacity),
		execution.WithFanOutLimit(c.Execution.FanOutLimit),
	}
}
