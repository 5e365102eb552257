package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/endure/endure-sdk-go/pkg/backoff"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "endure.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Execution.ReportMaxTries != 3 {
		t.Errorf("ReportMaxTries = %d, want 3", cfg.Execution.ReportMaxTries)
	}
	if cfg.Execution.ReportInterval != 200*time.Millisecond {
		t.Errorf("ReportInterval = %v, want 200ms", cfg.Execution.ReportInterval)
	}
	if cfg.Store.Driver != StoreNone {
		t.Errorf("Store.Driver = %q, want none", cfg.Store.Driver)
	}
	if len(cfg.CoordinatorOptions()) != 3 {
		t.Errorf("CoordinatorOptions() returned %d options, want 3", len(cfg.CoordinatorOptions()))
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
engine:
  base_url: http://engine.local:8000
execution:
  report_max_tries: 5
  fan_out_limit: 4
store:
  driver: sqlite
  path: /tmp/endure.db
actions:
  process_refund:
    mechanism: linear
    base_delay: 2s
    max_retries: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.BaseURL != "http://engine.local:8000" {
		t.Errorf("BaseURL = %q", cfg.Engine.BaseURL)
	}
	if cfg.Execution.ReportMaxTries != 5 || cfg.Execution.FanOutLimit != 4 {
		t.Errorf("Execution = %+v", cfg.Execution)
	}
	// Unset fields keep their defaults.
	if cfg.Execution.ReportInterval != 200*time.Millisecond {
		t.Errorf("ReportInterval = %v, want default 200ms", cfg.Execution.ReportInterval)
	}
	want := backoff.Must(backoff.Linear, 2*time.Second, 5)
	if got := cfg.Actions["process_refund"]; got != want {
		t.Errorf("Actions[process_refund] = %+v, want %+v", got, want)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
engine:
  base_url: http://from-file:8000
`)
	t.Setenv("DURABLE_ENGINE_BASE_URL", "https://from-env:9000")
	t.Setenv("ENDURE_REPORT_MAX_TRIES", "7")
	t.Setenv("ENDURE_REPORT_INTERVAL", "50ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.BaseURL != "https://from-env:9000" {
		t.Errorf("BaseURL = %q, want env value", cfg.Engine.BaseURL)
	}
	if cfg.Execution.ReportMaxTries != 7 {
		t.Errorf("ReportMaxTries = %d, want 7", cfg.Execution.ReportMaxTries)
	}
	if cfg.Execution.ReportInterval != 50*time.Millisecond {
		t.Errorf("ReportInterval = %v, want 50ms", cfg.Execution.ReportInterval)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Telemetry.Logging.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown field", content: "engine:\n  base_uri: http://x\n"},
		{name: "bad url", content: "engine:\n  base_url: ftp://x\n"},
		{name: "zero report tries", content: "execution:\n  report_max_tries: 0\n"},
		{name: "unknown store", content: "store:\n  driver: mysql\n"},
		{name: "sqlite without path", content: "store:\n  driver: sqlite\n"},
		{name: "redis without addr", content: "store:\n  driver: redis\n"},
		{name: "bad mechanism", content: "actions:\n  a:\n    mechanism: fibonacci\n    base_delay: 1s\n"},
		{name: "negative retries", content: "actions:\n  a:\n    mechanism: constant\n    base_delay: 1s\n    max_retries: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			if _, err := Load(path); err == nil {
				t.Errorf("Load() succeeded, want error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file succeeded")
	}
}

func TestWatch_ReloadsOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "actions: {}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	w, err := watch(ctx, path, 10*time.Millisecond, zerolog.Nop(), func(cfg *Config) error {
		reloaded <- cfg
		return nil
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	writeConfig(t, dir, `
actions:
  validate_payment:
    mechanism: constant
    base_delay: 1s
    max_retries: 1
`)

	select {
	case cfg := <-reloaded:
		if got := cfg.Actions["validate_payment"].MaxRetries; got != 1 {
			t.Errorf("reloaded MaxRetries = %d, want 1", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
