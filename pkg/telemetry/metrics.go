package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for action execution. It satisfies
// execution.MetricsRecorder.
type Metrics struct {
	config MetricsConfig

	// Attempt metrics
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	backoffDelay    *prometheus.HistogramVec

	// Outcome metrics
	outcomes          *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	duplicates        *prometheus.CounterVec

	// Engine reporting metrics
	reportFailures *prometheus.CounterVec
	pinnedRecords  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_attempts_total",
				Help:      "Total number of action attempts by result",
			},
			[]string{"action", "result"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_attempt_duration_seconds",
				Help:      "Duration of single action attempts",
				Buckets:   buckets,
			},
			[]string{"action"},
		),
		backoffDelay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_backoff_delay_seconds",
				Help:      "Scheduled delay before the next attempt",
				Buckets:   buckets,
			},
			[]string{"action", "mechanism"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_outcomes_total",
				Help:      "Total number of action outcomes by status",
			},
			[]string{"action", "status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_execution_duration_seconds",
				Help:      "Duration of action executions including backoff waits",
				Buckets:   buckets,
			},
			[]string{"action", "status"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_duplicates_total",
				Help:      "Total number of duplicate invocations answered from the completion cache",
			},
			[]string{"action"},
		),
		reportFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_report_failures_total",
				Help:      "Total number of engine reports that failed after all retries",
			},
			[]string{"operation"},
		),
		pinnedRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "completion_pinned_records",
				Help:      "Number of terminal records awaiting engine acknowledgment",
			},
		),
	}

	registry.MustRegister(
		m.attempts,
		m.attemptDuration,
		m.backoffDelay,
		m.outcomes,
		m.executionDuration,
		m.duplicates,
		m.reportFailures,
		m.pinnedRecords,
	)

	return m, nil
}

// RecordAttempt records one invocation of an action function.
func (m *Metrics) RecordAttempt(action string, succeeded bool, duration time.Duration) {
	if !m.config.Enabled {
		return
	}
	result := "failure"
	if succeeded {
		result = "success"
	}
	m.attempts.WithLabelValues(action, result).Inc()
	m.attemptDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordBackoff records a delay scheduled between two attempts.
func (m *Metrics) RecordBackoff(action, mechanism string, delay time.Duration) {
	if !m.config.Enabled {
		return
	}
	m.backoffDelay.WithLabelValues(action, mechanism).Observe(delay.Seconds())
}

// RecordOutcome records a terminal or cancelled execution.
func (m *Metrics) RecordOutcome(action, status string, duration time.Duration) {
	if !m.config.Enabled {
		return
	}
	m.outcomes.WithLabelValues(action, status).Inc()
	m.executionDuration.WithLabelValues(action, status).Observe(duration.Seconds())
}

// RecordReportFailure records an engine report that exhausted its retries.
func (m *Metrics) RecordReportFailure(operation string) {
	if !m.config.Enabled {
		return
	}
	m.reportFailures.WithLabelValues(operation).Inc()
}

// RecordDuplicate records an invocation answered without running the action.
func (m *Metrics) RecordDuplicate(action string) {
	if !m.config.Enabled {
		return
	}
	m.duplicates.WithLabelValues(action).Inc()
}

// SetPinnedRecords sets the number of unacknowledged terminal records.
func (m *Metrics) SetPinnedRecords(count int) {
	if !m.config.Enabled {
		return
	}
	m.pinnedRecords.Set(float64(count))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics until ctx is
// cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("address", server.Addr).Str("path", path).Msg("Metrics server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}()

	return nil
}
