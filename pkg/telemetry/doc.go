// Package telemetry provides observability for Endure workers.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics, and wires all three into an
// execution.Coordinator.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "payments-worker"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	coord, err := execution.NewCoordinator(client, tel.CoordinatorOptions()...)
//
// # Metrics
//
// Series are labelled by declared action name, never by the resolved
// fan-out name:
//
//   - endure_action_attempts_total{action,result}
//   - endure_action_attempt_duration_seconds{action}
//   - endure_action_backoff_delay_seconds{action,mechanism}
//   - endure_action_outcomes_total{action,status}
//   - endure_action_execution_duration_seconds{action,status}
//   - endure_action_duplicates_total{action}
//   - endure_engine_report_failures_total{operation}
//   - endure_completion_pinned_records
//
// # Tracing
//
// The coordinator emits one "execution.execute" span per action execution
// with a child span per attempt. Exporters: otlp (gRPC), stdout, none.
package telemetry
