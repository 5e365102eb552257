package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/endure/endure-sdk-go/pkg/execution"
)

var _ execution.MetricsRecorder = (*Metrics)(nil)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m
}

func TestMetrics_Attempts(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordAttempt("validate_payment", false, 10*time.Millisecond)
	m.RecordAttempt("validate_payment", false, 10*time.Millisecond)
	m.RecordAttempt("validate_payment", true, 5*time.Millisecond)

	if got := testutil.ToFloat64(m.attempts.WithLabelValues("validate_payment", "failure")); got != 2 {
		t.Errorf("failed attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("validate_payment", "success")); got != 1 {
		t.Errorf("successful attempts = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.attemptDuration); got != 1 {
		t.Errorf("attempt duration series = %d, want 1", got)
	}
}

func TestMetrics_OutcomesAndReporting(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordOutcome("process_refund", "exhausted", time.Second)
	m.RecordBackoff("process_refund", "exponential", 2*time.Second)
	m.RecordReportFailure("completed")
	m.RecordDuplicate("process_refund")
	m.RecordDuplicate("process_refund")
	m.SetPinnedRecords(3)

	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("process_refund", "exhausted")); got != 1 {
		t.Errorf("outcomes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.reportFailures.WithLabelValues("completed")); got != 1 {
		t.Errorf("report failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.duplicates.WithLabelValues("process_refund")); got != 2 {
		t.Errorf("duplicates = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pinnedRecords); got != 3 {
		t.Errorf("pinned records = %v, want 3", got)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// Must not panic without registered collectors.
	m.RecordAttempt("a", true, time.Millisecond)
	m.RecordOutcome("a", "succeeded", time.Millisecond)
	m.SetPinnedRecords(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("disabled handler status = %d, want 404", rec.Code)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordOutcome("create_user", "succeeded", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("handler status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `endure_action_outcomes_total{action="create_user",status="succeeded"} 1`) {
		t.Errorf("metrics output missing outcome series:\n%s", rec.Body.String())
	}
}
