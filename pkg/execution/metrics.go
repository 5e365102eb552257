package execution

import "time"

// MetricsRecorder receives execution measurements. Labels use the declared
// action name, never the resolved fan-out name, to keep cardinality bounded.
type MetricsRecorder interface {
	RecordAttempt(action string, succeeded bool, duration time.Duration)
	RecordBackoff(action, mechanism string, delay time.Duration)
	RecordOutcome(action, status string, duration time.Duration)
	RecordReportFailure(operation string)
	RecordDuplicate(action string)
	SetPinnedRecords(count int)
}

type nopMetrics struct{}

func (nopMetrics) RecordAttempt(string, bool, time.Duration) {}
func (nopMetrics) RecordBackoff(string, string, time.Duration) {}
func (nopMetrics) RecordOutcome(string, string, time.Duration) {}
func (nopMetrics) RecordReportFailure(string) {}
func (nopMetrics) RecordDuplicate(string) {}
func (nopMetrics) SetPinnedRecords(int) {}
