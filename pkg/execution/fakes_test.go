package execution

import (
	"context"
	"sync"
	"time"
)

type sentReport struct {
	op  string
	rep Report
}

// fakeEngine records every report and answers with the configured hooks.
type fakeEngine struct {
	mu      sync.Mutex
	reports []sentReport

	onStarted       func(Report) error
	onAttemptFailed func(Report) error
	onCompleted     func(Report) error
	onFailed        func(Report) error
}

func (f *fakeEngine) record(op string, r Report, hook func(Report) error) error {
	f.mu.Lock()
	f.reports = append(f.reports, sentReport{op: op, rep: r})
	f.mu.Unlock()
	if hook != nil {
		return hook(r)
	}
	return nil
}

func (f *fakeEngine) ReportStarted(_ context.Context, r Report) error {
	return f.record(opStarted, r, f.onStarted)
}

func (f *fakeEngine) ReportAttemptFailed(_ context.Context, r Report) error {
	return f.record(opAttemptFailed, r, f.onAttemptFailed)
}

func (f *fakeEngine) ReportCompleted(_ context.Context, r Report) error {
	return f.record(opCompleted, r, f.onCompleted)
}

func (f *fakeEngine) ReportFailed(_ context.Context, r Report) error {
	return f.record(opFailed, r, f.onFailed)
}

func (f *fakeEngine) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.reports))
	for i, r := range f.reports {
		out[i] = r.op
	}
	return out
}

func (f *fakeEngine) count(op string) int {
	n := 0
	for _, o := range f.ops() {
		if o == op {
			n++
		}
	}
	return n
}

func (f *fakeEngine) sent(op string) []Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Report
	for _, r := range f.reports {
		if r.op == op {
			out = append(out, r.rep)
		}
	}
	return out
}

// fakeSleep records requested delays and returns immediately unless the
// context is already done.
type fakeSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

func (s *fakeSleep) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// fakeMetrics counts recorder calls.
type fakeMetrics struct {
	mu         sync.Mutex
	attempts   int
	backoffs   []time.Duration
	outcomes   map[string]int
	reportErrs int
	duplicates int
	pinned     int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{outcomes: make(map[string]int)}
}

func (m *fakeMetrics) RecordAttempt(string, bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
}

func (m *fakeMetrics) RecordBackoff(_, _ string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoffs = append(m.backoffs, d)
}

func (m *fakeMetrics) RecordOutcome(_, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[status]++
}

func (m *fakeMetrics) RecordReportFailure(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportErrs++
}

func (m *fakeMetrics) RecordDuplicate(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates++
}

func (m *fakeMetrics) SetPinnedRecords(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = n
}
