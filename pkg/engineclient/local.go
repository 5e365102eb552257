package engineclient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/endure/endure-sdk-go/pkg/execution"
)

// DefaultSignalBuffer is the capacity of the Local signal channel.
const DefaultSignalBuffer = 64

// Entry is one report received by the Local engine.
type Entry struct {
	Status   string
	Identity execution.Identity
	Attempt  int
	Final    bool
	Output   json.RawMessage
	Error    string
	At       time.Time
}

// Local is an in-process engine. It journals every report, remembers
// completed outputs so restarted actions are answered as already reported,
// and rejects reports for terminated executions.
type Local struct {
	mu         sync.Mutex
	journal    map[string][]Entry
	completed  map[string]json.RawMessage
	terminated map[string]string
	signals    chan execution.Signal
	closed     bool
	logger     zerolog.Logger
}

var _ execution.EngineClient = (*Local)(nil)

// NewLocal creates an in-process engine.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{
		journal:    make(map[string][]Entry),
		completed:  make(map[string]json.RawMessage),
		terminated: make(map[string]string),
		signals:    make(chan execution.Signal, DefaultSignalBuffer),
		logger:     logger,
	}
}

// ReportStarted implements execution.EngineClient.
func (l *Local) ReportStarted(_ context.Context, r execution.Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkRunning(r.Identity); err != nil {
		return err
	}
	if out, ok := l.completed[r.Identity.Key()]; ok {
		return &execution.AlreadyReportedError{Output: out}
	}
	l.append(Entry{Status: StatusStarted, Identity: r.Identity, At: r.Timestamp})
	return nil
}

// ReportAttemptFailed implements execution.EngineClient.
func (l *Local) ReportAttemptFailed(_ context.Context, r execution.Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkRunning(r.Identity); err != nil {
		return err
	}
	l.append(Entry{Status: StatusFailed, Identity: r.Identity, Attempt: r.Attempt, Error: errString(r.Err), At: r.Timestamp})
	return nil
}

// ReportCompleted implements execution.EngineClient.
func (l *Local) ReportCompleted(_ context.Context, r execution.Report) error {
	output, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Errorf("failed to encode output of %s: %w", r.Identity.Key(), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkRunning(r.Identity); err != nil {
		return err
	}
	if _, ok := l.completed[r.Identity.Key()]; !ok {
		l.completed[r.Identity.Key()] = output
		l.append(Entry{Status: StatusCompleted, Identity: r.Identity, Attempt: r.Attempt, Output: output, Final: true, At: r.Timestamp})
	}
	return nil
}

// ReportFailed implements execution.EngineClient.
func (l *Local) ReportFailed(_ context.Context, r execution.Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkRunning(r.Identity); err != nil {
		return err
	}
	l.append(Entry{Status: StatusFailed, Identity: r.Identity, Attempt: r.Attempt, Error: errString(r.Err), Final: true, At: r.Timestamp})
	return nil
}

// Terminate rejects further reports for executionID and emits an abort
// signal.
func (l *Local) Terminate(executionID, reason string) {
	l.mu.Lock()
	l.terminated[executionID] = reason
	l.mu.Unlock()

	l.emit(execution.Signal{Kind: execution.SignalAbort, WorkflowInstanceID: executionID, Reason: reason})
}

// Redeliver emits a duplicate delivery of identity.
func (l *Local) Redeliver(identity execution.Identity) {
	l.emit(execution.Signal{Kind: execution.SignalRedeliver, Identity: identity})
}

// Signals returns the stream of directives for a Coordinator to Listen on.
func (l *Local) Signals() <-chan execution.Signal {
	return l.signals
}

// Journal returns the reports received for executionID in arrival order.
func (l *Local) Journal(executionID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.journal[executionID]))
	copy(out, l.journal[executionID])
	return out
}

// Executions returns the IDs of every execution with reports, sorted.
func (l *Local) Executions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.journal))
	for id := range l.journal {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes the signal stream.
func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.signals)
	}
}

func (l *Local) checkRunning(id execution.Identity) error {
	if reason, ok := l.terminated[id.WorkflowInstanceID]; ok {
		l.logger.Debug().Str("execution_id", id.WorkflowInstanceID).Str("reason", reason).Msg("Rejecting report for terminated execution")
		return execution.ErrAborted
	}
	return nil
}

func (l *Local) append(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	l.journal[e.Identity.WorkflowInstanceID] = append(l.journal[e.Identity.WorkflowInstanceID], e)
}

// emit sends sig without blocking; signals are dropped when the buffer is
// full or the stream is closed.
func (l *Local) emit(sig execution.Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.signals <- sig:
	default:
		l.logger.Warn().Str("signal", string(sig.Kind)).Msg("Signal buffer full, dropping signal")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
