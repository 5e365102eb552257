package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/endure/endure-sdk-go/pkg/backoff"
)

// EngineClient is the durable execution engine as seen by the coordinator.
// Every method reports one state transition of an action identity; a nil
// error means the engine received it.
type EngineClient interface {
	ReportStarted(ctx context.Context, r Report) error
	ReportAttemptFailed(ctx context.Context, r Report) error
	ReportCompleted(ctx context.Context, r Report) error
	ReportFailed(ctx context.Context, r Report) error
}

// Report is the payload of one state transition.
type Report struct {
	// Identity is the action identity.
	Identity Identity

	// Input is the action input, set on started reports.
	Input any

	// Policy is the declared retry policy, set on started reports.
	Policy backoff.Policy

	// Attempt is the attempt number, set on attempt-failed and terminal reports.
	Attempt int

	// Output is the action result, set on completed reports.
	Output any

	// Err is the attempt error or the representative terminal error.
	Err error

	// Timestamp is when the transition happened.
	Timestamp time.Time
}

// ErrAborted is returned by an EngineClient when the engine paused or
// terminated the workflow execution. The coordinator treats it as a
// cancellation of every action of that workflow instance and never
// retries the report.
var ErrAborted = errors.New("engine: workflow execution paused or terminated")

// AlreadyReportedError is returned by ReportStarted when the engine already
// holds a completed result for the identity, e.g. after the process was
// restarted. The coordinator adopts Output instead of running the action.
type AlreadyReportedError struct {
	Output json.RawMessage
}

// Error implements the error interface.
func (e *AlreadyReportedError) Error() string {
	return "engine: action already reported as completed"
}

// SignalKind is the kind of an asynchronous engine directive.
type SignalKind string

const (
	// SignalAbort cancels every in-flight action of a workflow instance.
	SignalAbort SignalKind = "abort"

	// SignalRedeliver is a duplicate delivery of an action invocation.
	SignalRedeliver SignalKind = "redeliver"

	// SignalAcknowledge confirms the engine stored a terminal outcome.
	SignalAcknowledge SignalKind = "ack"
)

// Signal is an asynchronous directive from the engine.
type Signal struct {
	Kind SignalKind

	// WorkflowInstanceID scopes abort signals.
	WorkflowInstanceID string

	// Identity is the target of redeliver and ack signals.
	Identity Identity

	// Reason is an optional human-readable explanation.
	Reason string
}

// Validate checks the signal is addressable.
func (s Signal) Validate() error {
	switch s.Kind {
	case SignalAbort:
		if s.WorkflowInstanceID == "" {
			return fmt.Errorf("%w: abort signal without workflow instance id", ErrInvalidRequest)
		}
	case SignalRedeliver, SignalAcknowledge:
		if err := s.Identity.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown signal kind %q", ErrInvalidRequest, s.Kind)
	}
	return nil
}
