package execution

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error produced while executing an action.
type ErrorKind string

const (
	// KindActionFailure means the action body returned an error or panicked.
	// Retried per the action's policy.
	KindActionFailure ErrorKind = "action_failure"

	// KindRetryExhausted is terminal: every attempt the policy allows failed.
	// It wraps the last ActionFailure.
	KindRetryExhausted ErrorKind = "retry_exhausted"

	// KindReportingFailure means the engine could not be told about a state
	// transition after the bounded reporting retries.
	KindReportingFailure ErrorKind = "reporting_failure"
)

var (
	// ErrCancelled is returned by Outcome.Result for a cancelled execution.
	// Cancellation is a terminal outcome, not an error class; this sentinel
	// only exists to express it through a Go error return.
	ErrCancelled = errors.New("execution: action cancelled")

	// ErrInvalidRequest is wrapped by every request validation failure.
	ErrInvalidRequest = errors.New("execution: invalid request")

	// ErrUnknownAction is returned by the registry for undeclared names.
	ErrUnknownAction = errors.New("execution: unknown action")

	// ErrDuplicateAction is returned when an action name is registered twice.
	ErrDuplicateAction = errors.New("execution: action already registered")

	// ErrInvalidTransition is returned when a record is moved to a state
	// its lifecycle does not allow, e.g. a second terminal transition.
	ErrInvalidTransition = errors.New("execution: invalid record transition")
)

// ActionError is a classified error with the identity and attempt that
// produced it.
type ActionError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Identity is the resolved identity key of the action.
	Identity string `json:"identity,omitempty"`

	// Attempt is the attempt number that produced the error, when known.
	Attempt int `json:"attempt,omitempty"`

	// Message is the human-readable message of the underlying failure.
	Message string `json:"message"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	switch {
	case e.Identity != "" && e.Attempt > 0:
		return fmt.Sprintf("[%s] %s (attempt %d): %s", e.Kind, e.Identity, e.Attempt, e.Message)
	case e.Identity != "":
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Identity, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// Is matches another *ActionError of the same kind.
func (e *ActionError) Is(target error) bool {
	t, ok := target.(*ActionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newActionFailure(identity string, attempt int, err error) *ActionError {
	return &ActionError{
		Kind:     KindActionFailure,
		Identity: identity,
		Attempt:  attempt,
		Message:  err.Error(),
		Err:      err,
	}
}

func newRetryExhausted(identity string, attempts int, last error) *ActionError {
	msg := "retries exhausted"
	if last != nil {
		msg = fmt.Sprintf("retries exhausted after %d attempts: %s", attempts, last.Error())
	}
	return &ActionError{
		Kind:     KindRetryExhausted,
		Identity: identity,
		Attempt:  attempts,
		Message:  msg,
		Err:      last,
	}
}

func newReportingFailure(identity, operation string, err error) *ActionError {
	return &ActionError{
		Kind:     KindReportingFailure,
		Identity: identity,
		Message:  fmt.Sprintf("report %s: %v", operation, err),
		Err:      err,
	}
}

// KindOf returns the kind of the outermost ActionError in err's chain,
// or the empty string.
func KindOf(err error) ErrorKind {
	var e *ActionError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsActionFailure reports whether err is a single failed attempt.
func IsActionFailure(err error) bool {
	return errors.Is(err, &ActionError{Kind: KindActionFailure})
}

// IsRetryExhausted reports whether err is a terminal exhaustion.
func IsRetryExhausted(err error) bool {
	return errors.Is(err, &ActionError{Kind: KindRetryExhausted})
}

// IsReportingFailure reports whether err is an engine reporting failure.
func IsReportingFailure(err error) bool {
	return errors.Is(err, &ActionError{Kind: KindReportingFailure})
}
