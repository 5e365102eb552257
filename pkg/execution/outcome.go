package execution

import (
	"fmt"
	"time"
)

// Status is the terminal status of an action execution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
	StatusCancelled Status = "cancelled"
)

// Outcome is the terminal result of executing one action identity.
type Outcome struct {
	// Identity is the identity the outcome belongs to.
	Identity Identity

	// Status is the terminal status.
	Status Status

	// Value is the action result when Status is StatusSucceeded. Outcomes
	// restored from a durable store or adopted from the engine carry the
	// result as raw JSON; use Decode to obtain a typed value.
	Value any

	// Err is the representative error: a retry_exhausted ActionError
	// wrapping the last attempt's failure, or the cancellation cause.
	Err error

	// Attempts is the number of attempts that ran.
	Attempts int

	// Cached is set when the outcome was served from the completion cache
	// instead of running the action body.
	Cached bool

	// CompletedAt is when the terminal state was reached.
	CompletedAt time.Time
}

// Succeeded reports whether the action produced a value.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Result converts the outcome into a Go-style value/error pair.
func (o Outcome) Result() (any, error) {
	switch o.Status {
	case StatusSucceeded:
		return o.Value, nil
	case StatusCancelled:
		if o.Err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCancelled, o.Identity.Key(), o.Err)
		}
		return nil, fmt.Errorf("%w: %s", ErrCancelled, o.Identity.Key())
	default:
		return nil, o.Err
	}
}

// cached returns a copy of o marked as served from the cache.
func (o Outcome) cached() Outcome {
	o.Cached = true
	return o
}
