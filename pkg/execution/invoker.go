package execution

import (
	"context"
	"fmt"
	"time"
)

// Func is the body of an action. The input is whatever the caller passed
// to Execute; the returned value becomes the success result.
type Func func(ctx context.Context, input any) (any, error)

// AttemptRecord describes one invocation of an action body.
type AttemptRecord struct {
	// Attempt is the 1-indexed attempt number.
	Attempt int `json:"attempt"`

	// StartedAt is the wall-clock time the body was entered.
	StartedAt time.Time `json:"started_at"`

	// EndedAt is the wall-clock time the body returned.
	EndedAt time.Time `json:"ended_at"`

	// Value is the result of a successful attempt.
	Value any `json:"-"`

	// Err is the classified failure of an unsuccessful attempt.
	Err error `json:"-"`
}

// Succeeded reports whether the attempt returned normally.
func (a AttemptRecord) Succeeded() bool {
	return a.Err == nil
}

// Duration is the time spent inside the action body.
func (a AttemptRecord) Duration() time.Duration {
	return a.EndedAt.Sub(a.StartedAt)
}

// Invoker runs a single attempt of an action. It never retries and holds
// no retry state.
type Invoker struct {
	now func() time.Time
}

// NewInvoker creates an invoker using the wall clock.
func NewInvoker() *Invoker {
	return &Invoker{now: time.Now}
}

// Invoke executes fn(input) exactly once. The body receives a context that
// keeps ctx's values but not its cancellation: once started, an attempt
// runs to completion. Returned errors and panics become an ActionError of
// kind KindActionFailure.
func (i *Invoker) Invoke(ctx context.Context, identity string, attempt int, fn Func, input any) (rec AttemptRecord) {
	rec.Attempt = attempt
	rec.StartedAt = i.now()

	defer func() {
		if r := recover(); r != nil {
			rec.Value = nil
			rec.Err = newActionFailure(identity, attempt, fmt.Errorf("panic: %v", r))
		}
		rec.EndedAt = i.now()
	}()

	value, err := fn(context.WithoutCancel(ctx), input)
	if err != nil {
		rec.Err = newActionFailure(identity, attempt, err)
		return rec
	}
	rec.Value = value
	return rec
}
