package execution

import (
	"context"
	"time"

	"github.com/endure/endure-sdk-go/pkg/backoff"
)

// State is the state of a retry loop.
type State string

const (
	StateAttempting State = "attempting"
	StateSucceeded  State = "succeeded"
	StateExhausted  State = "exhausted"
	StateCancelled  State = "cancelled"
)

// IsTerminal reports whether no further attempts follow the state.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateCancelled
}

// SleepFunc waits for d or until ctx is done, whichever comes first. It
// returns a non-nil error when the wait was interrupted.
type SleepFunc func(ctx context.Context, d time.Duration) error

// AttemptHook observes every attempt as soon as it finishes, before the
// scheduler waits for the next one. next is the delay that will precede
// the following attempt, or zero when the attempt was the last one.
type AttemptHook func(rec AttemptRecord, next time.Duration)

// ScheduleResult is the terminal state of a retry loop.
type ScheduleResult struct {
	State    State
	Value    any
	Err      error
	Attempts []AttemptRecord
}

// Scheduler drives repeated invocation of one action until it succeeds,
// exhausts its policy or is cancelled.
type Scheduler struct {
	invoker *Invoker
	sleep   SleepFunc
}

// NewScheduler creates a scheduler that waits on real timers.
func NewScheduler(invoker *Invoker) *Scheduler {
	if invoker == nil {
		invoker = NewInvoker()
	}
	return &Scheduler{invoker: invoker, sleep: sleepContext}
}

// Run executes fn until a terminal state is reached.
//
// Cancellation of ctx is observed before every attempt and during every
// inter-attempt wait; an attempt that already started is never interrupted.
// On exhaustion Err wraps the error of the last attempt. On cancellation
// Err holds the cancellation cause.
func (s *Scheduler) Run(
	ctx context.Context,
	identity string,
	fn Func,
	input any,
	policy backoff.Policy,
	hook AttemptHook,
) ScheduleResult {
	res := ScheduleResult{
		State:    StateAttempting,
		Attempts: make([]AttemptRecord, 0, policy.MaxAttempts()),
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			res.State = StateCancelled
			res.Err = context.Cause(ctx)
			return res
		}

		rec := s.invoker.Invoke(ctx, identity, attempt, fn, input)
		res.Attempts = append(res.Attempts, rec)

		if rec.Succeeded() {
			notify(hook, rec, 0)
			res.State = StateSucceeded
			res.Value = rec.Value
			return res
		}

		if attempt >= policy.MaxAttempts() {
			notify(hook, rec, 0)
			res.State = StateExhausted
			res.Err = newRetryExhausted(identity, attempt, rec.Err)
			return res
		}

		delay := policy.Delay(attempt)
		notify(hook, rec, delay)

		if err := s.sleep(ctx, delay); err != nil {
			res.State = StateCancelled
			res.Err = err
			return res
		}
	}
}

func notify(hook AttemptHook, rec AttemptRecord, next time.Duration) {
	if hook != nil {
		hook(rec, next)
	}
}

// sleepContext is an interruptible wait.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
