package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/endure/endure-sdk-go/pkg/backoff"
)

// Record lifecycle states.
const (
	RecordPending      = "pending"
	RecordRunning      = "running"
	RecordSucceeded    = "succeeded"
	RecordExhausted    = "exhausted"
	RecordCancelled    = "cancelled"
	RecordAcknowledged = "acknowledged"
)

// Record lifecycle events.
const (
	eventStart       = "start"
	eventSucceed     = "succeed"
	eventExhaust     = "exhaust"
	eventCancel      = "cancel"
	eventAdopt       = "adopt"
	eventAcknowledge = "acknowledge"
)

// Record is the execution record of one action identity. It is owned by
// the coordinator while the action runs and becomes read-only once its
// terminal outcome is set.
type Record struct {
	// ID uniquely identifies this record.
	ID string

	// Identity is the action identity the record belongs to.
	Identity Identity

	// Policy is the retry policy the action was executed with.
	Policy backoff.Policy

	// CreatedAt is when the record was created.
	CreatedAt time.Time

	mu        sync.RWMutex
	lifecycle *fsm.FSM
	attempts  []AttemptRecord
	outcome   *Outcome
}

func newRecord(identity Identity, policy backoff.Policy) *Record {
	return &Record{
		ID:        uuid.New().String(),
		Identity:  identity,
		Policy:    policy,
		CreatedAt: time.Now(),
		lifecycle: fsm.NewFSM(
			RecordPending,
			fsm.Events{
				{Name: eventStart, Src: []string{RecordPending}, Dst: RecordRunning},
				{Name: eventSucceed, Src: []string{RecordRunning}, Dst: RecordSucceeded},
				{Name: eventExhaust, Src: []string{RecordRunning}, Dst: RecordExhausted},
				{Name: eventCancel, Src: []string{RecordPending, RecordRunning}, Dst: RecordCancelled},
				{Name: eventAdopt, Src: []string{RecordPending, RecordRunning}, Dst: RecordSucceeded},
				{Name: eventAcknowledge, Src: []string{RecordSucceeded, RecordExhausted}, Dst: RecordAcknowledged},
			},
			fsm.Callbacks{},
		),
	}
}

// restoredRecord rebuilds a terminal record from a persisted outcome.
func restoredRecord(out Outcome, acknowledged bool) *Record {
	r := newRecord(out.Identity, backoff.Policy{})
	state := RecordSucceeded
	if out.Status == StatusExhausted {
		state = RecordExhausted
	}
	if acknowledged {
		state = RecordAcknowledged
	}
	r.lifecycle.SetState(state)
	r.outcome = &out
	return r
}

// State returns the current lifecycle state.
func (r *Record) State() string {
	return r.lifecycle.Current()
}

// IsTerminal reports whether the record holds its terminal outcome.
func (r *Record) IsTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcome != nil
}

// Acknowledged reports whether the engine confirmed the terminal outcome.
func (r *Record) Acknowledged() bool {
	return r.lifecycle.Is(RecordAcknowledged)
}

// Outcome returns the terminal outcome, if set.
func (r *Record) Outcome() (Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.outcome == nil {
		return Outcome{}, false
	}
	return *r.outcome, true
}

// Attempts returns a copy of the attempt history in chronological order.
// The history is discarded once the terminal outcome is acknowledged.
func (r *Record) Attempts() []AttemptRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AttemptRecord, len(r.attempts))
	copy(out, r.attempts)
	return out
}

func (r *Record) start(ctx context.Context) error {
	return r.fire(ctx, eventStart)
}

func (r *Record) appendAttempt(a AttemptRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome != nil {
		return
	}
	r.attempts = append(r.attempts, a)
}

// finish moves the record to its terminal state. It succeeds exactly once.
func (r *Record) finish(ctx context.Context, out Outcome, adopted bool) error {
	var event string
	switch {
	case adopted:
		event = eventAdopt
	case out.Status == StatusSucceeded:
		event = eventSucceed
	case out.Status == StatusExhausted:
		event = eventExhaust
	default:
		event = eventCancel
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome != nil {
		return fmt.Errorf("%w: %s already terminal", ErrInvalidTransition, r.Identity.Key())
	}
	if err := r.fire(ctx, event); err != nil {
		return err
	}
	r.outcome = &out
	return nil
}

// acknowledge marks the terminal outcome as received by the engine and
// drops the attempt history.
func (r *Record) acknowledge(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fire(ctx, eventAcknowledge); err != nil {
		return err
	}
	r.attempts = nil
	return nil
}

// fire runs a lifecycle event. The transition must happen even when the
// execution context was cancelled, so cancellation is detached.
func (r *Record) fire(ctx context.Context, event string) error {
	if err := r.lifecycle.Event(context.WithoutCancel(ctx), event); err != nil {
		return fmt.Errorf("%w: %s on %s (state %s): %v",
			ErrInvalidTransition, event, r.Identity.Key(), r.lifecycle.Current(), err)
	}
	return nil
}
