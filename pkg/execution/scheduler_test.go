package execution

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/endure/endure-sdk-go/pkg/backoff"
)

func TestSchedulerHookOrder(t *testing.T) {
	sleep := &fakeSleep{}
	s := &Scheduler{invoker: NewInvoker(), sleep: sleep.sleep}

	n := 0
	fn := func(context.Context, any) (any, error) {
		n++
		if n < 3 {
			return nil, errors.New("flaky")
		}
		return n, nil
	}

	var seen []int
	var nexts []time.Duration
	res := s.Run(context.Background(), "wf/a", fn, nil, backoff.Must(backoff.Linear, time.Second, 5), func(rec AttemptRecord, next time.Duration) {
		seen = append(seen, rec.Attempt)
		nexts = append(nexts, next)
	})

	if res.State != StateSucceeded || res.Value != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !reflect.DeepEqual(seen, []int{1, 2, 3}) {
		t.Errorf("expected hooks in attempt order, got %v", seen)
	}
	if want := []time.Duration{time.Second, 2 * time.Second, 0}; !reflect.DeepEqual(nexts, want) {
		t.Errorf("expected next delays %v, got %v", want, nexts)
	}
	if len(res.Attempts) != 3 || res.Attempts[0].Succeeded() || !res.Attempts[2].Succeeded() {
		t.Errorf("unexpected attempt history: %+v", res.Attempts)
	}
}

func TestSchedulerCancelledBeforeFirstAttempt(t *testing.T) {
	s := NewScheduler(nil)
	cause := errors.New("shutting down")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	called := false
	res := s.Run(ctx, "wf/a", func(context.Context, any) (any, error) {
		called = true
		return nil, nil
	}, nil, backoff.Must(backoff.Constant, time.Second, 1), nil)

	if called {
		t.Error("expected no attempt after cancellation")
	}
	if res.State != StateCancelled || !errors.Is(res.Err, cause) {
		t.Errorf("expected cancellation with cause, got %+v", res)
	}
	if !res.State.IsTerminal() || StateAttempting.IsTerminal() {
		t.Error("unexpected terminal classification")
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("expected zero wait to succeed, got %v", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("expected short wait to succeed, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected interrupted wait, got %v", err)
	}
}

func TestInvokerRecoversPanic(t *testing.T) {
	inv := NewInvoker()
	rec := inv.Invoke(context.Background(), "wf/a", 2, func(context.Context, any) (any, error) {
		panic("nil order")
	}, nil)

	if rec.Succeeded() {
		t.Fatal("expected failed attempt")
	}
	if !IsActionFailure(rec.Err) {
		t.Errorf("expected action failure, got %v", rec.Err)
	}
	var ae *ActionError
	if !errors.As(rec.Err, &ae) || ae.Attempt != 2 || ae.Message != "panic: nil order" {
		t.Errorf("unexpected error: %+v", ae)
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		t.Error("expected end after start")
	}
}

func TestInvokerDetachesCancellation(t *testing.T) {
	type key struct{}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "trace-1"))
	cancel()

	rec := NewInvoker().Invoke(ctx, "wf/a", 1, func(actx context.Context, _ any) (any, error) {
		if actx.Err() != nil {
			return nil, actx.Err()
		}
		return actx.Value(key{}), nil
	}, nil)

	if !rec.Succeeded() || rec.Value != "trace-1" {
		t.Errorf("expected attempt to keep values and ignore cancellation, got %+v", rec)
	}
}
