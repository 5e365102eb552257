package engineclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/endure/endure-sdk-go/pkg/backoff"
	"github.com/endure/endure-sdk-go/pkg/execution"
)

func TestLocalWithCoordinator(t *testing.T) {
	engine := NewLocal(zerolog.Nop())
	coord, err := execution.NewCoordinator(engine, execution.WithSleep(func(context.Context, time.Duration) error { return nil }))
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}

	calls := 0
	a := execution.NewAction("check_order_status", func(context.Context, any) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("status service down")
		}
		return "shipped", nil
	}, backoff.Must(backoff.Constant, time.Second, 1))

	out, err := coord.Run(context.Background(), "exec-1", a, nil)
	if err != nil || out.Status != execution.StatusSucceeded {
		t.Fatalf("unexpected outcome %+v (%v)", out, err)
	}

	journal := engine.Journal("exec-1")
	want := []string{StatusStarted, StatusFailed, StatusCompleted}
	if len(journal) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), journal)
	}
	for i, e := range journal {
		if e.Status != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], e.Status)
		}
	}
	if journal[1].Final || !journal[2].Final || string(journal[2].Output) != `"shipped"` {
		t.Errorf("unexpected entries %+v", journal)
	}

	// A fresh process asks again: the engine answers with the recorded output.
	restarted, _ := execution.NewCoordinator(engine)
	again, err := restarted.Run(context.Background(), "exec-1", a, nil)
	if err != nil || !again.Cached || calls != 2 {
		t.Errorf("expected adopted result, got %+v (%v, calls %d)", again, err, calls)
	}
	if v, _ := execution.Decode[string](again.Value); v != "shipped" {
		t.Errorf("unexpected adopted value %v", again.Value)
	}
}

func TestLocalTerminate(t *testing.T) {
	engine := NewLocal(zerolog.Nop())
	engine.Terminate("exec-9", "operator request")

	select {
	case sig := <-engine.Signals():
		if sig.Kind != execution.SignalAbort || sig.WorkflowInstanceID != "exec-9" {
			t.Errorf("unexpected signal %+v", sig)
		}
	default:
		t.Fatal("expected abort signal")
	}

	rep := execution.Report{Identity: execution.Identity{WorkflowInstanceID: "exec-9", BaseName: "a"}}
	if err := engine.ReportStarted(context.Background(), rep); !errors.Is(err, execution.ErrAborted) {
		t.Errorf("expected ErrAborted, got %v", err)
	}

	engine.Close()
	engine.Close()
	engine.Redeliver(rep.Identity)
	if _, ok := <-engine.Signals(); ok {
		t.Error("expected closed signal stream")
	}
	if ids := engine.Executions(); len(ids) != 0 {
		t.Errorf("expected no journaled executions, got %v", ids)
	}
}
