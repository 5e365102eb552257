package execution

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/endure/endure-sdk-go/pkg/backoff"
)

type orderInput struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}

type orderResult struct {
	OrderID string `json:"order_id"`
	Charged int    `json:"charged"`
}

func chargeAction(calls *atomic.Int32) Action {
	return Declare("charge", func(_ context.Context, in orderInput) (orderResult, error) {
		calls.Add(1)
		if in.Amount < 0 {
			return orderResult{}, errors.New("negative amount")
		}
		return orderResult{OrderID: in.OrderID, Charged: in.Amount}, nil
	}, backoff.Must(backoff.Constant, time.Second, 1))
}

func TestDeclareAcceptsRawInput(t *testing.T) {
	var calls atomic.Int32
	a := chargeAction(&calls)

	v, err := a.Fn(context.Background(), json.RawMessage(`{"order_id":"o-1","amount":5}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := v.(orderResult); got.Charged != 5 {
		t.Errorf("unexpected result %+v", got)
	}

	v, err = a.Fn(context.Background(), map[string]any{"order_id": "o-2", "amount": 7})
	if err != nil || v.(orderResult).Charged != 7 {
		t.Errorf("unexpected result %v (%v)", v, err)
	}

	if _, err := a.Fn(context.Background(), json.RawMessage(`[`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestRunTyped(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeEngine{})
	var calls atomic.Int32
	a := chargeAction(&calls)

	res, err := Run[orderResult](context.Background(), c, "wf-1", a, orderInput{OrderID: "o-1", Amount: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Charged != 30 {
		t.Errorf("unexpected result %+v", res)
	}

	_, err = Run[orderResult](context.Background(), c, "wf-1", a, orderInput{Amount: -1}, WithName("charge_refund"))
	if !IsRetryExhausted(err) {
		t.Errorf("expected retry exhausted, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 invocations, got %d", calls.Load())
	}

	_, err = Run[orderResult](context.Background(), c, "", a, orderInput{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected invalid request, got %v", err)
	}
}

func TestFanOutResolvesNamesInOrder(t *testing.T) {
	engine := &fakeEngine{}
	c, _ := newTestCoordinator(t, engine, WithFanOutLimit(2))
	a := Declare("reserve_inventory", func(_ context.Context, sku string) (string, error) {
		return strings.ToUpper(sku), nil
	}, backoff.Must(backoff.Linear, time.Second, 2))

	results, err := FanOut[string](context.Background(), c, "wf-1", a, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(results, []string{"A", "B", "C"}) {
		t.Errorf("unexpected results %v", results)
	}

	names := map[string]bool{}
	for _, r := range engine.sent(opStarted) {
		names[r.Identity.Name()] = true
	}
	for i := range 3 {
		if name := fmt.Sprintf("reserve_inventory_%d", i); !names[name] {
			t.Errorf("expected started report for %s, got %v", name, names)
		}
	}
}

func TestFanOutSiblingsIndependent(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeEngine{})
	a := Declare("reserve_inventory", func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errors.New("out of stock")
		}
		return n * 10, nil
	}, backoff.Must(backoff.Constant, time.Millisecond, 0))

	outcomes, err := c.FanOut(context.Background(), "wf-2", a, []any{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Status{StatusSucceeded, StatusExhausted, StatusSucceeded}
	for i, out := range outcomes {
		if out.Status != want[i] {
			t.Errorf("element %d: expected %s, got %s", i, want[i], out.Status)
		}
		if out.Identity.FanOutIndex == nil || *out.Identity.FanOutIndex != i {
			t.Errorf("element %d: unexpected index %v", i, out.Identity.FanOutIndex)
		}
	}

	results, err := FanOut[int](context.Background(), c, "wf-2", a, []int{1, 2, 3})
	if !IsRetryExhausted(err) {
		t.Errorf("expected joined exhaustion, got %v", err)
	}
	if !reflect.DeepEqual(results, []int{10, 0, 30}) {
		t.Errorf("unexpected cached results %v", results)
	}
}

func TestDecode(t *testing.T) {
	if v, err := Decode[int](nil); err != nil || v != 0 {
		t.Errorf("expected zero for nil, got %v %v", v, err)
	}
	if v, err := Decode[string]("x"); err != nil || v != "x" {
		t.Errorf("expected identity conversion, got %v %v", v, err)
	}
	if v, err := Decode[[]int]([]byte(`[1,2]`)); err != nil || len(v) != 2 {
		t.Errorf("expected bytes decode, got %v %v", v, err)
	}
	if v, err := Decode[orderResult](map[string]any{"order_id": "o", "charged": 3}); err != nil || v.Charged != 3 {
		t.Errorf("expected map conversion, got %v %v", v, err)
	}
	if _, err := Decode[int](json.RawMessage(`"nope"`)); err == nil {
		t.Error("expected type mismatch error")
	}
}

func TestRegistry(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry()
	r.MustRegister(chargeAction(&calls))

	if err := r.Register(chargeAction(&calls)); !errors.Is(err, ErrDuplicateAction) {
		t.Errorf("expected duplicate error, got %v", err)
	}
	if err := r.Register(Action{Name: "bad", Fn: chargeAction(&calls).Fn, Policy: backoff.Policy{Mechanism: "random"}}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected invalid policy error, got %v", err)
	}
	if _, err := r.Get("refund"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected unknown action, got %v", err)
	}

	override := backoff.Must(backoff.Exponential, 500*time.Millisecond, 4)
	if err := r.SetOverrides(map[string]backoff.Policy{"charge": override}); err != nil {
		t.Fatalf("failed to set overrides: %v", err)
	}
	a, err := r.Get("charge")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Policy != override {
		t.Errorf("expected override %v, got %v", override, a.Policy)
	}
	if p, ok := r.Override("charge"); !ok || p != override {
		t.Errorf("Override(charge) = %v, %v", p, ok)
	}
	if _, ok := r.Override("refund"); ok {
		t.Error("expected no override for refund")
	}

	if err := r.SetOverrides(map[string]backoff.Policy{"charge": {MaxRetries: -1}}); err == nil {
		t.Error("expected invalid override to be rejected")
	}
	if a, _ := r.Get("charge"); a.Policy != override {
		t.Error("expected rejected overrides to leave previous ones in place")
	}

	if names := r.Names(); !reflect.DeepEqual(names, []string{"charge"}) {
		t.Errorf("unexpected names %v", names)
	}
}
