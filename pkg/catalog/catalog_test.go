package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/endure/endure-sdk-go/pkg/backoff"
	"github.com/endure/endure-sdk-go/pkg/execution"
)

func TestEntries(t *testing.T) {
	tests := []struct {
		name       string
		duration   time.Duration
		rate       float64
		mechanism  backoff.Mechanism
		maxRetries int
	}{
		{ValidatePayment, 8 * time.Second, 0.5, backoff.Exponential, 3},
		{ReserveInventory, 10 * time.Second, 0.5, backoff.Linear, 2},
		{ProcessRefund, 9 * time.Second, 0.9, backoff.Exponential, 3},
		{SendNotification, 6 * time.Second, 0, backoff.Constant, 2},
		{CreateUser, 7 * time.Second, 0, backoff.Exponential, 2},
		{CheckOrderStatus, 5 * time.Second, 0, backoff.Constant, 1},
	}
	if got := len(Entries()); got != len(tests) {
		t.Fatalf("len(Entries()) = %d, want %d", got, len(tests))
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := Lookup(tt.name)
			if !ok {
				t.Fatalf("Lookup(%q) not found", tt.name)
			}
			if e.Duration != tt.duration || e.FailureRate != tt.rate {
				t.Errorf("entry = %+v", e)
			}
			if e.Policy.Mechanism != tt.mechanism || e.Policy.MaxRetries != tt.maxRetries {
				t.Errorf("policy = %v", e.Policy)
			}
		})
	}
	if _, ok := Lookup("missing"); ok {
		t.Error("Lookup(missing) found an entry")
	}
}

func TestSimulator_Register(t *testing.T) {
	r := execution.NewRegistry()
	if err := NewSimulator(0, 1).Register(r); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if got := len(r.Names()); got != 6 {
		t.Errorf("registered %d actions, want 6", got)
	}
}

func TestSimulator_NeverFailing(t *testing.T) {
	sim := NewSimulator(0, 7)
	res, err := sim.createUser(context.Background(), UserInput{Email: "ada@example.com", Username: "ada", Password: "secret1"})
	if err != nil {
		t.Fatalf("createUser() error = %v", err)
	}
	if res.Email != "ada@example.com" || res.Status != "active" {
		t.Errorf("createUser() = %+v", res)
	}

	status, err := sim.checkOrderStatus(context.Background(), OrderStatusInput{OrderID: "o-1"})
	if err != nil {
		t.Fatalf("checkOrderStatus() error = %v", err)
	}
	if status.OrderID != "o-1" || status.TrackingNumber == "" {
		t.Errorf("checkOrderStatus() = %+v", status)
	}
}

func TestSimulator_FailureRateOverride(t *testing.T) {
	sim := NewSimulator(0, 1, WithFailureRate(ProcessRefund, 1), WithFailureRate(ValidatePayment, 0))

	_, err := sim.processRefund(context.Background(), RefundInput{OrderID: "o-1", Amount: 10})
	if !errors.Is(err, ErrSimulatedFailure) {
		t.Errorf("processRefund() error = %v, want simulated failure", err)
	}
	for range 20 {
		if _, err := sim.validatePayment(context.Background(), PaymentInput{Amount: 5}); err != nil {
			t.Fatalf("validatePayment() error = %v", err)
		}
	}
}

func TestSimulator_Deterministic(t *testing.T) {
	draws := func() []bool {
		sim := NewSimulator(0, 42)
		var out []bool
		for range 16 {
			_, err := sim.reserveInventory(context.Background(), InventoryInput{ItemID: "sku", Quantity: 1})
			out = append(out, err == nil)
		}
		return out
	}
	a, b := draws(), draws()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("draw %d differs between equally seeded simulators", i)
		}
	}
}

func TestSimulator_InvalidInput(t *testing.T) {
	sim := NewSimulator(0, 1)
	if _, err := sim.createUser(context.Background(), UserInput{Email: "not-an-email", Username: "ad", Password: "x"}); err == nil {
		t.Error("createUser() accepted invalid input")
	}
}

func TestSimulator_ScaledDurationHonoursContext(t *testing.T) {
	sim := NewSimulator(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sim.sendNotification(ctx, NotificationInput{Recipient: "ops@example.com"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("sendNotification() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("sendNotification() took %v", elapsed)
	}
}
