package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/endure/endure-sdk-go/pkg/backoff"
	"github.com/endure/endure-sdk-go/pkg/execution"
)

var validate = validator.New()

// ErrSimulatedFailure is returned by a simulated action that drew a failure.
var ErrSimulatedFailure = errors.New("simulated failure")

var orderStatuses = []string{"pending", "processing", "shipped", "delivered"}

// Simulator runs catalog actions with scaled durations and seeded random
// failures.
type Simulator struct {
	scale float64

	mu  sync.Mutex
	rng *rand.Rand

	// failureRates overrides catalog failure rates by action name.
	failureRates map[string]float64
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithFailureRate replaces the failure probability of one action.
func WithFailureRate(name string, rate float64) SimulatorOption {
	return func(s *Simulator) { s.failureRates[name] = rate }
}

// NewSimulator creates a simulator. scale multiplies every nominal duration;
// zero disables sleeping.
func NewSimulator(scale float64, seed uint64, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		scale:        scale,
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		failureRates: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Actions declares every catalog action with its default policy.
func (s *Simulator) Actions() []execution.Action {
	return []execution.Action{
		execution.Declare(ValidatePayment, s.validatePayment, s.policy(ValidatePayment)),
		execution.Declare(ReserveInventory, s.reserveInventory, s.policy(ReserveInventory)),
		execution.Declare(ProcessRefund, s.processRefund, s.policy(ProcessRefund)),
		execution.Declare(SendNotification, s.sendNotification, s.policy(SendNotification)),
		execution.Declare(CreateUser, s.createUser, s.policy(CreateUser)),
		execution.Declare(CheckOrderStatus, s.checkOrderStatus, s.policy(CheckOrderStatus)),
	}
}

// Register adds every catalog action to r.
func (s *Simulator) Register(r *execution.Registry) error {
	for _, a := range s.Actions() {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) policy(name string) backoff.Policy {
	e, _ := Lookup(name)
	return e.Policy
}

func (s *Simulator) validatePayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	if err := s.simulate(ctx, ValidatePayment, in); err != nil {
		return PaymentResult{}, fmt.Errorf("payment validation failed: %w", err)
	}
	return PaymentResult{
		PaymentID: fmt.Sprintf("pay_%d", s.intn(1000, 9999)),
		Amount:    in.Amount,
		Status:    "validated",
	}, nil
}

func (s *Simulator) reserveInventory(ctx context.Context, in InventoryInput) (InventoryResult, error) {
	if err := s.simulate(ctx, ReserveInventory, in); err != nil {
		return InventoryResult{}, fmt.Errorf("insufficient inventory for %s: %w", in.ItemID, err)
	}
	return InventoryResult{
		ReservationID: fmt.Sprintf("res_%d", s.intn(1000, 9999)),
		ItemID:        in.ItemID,
		Quantity:      in.Quantity,
		Status:        "reserved",
	}, nil
}

func (s *Simulator) processRefund(ctx context.Context, in RefundInput) (RefundResult, error) {
	if err := s.simulate(ctx, ProcessRefund, in); err != nil {
		return RefundResult{}, fmt.Errorf("refund processing failed: %w", err)
	}
	return RefundResult{
		RefundID: fmt.Sprintf("ref_%d", s.intn(1000, 9999)),
		Amount:   in.Amount,
		Status:   "processed",
	}, nil
}

func (s *Simulator) sendNotification(ctx context.Context, in NotificationInput) (NotificationResult, error) {
	if err := s.simulate(ctx, SendNotification, in); err != nil {
		return NotificationResult{}, fmt.Errorf("notification failed: %w", err)
	}
	return NotificationResult{
		NotificationID: fmt.Sprintf("notif_%d", s.intn(1000, 9999)),
		Recipient:      in.Recipient,
		Status:         "sent",
	}, nil
}

func (s *Simulator) createUser(ctx context.Context, in UserInput) (UserResult, error) {
	if err := s.simulate(ctx, CreateUser, in); err != nil {
		return UserResult{}, fmt.Errorf("user creation failed: %w", err)
	}
	return UserResult{
		UserID: fmt.Sprintf("user_%d", s.intn(1000, 9999)),
		Email:  in.Email,
		Status: "active",
	}, nil
}

func (s *Simulator) checkOrderStatus(ctx context.Context, in OrderStatusInput) (OrderStatusResult, error) {
	if err := s.simulate(ctx, CheckOrderStatus, in); err != nil {
		return OrderStatusResult{}, fmt.Errorf("order status lookup failed: %w", err)
	}
	s.mu.Lock()
	status := orderStatuses[s.rng.IntN(len(orderStatuses))]
	s.mu.Unlock()
	return OrderStatusResult{
		OrderID:        in.OrderID,
		Status:         status,
		TrackingNumber: fmt.Sprintf("TRK%d", s.intn(100000, 999999)),
	}, nil
}

// simulate validates the input, waits the scaled duration and draws a
// failure.
func (s *Simulator) simulate(ctx context.Context, name string, in any) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	e, _ := Lookup(name)

	if d := time.Duration(float64(e.Duration) * s.scale); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	rate, ok := s.failureRates[name]
	if !ok {
		rate = e.FailureRate
	}
	s.mu.Lock()
	draw := s.rng.Float64()
	s.mu.Unlock()
	if draw < rate {
		return ErrSimulatedFailure
	}
	return nil
}

func (s *Simulator) intn(lo, hi int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.IntN(hi-lo+1)
}
