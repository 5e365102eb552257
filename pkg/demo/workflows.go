package demo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/endure/endure-sdk-go/pkg/backoff"
	"github.com/endure/endure-sdk-go/pkg/catalog"
	"github.com/endure/endure-sdk-go/pkg/execution"
	"github.com/endure/endure-sdk-go/pkg/service"
)

// Service names the workflows are hosted under.
const (
	OrdersService   = "orders"
	UsersService    = "users"
	PaymentsService = "payments"
)

// Workflow names.
const (
	ProcessOrder           = "process_order"
	GetOrderStatus         = "get_order_status"
	RegisterUser           = "register_user"
	ProcessRefund          = "process_refund"
	VerifyPaymentAndNotify = "verify_payment_and_notify"
)

// Site-specific policies that differ from the catalog defaults.
var (
	preRefundCheckPolicy = backoff.Must(backoff.Constant, catalog.DefaultBaseDelay, 2)
	welcomeNotifyPolicy  = backoff.Must(backoff.Constant, catalog.DefaultBaseDelay, 1)
	internalNotifyPolicy = backoff.Must(backoff.Linear, catalog.DefaultBaseDelay, 2)
)

// OrderReceipt is the result of process_order.
type OrderReceipt struct {
	OrderID      string                     `json:"order_id"`
	Status       string                     `json:"status"`
	Payment      catalog.PaymentResult      `json:"payment"`
	Reservations []catalog.InventoryResult  `json:"reservations"`
	Notification catalog.NotificationResult `json:"notification"`
}

// Registration is the result of register_user.
type Registration struct {
	Success      bool                       `json:"success"`
	User         catalog.UserResult         `json:"user"`
	Notification catalog.NotificationResult `json:"notification"`
}

// RefundReceipt is the result of process_refund.
type RefundReceipt struct {
	OrderID      string                     `json:"order_id"`
	OrderStatus  catalog.OrderStatusResult  `json:"order_status"`
	Refund       catalog.RefundResult       `json:"refund"`
	Notification catalog.NotificationResult `json:"notification"`
	Status       string                     `json:"status"`
}

// PaymentVerification is the result of verify_payment_and_notify.
type PaymentVerification struct {
	PaymentID      string                     `json:"payment_id"`
	Amount         float64                    `json:"amount"`
	PaymentStatus  string                     `json:"payment_status"`
	Notification   catalog.NotificationResult `json:"notification"`
	WorkflowStatus string                     `json:"workflow_status"`
}

// Option configures Workflows.
type Option func(*Workflows)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Workflows) { w.logger = logger }
}

// WithTracer sets the tracer used for workflow spans.
func WithTracer(t trace.Tracer) Option {
	return func(w *Workflows) {
		if t != nil {
			w.tracer = t
		}
	}
}

// WithPauseScale scales the short pauses between workflow steps. Zero
// disables them.
func WithPauseScale(scale float64) Option {
	return func(w *Workflows) { w.pauseScale = scale }
}

// Workflows runs the demo workflows.
type Workflows struct {
	coord      *execution.Coordinator
	registry   *execution.Registry
	logger     zerolog.Logger
	tracer     trace.Tracer
	pauseScale float64
}

// New creates the demo workflows. registry must hold the catalog actions.
func New(coord *execution.Coordinator, registry *execution.Registry, opts ...Option) *Workflows {
	w := &Workflows{
		coord:    coord,
		registry: registry,
		logger:   zerolog.Nop(),
		tracer:   noop.NewTracerProvider().Tracer("endure/demo"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Names returns the workflow names in lexical order.
func Names() []string {
	names := []string{ProcessOrder, GetOrderStatus, RegisterUser, ProcessRefund, VerifyPaymentAndNotify}
	sort.Strings(names)
	return names
}

// Run dispatches the workflow called name with a JSON input.
func (w *Workflows) Run(ctx context.Context, name, executionID string, input json.RawMessage) (any, error) {
	switch name {
	case ProcessOrder:
		return runJSON(ctx, executionID, input, w.ProcessOrder)
	case GetOrderStatus:
		return runJSON(ctx, executionID, input, w.GetOrderStatus)
	case RegisterUser:
		return runJSON(ctx, executionID, input, w.RegisterUser)
	case ProcessRefund:
		return runJSON(ctx, executionID, input, w.ProcessRefund)
	case VerifyPaymentAndNotify:
		return runJSON(ctx, executionID, input, w.VerifyPaymentAndNotify)
	default:
		return nil, fmt.Errorf("unknown workflow %q", name)
	}
}

// Host registers every workflow with the service it belongs to.
func (w *Workflows) Host(reg *service.Registry) error {
	orders := reg.Service(OrdersService)
	users := reg.Service(UsersService)
	payments := reg.Service(PaymentsService)
	return errors.Join(
		service.Register(orders, ProcessOrder, w.ProcessOrder),
		service.Register(orders, GetOrderStatus, w.GetOrderStatus),
		service.Register(users, RegisterUser, w.RegisterUser),
		service.Register(payments, ProcessRefund, w.ProcessRefund),
		service.Register(payments, VerifyPaymentAndNotify, w.VerifyPaymentAndNotify),
	)
}

func runJSON[I, O any](ctx context.Context, executionID string, raw json.RawMessage, fn func(context.Context, string, I) (O, error)) (any, error) {
	var in I
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("invalid workflow input: %w", err)
		}
	}
	return fn(ctx, executionID, in)
}

// ProcessOrder validates the payment, reserves every item and notifies the
// customer.
func (w *Workflows) ProcessOrder(ctx context.Context, executionID string, in catalog.OrderInput) (res OrderReceipt, err error) {
	ctx, end := w.start(ctx, ProcessOrder, executionID)
	defer func() { end(err) }()

	w.pause(ctx, 500*time.Millisecond)
	validate, err := w.action(catalog.ValidatePayment, nil)
	if err != nil {
		return res, err
	}
	payment, err := execution.Run[catalog.PaymentResult](ctx, w.coord, executionID, validate,
		catalog.PaymentInput{Amount: in.TotalAmount, PaymentMethod: "credit_card"})
	if err != nil {
		return res, err
	}

	w.pause(ctx, 300*time.Millisecond)
	reserve, err := w.action(catalog.ReserveInventory, nil)
	if err != nil {
		return res, err
	}
	items := make([]catalog.InventoryInput, len(in.Items))
	for i, item := range in.Items {
		items[i] = catalog.InventoryInput{ItemID: item.ID, Quantity: item.Quantity}
	}
	reservations, err := execution.FanOut[catalog.InventoryResult](ctx, w.coord, executionID, reserve, items)
	if err != nil {
		return res, err
	}

	w.pause(ctx, 200*time.Millisecond)
	notify, err := w.action(catalog.SendNotification, nil)
	if err != nil {
		return res, err
	}
	notification, err := execution.Run[catalog.NotificationResult](ctx, w.coord, executionID, notify,
		catalog.NotificationInput{
			Recipient: in.CustomerEmail,
			Message:   fmt.Sprintf("Order %s confirmed", in.OrderID),
			Type:      "email",
		})
	if err != nil {
		return res, err
	}

	return OrderReceipt{
		OrderID:      in.OrderID,
		Status:       "completed",
		Payment:      payment,
		Reservations: reservations,
		Notification: notification,
	}, nil
}

// GetOrderStatus looks up an order.
func (w *Workflows) GetOrderStatus(ctx context.Context, executionID string, in catalog.OrderStatusInput) (res catalog.OrderStatusResult, err error) {
	ctx, end := w.start(ctx, GetOrderStatus, executionID)
	defer func() { end(err) }()

	check, err := w.action(catalog.CheckOrderStatus, nil)
	if err != nil {
		return res, err
	}
	return execution.Run[catalog.OrderStatusResult](ctx, w.coord, executionID, check, in)
}

// RegisterUser creates a user and sends a welcome notification.
func (w *Workflows) RegisterUser(ctx context.Context, executionID string, in catalog.UserInput) (res Registration, err error) {
	ctx, end := w.start(ctx, RegisterUser, executionID)
	defer func() { end(err) }()

	w.pause(ctx, 500*time.Millisecond)
	create, err := w.action(catalog.CreateUser, nil)
	if err != nil {
		return res, err
	}
	user, err := execution.Run[catalog.UserResult](ctx, w.coord, executionID, create, in)
	if err != nil {
		return res, err
	}

	notify, err := w.action(catalog.SendNotification, &welcomeNotifyPolicy)
	if err != nil {
		return res, err
	}
	notification, err := execution.Run[catalog.NotificationResult](ctx, w.coord, executionID, notify,
		catalog.NotificationInput{
			Recipient: in.Email,
			Message:   fmt.Sprintf("Welcome %s!", in.Username),
			Type:      "email",
		})
	if err != nil {
		return res, err
	}

	return Registration{Success: true, User: user, Notification: notification}, nil
}

// ProcessRefund checks the order, issues the refund and notifies finance.
func (w *Workflows) ProcessRefund(ctx context.Context, executionID string, in catalog.RefundInput) (res RefundReceipt, err error) {
	ctx, end := w.start(ctx, ProcessRefund, executionID)
	defer func() { end(err) }()

	w.pause(ctx, 300*time.Millisecond)
	check, err := w.action(catalog.CheckOrderStatus, &preRefundCheckPolicy)
	if err != nil {
		return res, err
	}
	status, err := execution.Run[catalog.OrderStatusResult](ctx, w.coord, executionID, check,
		catalog.OrderStatusInput{OrderID: in.OrderID}, execution.WithName("pre_refund_order_check"))
	if err != nil {
		return res, err
	}

	w.pause(ctx, 200*time.Millisecond)
	refundAction, err := w.action(catalog.ProcessRefund, nil)
	if err != nil {
		return res, err
	}
	refund, err := execution.Run[catalog.RefundResult](ctx, w.coord, executionID, refundAction, in)
	if err != nil {
		return res, err
	}

	w.pause(ctx, 200*time.Millisecond)
	notify, err := w.action(catalog.SendNotification, &internalNotifyPolicy)
	if err != nil {
		return res, err
	}
	notification, err := execution.Run[catalog.NotificationResult](ctx, w.coord, executionID, notify,
		catalog.NotificationInput{
			Recipient: "finance@company.com",
			Message: fmt.Sprintf("Refund processed: $%.2f for order %s. Refund ID: %s",
				refund.Amount, in.OrderID, refund.RefundID),
			Type: "email",
		})
	if err != nil {
		return res, err
	}

	return RefundReceipt{
		OrderID:      in.OrderID,
		OrderStatus:  status,
		Refund:       refund,
		Notification: notification,
		Status:       "completed",
	}, nil
}

// VerifyPaymentAndNotify validates a payment and notifies an admin.
func (w *Workflows) VerifyPaymentAndNotify(ctx context.Context, executionID string, in catalog.PaymentInput) (res PaymentVerification, err error) {
	ctx, end := w.start(ctx, VerifyPaymentAndNotify, executionID)
	defer func() { end(err) }()

	w.pause(ctx, 300*time.Millisecond)
	validate, err := w.action(catalog.ValidatePayment, nil)
	if err != nil {
		return res, err
	}
	payment, err := execution.Run[catalog.PaymentResult](ctx, w.coord, executionID, validate, in,
		execution.WithName("primary_payment_validation"))
	if err != nil {
		return res, err
	}

	w.pause(ctx, 200*time.Millisecond)
	notify, err := w.action(catalog.SendNotification, &internalNotifyPolicy)
	if err != nil {
		return res, err
	}
	notification, err := execution.Run[catalog.NotificationResult](ctx, w.coord, executionID, notify,
		catalog.NotificationInput{
			Recipient: "admin@company.com",
			Message:   fmt.Sprintf("Payment of $%.2f validated with ID %s", payment.Amount, payment.PaymentID),
			Type:      "email",
		})
	if err != nil {
		return res, err
	}

	return PaymentVerification{
		PaymentID:      payment.PaymentID,
		Amount:         payment.Amount,
		PaymentStatus:  payment.Status,
		Notification:   notification,
		WorkflowStatus: "completed",
	}, nil
}

// action returns the registered action, running under site unless a
// configured override exists.
func (w *Workflows) action(name string, site *backoff.Policy) (execution.Action, error) {
	a, err := w.registry.Get(name)
	if err != nil {
		return a, err
	}
	if site == nil {
		return a, nil
	}
	if _, overridden := w.registry.Override(name); overridden {
		return a, nil
	}
	return a.WithPolicy(*site), nil
}

func (w *Workflows) start(ctx context.Context, workflow, executionID string) (context.Context, func(error)) {
	ctx, span := w.tracer.Start(ctx, "workflow."+workflow, trace.WithAttributes(
		attribute.String("endure.workflow", workflow),
		attribute.String("endure.execution_id", executionID),
	))
	started := time.Now()
	w.logger.Info().Str("workflow", workflow).Str("execution_id", executionID).Msg("Workflow started")

	return ctx, func(err error) {
		event := w.logger.Info()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			event = w.logger.Error().Err(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		event.Str("workflow", workflow).
			Str("execution_id", executionID).
			Dur("duration", time.Since(started)).
			Msg("Workflow finished")
		span.End()
	}
}

// pause waits between steps. Cancellation is observed by the next action.
func (w *Workflows) pause(ctx context.Context, d time.Duration) {
	d = time.Duration(float64(d) * w.pauseScale)
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
