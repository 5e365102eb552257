package catalog

import (
	"time"

	"github.com/endure/endure-sdk-go/pkg/backoff"
)

// Action names.
const (
	ValidatePayment  = "validate_payment"
	ReserveInventory = "reserve_inventory"
	ProcessRefund    = "process_refund"
	SendNotification = "send_notification"
	CreateUser       = "create_user"
	CheckOrderStatus = "check_order_status"
)

// DefaultBaseDelay is the unit delay of every catalog policy.
const DefaultBaseDelay = time.Second

// Entry documents one catalog action.
type Entry struct {
	Name        string
	Duration    time.Duration
	FailureRate float64
	Policy      backoff.Policy
	Description string
}

var entries = []Entry{
	{
		Name:        ValidatePayment,
		Duration:    8 * time.Second,
		FailureRate: 0.5,
		Policy:      backoff.Must(backoff.Exponential, DefaultBaseDelay, 3),
		Description: "Validates a payment and returns a payment id",
	},
	{
		Name:        ReserveInventory,
		Duration:    10 * time.Second,
		FailureRate: 0.5,
		Policy:      backoff.Must(backoff.Linear, DefaultBaseDelay, 2),
		Description: "Reserves stock for one order item",
	},
	{
		Name:        ProcessRefund,
		Duration:    9 * time.Second,
		FailureRate: 0.9,
		Policy:      backoff.Must(backoff.Exponential, DefaultBaseDelay, 3),
		Description: "Issues a refund for an order",
	},
	{
		Name:        SendNotification,
		Duration:    6 * time.Second,
		FailureRate: 0,
		Policy:      backoff.Must(backoff.Constant, DefaultBaseDelay, 2),
		Description: "Sends an email notification",
	},
	{
		Name:        CreateUser,
		Duration:    7 * time.Second,
		FailureRate: 0,
		Policy:      backoff.Must(backoff.Exponential, DefaultBaseDelay, 2),
		Description: "Creates a user account",
	},
	{
		Name:        CheckOrderStatus,
		Duration:    5 * time.Second,
		FailureRate: 0,
		Policy:      backoff.Must(backoff.Constant, DefaultBaseDelay, 1),
		Description: "Looks up the shipping status of an order",
	},
}

// Entries returns the catalog in documentation order.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Lookup returns the entry called name.
func Lookup(name string) (Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
