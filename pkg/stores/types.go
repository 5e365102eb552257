package stores

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no completion exists for a key.
var ErrNotFound = errors.New("stores: completion not found")

// Completion is the persisted terminal outcome of an action identity.
type Completion struct {
	// Key is the identity key: "<workflow instance id>/<resolved name>".
	Key string `json:"key"`

	// WorkflowInstanceID is the workflow execution the action belongs to.
	WorkflowInstanceID string `json:"workflow_instance_id"`

	// BaseName is the declared action name.
	BaseName string `json:"base_name"`

	// CustomName is the explicit name override, if any.
	CustomName string `json:"custom_name,omitempty"`

	// FanOutIndex is the element index for fan-out actions.
	FanOutIndex *int `json:"fan_out_index,omitempty"`

	// Status is the terminal status (succeeded, exhausted).
	Status string `json:"status"`

	// Output is the JSON-encoded action result.
	Output []byte `json:"output,omitempty"`

	// ErrorKind is the classification of the representative error.
	ErrorKind string `json:"error_kind,omitempty"`

	// ErrorMessage is the representative error message.
	ErrorMessage string `json:"error_message,omitempty"`

	// Attempts is the number of attempts that ran.
	Attempts int `json:"attempts"`

	// CompletedAt is when the terminal state was reached.
	CompletedAt time.Time `json:"completed_at"`

	// AcknowledgedAt is set once the engine confirmed the outcome.
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// Stats summarizes the contents of a store.
type Stats struct {
	Total        int
	Acknowledged int
	Pending      int
}
