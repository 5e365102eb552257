package execution

import (
	"fmt"
	"strconv"
)

// Identity names one action instance inside a workflow instance. It is the
// idempotency and correlation key: recomputing it from the same inputs
// always yields the same resolved name.
type Identity struct {
	// WorkflowInstanceID is the engine's execution ID of the workflow.
	WorkflowInstanceID string `json:"workflow_instance_id"`

	// BaseName is the declared action name.
	BaseName string `json:"base_name"`

	// FanOutIndex is set when the action runs once per element of a
	// collection.
	FanOutIndex *int `json:"fan_out_index,omitempty"`

	// CustomName overrides every other naming rule when non-empty.
	CustomName string `json:"custom_name,omitempty"`
}

// ResolveName applies the naming precedence: an explicit custom name wins
// outright, otherwise a fan-out index yields "<base>_<index>", otherwise
// the base name is used as is.
func ResolveName(baseName, customName string, fanOutIndex *int) string {
	if customName != "" {
		return customName
	}
	if fanOutIndex != nil {
		return baseName + "_" + strconv.Itoa(*fanOutIndex)
	}
	return baseName
}

// Index returns a pointer suitable for Identity.FanOutIndex.
func Index(i int) *int {
	return &i
}

// Name returns the resolved action name.
func (id Identity) Name() string {
	return ResolveName(id.BaseName, id.CustomName, id.FanOutIndex)
}

// Key returns the cache key of the identity: the workflow instance ID and
// the resolved name.
func (id Identity) Key() string {
	return id.WorkflowInstanceID + "/" + id.Name()
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return id.Key()
}

// Validate checks that the identity can be resolved.
func (id Identity) Validate() error {
	if id.WorkflowInstanceID == "" {
		return fmt.Errorf("%w: workflow instance id is required", ErrInvalidRequest)
	}
	if id.BaseName == "" && id.CustomName == "" {
		return fmt.Errorf("%w: action name is required", ErrInvalidRequest)
	}
	if id.FanOutIndex != nil && *id.FanOutIndex < 0 {
		return fmt.Errorf("%w: fan-out index must be >= 0, got %d", ErrInvalidRequest, *id.FanOutIndex)
	}
	return nil
}

// withIndex returns a copy of id carrying fan-out index i.
func (id Identity) withIndex(i int) Identity {
	id.FanOutIndex = Index(i)
	return id
}
