package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Retention bounds of a workflow's idempotency records, in days.
const (
	DefaultRetention = 7
	MaxRetention     = 30
)

var (
	// ErrInvalidWorkflow is returned for a workflow that cannot be hosted.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrDuplicateWorkflow is returned when a service already hosts a
	// workflow of the same name.
	ErrDuplicateWorkflow = errors.New("workflow already registered")

	// ErrInvalidInput wraps input that does not decode into, or validate
	// as, the workflow's input type.
	ErrInvalidInput = errors.New("invalid workflow input")
)

var validate = validator.New()

// Func runs one execution of a workflow on a raw JSON input.
type Func func(ctx context.Context, executionID string, input json.RawMessage) (any, error)

// Workflow is a hosted workflow and the metadata served by discovery.
type Workflow struct {
	Name      string `validate:"required"`
	Retention int    `validate:"gte=0,lte=30"`
	Input     string
	Output    string
	Run       Func `validate:"required"`
}

// WorkflowOption adjusts a workflow registered with Register.
type WorkflowOption func(*Workflow)

// WithRetention sets how many days the engine keeps the workflow's
// idempotency records.
func WithRetention(days int) WorkflowOption {
	return func(w *Workflow) { w.Retention = days }
}

// Registry holds the hosted services and their workflows in registration
// order.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	services map[string][]Workflow
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string][]Workflow)}
}

// Service returns the named service of r. The service exists in discovery
// once it hosts a workflow.
func (r *Registry) Service(name string) *Service {
	return &Service{name: name, registry: r}
}

// Lookup returns the workflow hosted under service.
func (r *Registry) Lookup(service, workflow string) (Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.services[service] {
		if w.Name == workflow {
			return w, true
		}
	}
	return Workflow{}, false
}

// ServiceInfo describes a service for discovery.
type ServiceInfo struct {
	Name      string         `json:"name"`
	Workflows []WorkflowInfo `json:"workflows"`
}

// WorkflowInfo describes a workflow for discovery.
type WorkflowInfo struct {
	Name      string `json:"name"`
	Input     string `json:"input"`
	Output    string `json:"output"`
	Retention int    `json:"idem_retention"`
}

// Services returns a snapshot of every hosted service.
func (r *Registry) Services() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceInfo, 0, len(r.order))
	for _, name := range r.order {
		info := ServiceInfo{Name: name, Workflows: make([]WorkflowInfo, 0, len(r.services[name]))}
		for _, w := range r.services[name] {
			info.Workflows = append(info.Workflows, WorkflowInfo{
				Name:      w.Name,
				Input:     w.Input,
				Output:    w.Output,
				Retention: w.Retention,
			})
		}
		out = append(out, info)
	}
	return out
}

func (r *Registry) register(service string, w Workflow) error {
	if service == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidWorkflow)
	}
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("%w: %s/%s: %w", ErrInvalidWorkflow, service, w.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	hosted, ok := r.services[service]
	if !ok {
		r.order = append(r.order, service)
	}
	for _, existing := range hosted {
		if existing.Name == w.Name {
			return fmt.Errorf("%w: %s in service %s", ErrDuplicateWorkflow, w.Name, service)
		}
	}
	r.services[service] = append(hosted, w)
	return nil
}

// Service is a named group of workflows, served under
// /execute/{service}/{workflow}.
type Service struct {
	name     string
	registry *Registry
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Host adds w to the service. A zero Retention keeps records for zero days.
func (s *Service) Host(w Workflow) error {
	return s.registry.register(s.name, w)
}

// Register hosts a typed workflow function under name. The input is decoded
// from JSON into I and validated; the retention defaults to
// DefaultRetention days.
func Register[I, O any](s *Service, name string, fn func(ctx context.Context, executionID string, in I) (O, error), opts ...WorkflowOption) error {
	if fn == nil {
		return fmt.Errorf("%w: %s/%s has no function", ErrInvalidWorkflow, s.name, name)
	}
	w := Workflow{
		Name:      name,
		Retention: DefaultRetention,
		Input:     reflect.TypeFor[I]().String(),
		Output:    reflect.TypeFor[O]().String(),
		Run: func(ctx context.Context, executionID string, raw json.RawMessage) (any, error) {
			in, err := decodeInput[I](raw)
			if err != nil {
				return nil, err
			}
			return fn(ctx, executionID, in)
		},
	}
	for _, opt := range opts {
		opt(&w)
	}
	return s.Host(w)
}

func decodeInput[I any](raw json.RawMessage) (I, error) {
	var in I
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return in, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}

	v := reflect.ValueOf(&in).Elem()
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		if err := validate.Struct(v.Interface()); err != nil {
			return in, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	return in, nil
}
