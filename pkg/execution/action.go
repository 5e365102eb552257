package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/endure/endure-sdk-go/pkg/backoff"
)

// Action is a declared unit of work: a name, a function and the retry
// policy it runs under.
type Action struct {
	Name   string
	Fn     Func
	Policy backoff.Policy
}

// NewAction declares an untyped action.
func NewAction(name string, fn Func, policy backoff.Policy) Action {
	return Action{Name: name, Fn: fn, Policy: policy}
}

// WithPolicy returns a copy of a running under p, for call sites that retry
// differently from the declaration.
func (a Action) WithPolicy(p backoff.Policy) Action {
	a.Policy = p
	return a
}

// Declare builds an action from a typed function. Inputs are converted to
// I with Decode, so raw JSON and generic maps are accepted as well as I.
func Declare[I, O any](name string, fn func(ctx context.Context, in I) (O, error), policy backoff.Policy) Action {
	return Action{
		Name:   name,
		Policy: policy,
		Fn: func(ctx context.Context, input any) (any, error) {
			in, err := Decode[I](input)
			if err != nil {
				return nil, fmt.Errorf("decode input of %s: %w", name, err)
			}
			return fn(ctx, in)
		},
	}
}

// CallOption adjusts the identity of one action call.
type CallOption func(*Identity)

// WithName overrides the resolved action name.
func WithName(custom string) CallOption {
	return func(id *Identity) { id.CustomName = custom }
}

// WithIndex sets the fan-out index of the call.
func WithIndex(i int) CallOption {
	return func(id *Identity) { id.FanOutIndex = Index(i) }
}

// Request builds the execution request of a call to a within a workflow
// instance.
func (a Action) Request(instanceID string, input any, opts ...CallOption) Request {
	id := Identity{WorkflowInstanceID: instanceID, BaseName: a.Name}
	for _, opt := range opts {
		opt(&id)
	}
	return Request{Identity: id, Fn: a.Fn, Input: input, Policy: a.Policy}
}

// Run executes a within a workflow instance.
func (c *Coordinator) Run(ctx context.Context, instanceID string, a Action, input any, opts ...CallOption) (Outcome, error) {
	return c.Execute(ctx, a.Request(instanceID, input, opts...))
}

// Run executes a and converts its result to O.
//
// The error is the outcome's error when the action did not succeed. When it
// succeeded but the engine could not be told, the value is returned along
// with the reporting failure.
func Run[O, I any](ctx context.Context, c *Coordinator, instanceID string, a Action, input I, opts ...CallOption) (O, error) {
	var zero O
	out, execErr := c.Run(ctx, instanceID, a, input, opts...)
	if out.Status == "" {
		return zero, execErr
	}
	v, err := out.Result()
	if err != nil {
		return zero, err
	}
	res, err := Decode[O](v)
	if err != nil {
		return zero, fmt.Errorf("decode result of %s: %w", out.Identity.Key(), err)
	}
	return res, execErr
}

// Decode converts v to T. Values already of type T are returned as is;
// raw JSON, as served from a durable store or adopted from the engine, is
// unmarshalled; other values are converted through their JSON encoding.
func Decode[T any](v any) (T, error) {
	var out T
	switch x := v.(type) {
	case nil:
		return out, nil
	case T:
		return x, nil
	case json.RawMessage:
		err := json.Unmarshal(x, &out)
		return out, err
	case []byte:
		err := json.Unmarshal(x, &out)
		return out, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

// Registry holds declared actions by name, with optional policy overrides
// that apply to executions started after they are set.
type Registry struct {
	mu        sync.RWMutex
	actions   map[string]Action
	overrides map[string]backoff.Policy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions:   make(map[string]Action),
		overrides: make(map[string]backoff.Policy),
	}
}

// Register adds a. Names must be unique and policies valid.
func (r *Registry) Register(a Action) error {
	if a.Name == "" {
		return fmt.Errorf("%w: action name is required", ErrInvalidRequest)
	}
	if a.Fn == nil {
		return fmt.Errorf("%w: action %s has no function", ErrInvalidRequest, a.Name)
	}
	if err := a.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: action %s: %w", ErrInvalidRequest, a.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[a.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, a.Name)
	}
	r.actions[a.Name] = a
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(actions ...Action) {
	for _, a := range actions {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Get returns the action called name with its effective policy.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	if p, ok := r.overrides[name]; ok {
		a.Policy = p
	}
	return a, nil
}

// Override returns the configured policy override for name, if any.
func (r *Registry) Override(name string) (backoff.Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.overrides[name]
	return p, ok
}

// SetOverrides replaces every policy override. Overrides for names that are
// not registered are kept, so they apply once the action is registered.
func (r *Registry) SetOverrides(overrides map[string]backoff.Policy) error {
	next := make(map[string]backoff.Policy, len(overrides))
	for name, p := range overrides {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: override for %s: %w", ErrInvalidRequest, name, err)
		}
		next[name] = p
	}

	r.mu.Lock()
	r.overrides = next
	r.mu.Unlock()
	return nil
}

// Names returns the registered action names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
