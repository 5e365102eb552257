// Package backoff computes the delay an action waits before each retry attempt.
//
// A Policy is declared once per action and never changes while the action
// executes. All computations are pure: the same mechanism, base delay and
// attempt number always produce the same delay.
package backoff

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Mechanism selects how the delay grows between attempts.
type Mechanism string

const (
	// Exponential doubles the delay for every retry: base * 2^(n-1).
	Exponential Mechanism = "exponential"

	// Linear grows the delay proportionally to the retry number: base * n.
	Linear Mechanism = "linear"

	// Constant waits the base delay before every retry.
	Constant Mechanism = "constant"
)

// String returns the wire value of the mechanism.
func (m Mechanism) String() string {
	return string(m)
}

// Valid reports whether m is one of the known mechanisms.
func (m Mechanism) Valid() bool {
	switch m {
	case Exponential, Linear, Constant:
		return true
	default:
		return false
	}
}

// ParseMechanism converts a case-insensitive name into a Mechanism.
func ParseMechanism(s string) (Mechanism, error) {
	m := Mechanism(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown retry mechanism %q (want exponential, linear or constant)", s)
	}
	return m, nil
}

// Policy is the retry policy attached to an action at declaration time.
type Policy struct {
	// Mechanism selects the delay formula.
	Mechanism Mechanism `json:"mechanism" yaml:"mechanism" validate:"required,oneof=exponential linear constant"`

	// BaseDelay is the unit delay the mechanism scales.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay" validate:"gte=0"`

	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `json:"max_retries" yaml:"max_retries" validate:"gte=0"`
}

var validate = validator.New()

// New builds a Policy and validates it.
func New(mechanism Mechanism, baseDelay time.Duration, maxRetries int) (Policy, error) {
	p := Policy{Mechanism: mechanism, BaseDelay: baseDelay, MaxRetries: maxRetries}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Must is like New but panics on an invalid policy. Intended for
// package-level action declarations.
func Must(mechanism Mechanism, baseDelay time.Duration, maxRetries int) Policy {
	p, err := New(mechanism, baseDelay, maxRetries)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate checks the policy fields.
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	return nil
}

// MaxAttempts is the total number of attempts the policy allows,
// the initial attempt included.
func (p Policy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Delay returns how long to wait before retry attempt n (1-indexed).
// Attempt 1 is the first retry after the initial failed attempt; the
// initial attempt itself has no preceding delay. Values of n below 1 are
// treated as 1. The result saturates at the largest representable
// duration instead of overflowing.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}

	var factor float64
	switch p.Mechanism {
	case Linear:
		factor = float64(attempt)
	case Exponential:
		factor = math.Pow(2, float64(attempt-1))
	default:
		factor = 1
	}

	d := float64(p.BaseDelay) * factor
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Schedule lists the delay before every retry the policy permits,
// in order. A policy with no retries has an empty schedule.
func (p Policy) Schedule() []time.Duration {
	out := make([]time.Duration, 0, p.MaxRetries)
	for n := 1; n <= p.MaxRetries; n++ {
		out = append(out, p.Delay(n))
	}
	return out
}

// String renders the policy for logs.
func (p Policy) String() string {
	return fmt.Sprintf("%s(base=%s, max_retries=%d)", p.Mechanism, p.BaseDelay, p.MaxRetries)
}
