package execution

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// FanOut runs a once per input, concurrently, within a workflow instance.
// Element i gets the identity "<name>_<i>". Outcomes are returned in input
// order. A sibling failing never cancels the others; the error joins the
// per-element execution errors.
func (c *Coordinator) FanOut(ctx context.Context, instanceID string, a Action, inputs []any) ([]Outcome, error) {
	outcomes := make([]Outcome, len(inputs))
	errs := make([]error, len(inputs))

	var g errgroup.Group
	if c.fanOutLimit > 0 {
		g.SetLimit(c.fanOutLimit)
	}
	for i, input := range inputs {
		g.Go(func() error {
			outcomes[i], errs[i] = c.Execute(ctx, a.Request(instanceID, input, WithIndex(i)))
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, errors.Join(errs...)
}

// FanOut runs a once per input and converts each result to O. Results are
// in input order; the error joins the failures of every element that did
// not succeed.
func FanOut[O, I any](ctx context.Context, c *Coordinator, instanceID string, a Action, inputs []I) ([]O, error) {
	in := make([]any, len(inputs))
	for i, v := range inputs {
		in[i] = v
	}

	outcomes, execErr := c.FanOut(ctx, instanceID, a, in)
	results := make([]O, len(outcomes))
	errs := []error{execErr}
	for i, out := range outcomes {
		v, err := out.Result()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res, err := Decode[O](v)
		if err != nil {
			errs = append(errs, fmt.Errorf("decode result of %s: %w", out.Identity.Key(), err))
			continue
		}
		results[i] = res
	}
	return results, errors.Join(errs...)
}
