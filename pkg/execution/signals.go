package execution

import (
	"context"
	"fmt"
)

// HandleSignal applies one engine directive.
//
// An abort cancels the workflow instance. A redelivery is treated as a
// duplicate invocation: when the identity is terminal its outcome is
// reported again without running the action; otherwise it is ignored. An
// acknowledgment makes the identity's terminal record evictable.
func (c *Coordinator) HandleSignal(ctx context.Context, sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}

	switch sig.Kind {
	case SignalAbort:
		n := c.Abort(sig.WorkflowInstanceID, sig.Reason)
		c.logger.Info().Str("execution_id", sig.WorkflowInstanceID).Int("in_flight", n).Msg("Abort signal applied")
		return nil

	case SignalRedeliver:
		key := sig.Identity.Key()
		rec, ok, err := c.cache.Lookup(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			c.logger.Debug().Str("identity", key).Msg("Redelivery for unknown or in-flight action ignored")
			return nil
		}
		out, _ := rec.Outcome()
		c.metrics.RecordDuplicate(metricName(out.Identity))
		if rec.Acknowledged() {
			c.logger.Debug().Str("identity", key).Msg("Redelivery for acknowledged action ignored")
			return nil
		}
		return c.reportTerminal(context.WithoutCancel(ctx), rec, out)

	case SignalAcknowledge:
		found, err := c.cache.Acknowledge(ctx, sig.Identity.Key())
		if err != nil {
			return err
		}
		if !found {
			c.logger.Debug().Str("identity", sig.Identity.Key()).Msg("Acknowledgment for unknown action ignored")
		}
		c.metrics.SetPinnedRecords(c.cache.Pinned())
		return nil
	}

	return fmt.Errorf("%w: unknown signal kind %q", ErrInvalidRequest, sig.Kind)
}

// Listen applies signals until the channel is closed or ctx is done, in
// which case ctx.Err() is returned. A signal that cannot be applied is
// logged and does not stop the loop.
func (c *Coordinator) Listen(ctx context.Context, signals <-chan Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if err := c.HandleSignal(ctx, sig); err != nil {
				c.logger.Error().Err(err).Str("signal", string(sig.Kind)).Msg("Failed to apply signal")
			}
		}
	}
}
