package execution

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Reporting operations, used in logs and metrics.
const (
	opStarted       = "started"
	opAttemptFailed = "attempt_failed"
	opCompleted     = "completed"
	opFailed        = "failed"
)

// reporter delivers state transitions to the engine. Failed deliveries are
// retried on a short constant interval with a bounded number of tries,
// independent of any action's retry policy.
type reporter struct {
	client   EngineClient
	interval time.Duration
	maxTries uint
	logger   zerolog.Logger
	metrics  MetricsRecorder
}

func (r *reporter) send(ctx context.Context, op string, rep Report) error {
	var call func(context.Context, Report) error
	switch op {
	case opStarted:
		call = r.client.ReportStarted
	case opAttemptFailed:
		call = r.client.ReportAttemptFailed
	case opCompleted:
		call = r.client.ReportCompleted
	default:
		call = r.client.ReportFailed
	}

	if rep.Timestamp.IsZero() {
		rep.Timestamp = time.Now()
	}

	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		err := call(ctx, rep)
		if err == nil {
			return struct{}{}, nil
		}
		var already *AlreadyReportedError
		if errors.Is(err, ErrAborted) || errors.As(err, &already) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.interval)),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn().
				Err(err).
				Str("operation", op).
				Str("identity", rep.Identity.Key()).
				Dur("retry_in", next).
				Msg("Engine report failed, retrying")
		}),
	)
	if err == nil {
		return nil
	}

	// Directives from the engine are answers, not delivery failures.
	var already *AlreadyReportedError
	if errors.Is(err, ErrAborted) || errors.As(err, &already) {
		return err
	}

	r.metrics.RecordReportFailure(op)
	r.logger.Error().
		Err(err).
		Str("operation", op).
		Str("identity", rep.Identity.Key()).
		Int("tries", tries).
		Msg("Engine report failed")
	return newReportingFailure(rep.Identity.Key(), op, err)
}
