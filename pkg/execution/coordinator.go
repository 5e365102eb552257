package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/endure/endure-sdk-go/pkg/backoff"
)

// Reporting defaults.
const (
	DefaultReportInterval = 200 * time.Millisecond
	DefaultReportMaxTries = 3
)

// DefaultAbortedCapacity bounds how many aborted workflow instances are
// remembered. The least recently aborted instance is forgotten first.
const DefaultAbortedCapacity = 1024

// Request asks the coordinator to execute one action identity.
type Request struct {
	Identity Identity
	Fn       Func
	Input    any
	Policy   backoff.Policy
}

// Validate checks the request can be executed.
func (r Request) Validate() error {
	if err := r.Identity.Validate(); err != nil {
		return err
	}
	if r.Fn == nil {
		return fmt.Errorf("%w: %s has no action function", ErrInvalidRequest, r.Identity.Key())
	}
	if err := r.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRequest, r.Identity.Key(), err)
	}
	return nil
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer sets the tracer used for execution and attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithStore persists terminal outcomes in a durable completion store.
func WithStore(s CompletionStore) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithReporting sets the constant retry interval and the maximum number of
// tries for engine reports.
func WithReporting(interval time.Duration, maxTries uint) Option {
	return func(c *Coordinator) {
		if interval > 0 {
			c.reportInterval = interval
		}
		if maxTries > 0 {
			c.reportTries = maxTries
		}
	}
}

// WithCacheCapacity bounds the number of acknowledged records kept in memory.
func WithCacheCapacity(n int) Option {
	return func(c *Coordinator) { c.cacheCapacity = n }
}

// WithAbortedCapacity bounds how many aborted instances are remembered.
func WithAbortedCapacity(n int) Option {
	return func(c *Coordinator) { c.abortedCapacity = n }
}

// WithFanOutLimit bounds how many fan-out elements run concurrently. Zero
// means unbounded.
func WithFanOutLimit(n int) Option {
	return func(c *Coordinator) { c.fanOutLimit = n }
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Coordinator) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// Coordinator runs actions through their retry policy, reports every state
// transition to the engine and suppresses duplicate executions of the same
// identity.
type Coordinator struct {
	client    EngineClient
	reporter  *reporter
	scheduler *Scheduler
	cache     *CompletionCache
	flight    singleflight.Group

	logger  zerolog.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
	store   CompletionStore
	sleep   SleepFunc

	reportInterval time.Duration
	reportTries    uint
	cacheCapacity  int
	fanOutLimit    int

	abortedCapacity int

	mu      sync.Mutex
	running map[string]map[uint64]context.CancelCauseFunc
	aborted *lru.Cache
	nextID  uint64
}

// NewCoordinator creates a coordinator reporting to client.
func NewCoordinator(client EngineClient, opts ...Option) (*Coordinator, error) {
	if client == nil {
		return nil, fmt.Errorf("engine client is required")
	}

	c := &Coordinator{
		client:         client,
		logger:         zerolog.Nop(),
		metrics:        nopMetrics{},
		tracer:         noop.NewTracerProvider().Tracer("endure/execution"),
		sleep:          sleepContext,
		reportInterval: DefaultReportInterval,
		reportTries:    DefaultReportMaxTries,
		cacheCapacity:  DefaultAcknowledgedCapacity,
		running:        make(map[string]map[uint64]context.CancelCauseFunc),

		abortedCapacity: DefaultAbortedCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.abortedCapacity <= 0 {
		c.abortedCapacity = DefaultAbortedCapacity
	}
	aborted, err := lru.New(c.abortedCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create aborted instance set: %w", err)
	}
	c.aborted = aborted

	cache, err := NewCompletionCache(c.cacheCapacity, c.store, c.logger)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	c.scheduler = &Scheduler{invoker: NewInvoker(), sleep: c.sleep}
	c.reporter = &reporter{
		client:   client,
		interval: c.reportInterval,
		maxTries: c.reportTries,
		logger:   c.logger,
		metrics:  c.metrics,
	}

	return c, nil
}

// Execute runs the action named by req.Identity unless a terminal outcome
// for that identity already exists, in which case the recorded outcome is
// returned without invoking req.Fn.
//
// The outcome is always returned. The error is non-nil only when the
// request is invalid, the completion store failed, or the engine could not
// be told about a state transition; in the latter case the outcome is
// still the one the action produced.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return Outcome{Identity: req.Identity}, err
	}
	key := req.Identity.Key()

	if out, ok, err := c.lookup(ctx, key); err != nil || ok {
		return out, err
	}

	// Concurrent duplicates wait for the leader's outcome. A leader that was
	// cancelled leaves no terminal outcome, so a duplicate whose own context
	// is live and whose instance is not aborted takes over.
	for {
		leader := false
		v, _, _ := c.flight.Do(key, func() (any, error) {
			leader = true
			out, err := c.execute(ctx, req)
			return flightResult{out: out, err: err}, nil
		})

		fr := v.(flightResult)
		if leader {
			return fr.out, fr.err
		}
		if fr.out.Status == StatusCancelled {
			if ctx.Err() == nil && !c.isAborted(req.Identity.WorkflowInstanceID) {
				c.logger.Debug().Str("identity", key).Msg("In-flight execution was cancelled, taking over")
				continue
			}
			return fr.out, nil
		}
		c.metrics.RecordDuplicate(metricName(req.Identity))
		c.logger.Debug().Str("identity", key).Msg("Joined in-flight execution")
		return fr.out.cached(), nil
	}
}

type flightResult struct {
	out Outcome
	err error
}

// Lookup returns the terminal outcome recorded for identity, if any.
func (c *Coordinator) Lookup(ctx context.Context, identity Identity) (Outcome, bool, error) {
	rec, ok, err := c.cache.Lookup(ctx, identity.Key())
	if err != nil || !ok {
		return Outcome{}, false, err
	}
	out, ok := rec.Outcome()
	return out, ok, nil
}

// Pinned returns the number of terminal outcomes the engine has not
// acknowledged yet.
func (c *Coordinator) Pinned() int {
	return c.cache.Pinned()
}

func (c *Coordinator) lookup(ctx context.Context, key string) (Outcome, bool, error) {
	rec, ok, err := c.cache.Lookup(ctx, key)
	if err != nil {
		return Outcome{}, false, err
	}
	if !ok {
		return Outcome{}, false, nil
	}
	out, ok := rec.Outcome()
	if !ok {
		return Outcome{}, false, nil
	}
	c.metrics.RecordDuplicate(metricName(out.Identity))
	c.logger.Debug().Str("identity", key).Str("status", string(out.Status)).Msg("Serving cached outcome")
	return out.cached(), true, nil
}

func (c *Coordinator) execute(parent context.Context, req Request) (Outcome, error) {
	id := req.Identity
	key := id.Key()
	logger := c.logger.With().Str("execution_id", id.WorkflowInstanceID).Str("action", id.Name()).Logger()

	// A previous flight may have finished between the lookup and this one.
	if out, ok, err := c.lookup(parent, key); err != nil || ok {
		return out, err
	}

	ctx, span := c.tracer.Start(parent, "execution.execute", trace.WithAttributes(
		attribute.String("endure.execution_id", id.WorkflowInstanceID),
		attribute.String("endure.action", id.Name()),
		attribute.String("endure.retry_mechanism", string(req.Policy.Mechanism)),
		attribute.Int("endure.max_retries", req.Policy.MaxRetries),
	))
	defer span.End()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	untrack := c.track(id.WorkflowInstanceID, cancel)
	defer untrack()

	started := time.Now()
	rec := newRecord(id, req.Policy)
	if err := rec.start(ctx); err != nil {
		return Outcome{Identity: id}, err
	}

	// Cancelled, or the instance aborted, before this execution began.
	if ctx.Err() != nil {
		out := Outcome{
			Identity:    id,
			Status:      StatusCancelled,
			Err:         context.Cause(ctx),
			CompletedAt: time.Now(),
		}
		if err := rec.finish(ctx, out, false); err != nil {
			return out, err
		}
		c.metrics.RecordOutcome(metricName(id), string(out.Status), time.Since(started))
		span.SetStatus(codes.Error, "cancelled")
		logger.Info().Err(out.Err).Msg("Action cancelled before it started")
		return out, nil
	}

	var reportErrs []error
	rctx := context.WithoutCancel(ctx)

	err := c.reporter.send(rctx, opStarted, Report{
		Identity:  id,
		Input:     req.Input,
		Policy:    req.Policy,
		Timestamp: started,
	})
	var already *AlreadyReportedError
	switch {
	case err == nil:
	case errors.As(err, &already):
		return c.adopt(ctx, rec, already, logger)
	case errors.Is(err, ErrAborted):
		c.Abort(id.WorkflowInstanceID, "engine rejected started report")
	default:
		reportErrs = append(reportErrs, err)
	}

	logger.Debug().Int("max_attempts", req.Policy.MaxAttempts()).Msg("Executing action")

	hook := func(a AttemptRecord, next time.Duration) {
		rec.appendAttempt(a)
		c.metrics.RecordAttempt(metricName(id), a.Succeeded(), a.Duration())
		c.traceAttempt(ctx, a)

		if a.Succeeded() {
			return
		}
		logger.Warn().Err(a.Err).Int("attempt", a.Attempt).Dur("next_delay", next).Msg("Attempt failed")
		if next > 0 {
			c.metrics.RecordBackoff(metricName(id), string(req.Policy.Mechanism), next)
		}

		err := c.reporter.send(rctx, opAttemptFailed, Report{
			Identity:  id,
			Policy:    req.Policy,
			Attempt:   a.Attempt,
			Err:       a.Err,
			Timestamp: a.EndedAt,
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrAborted):
			c.Abort(id.WorkflowInstanceID, "engine rejected attempt report")
		case errors.As(err, new(*AlreadyReportedError)):
		default:
			reportErrs = append(reportErrs, err)
		}
	}

	res := c.scheduler.Run(ctx, key, req.Fn, req.Input, req.Policy, hook)

	out := Outcome{
		Identity:    id,
		Value:       res.Value,
		Err:         res.Err,
		Attempts:    len(res.Attempts),
		CompletedAt: time.Now(),
	}
	switch res.State {
	case StateSucceeded:
		out.Status = StatusSucceeded
	case StateExhausted:
		out.Status = StatusExhausted
	default:
		out.Status = StatusCancelled
	}

	if err := rec.finish(ctx, out, false); err != nil {
		return out, errors.Join(append(reportErrs, err)...)
	}
	c.metrics.RecordOutcome(metricName(id), string(out.Status), time.Since(started))
	span.SetAttributes(attribute.String("endure.status", string(out.Status)), attribute.Int("endure.attempts", out.Attempts))

	if out.Status == StatusCancelled {
		span.SetStatus(codes.Error, "cancelled")
		logger.Info().Err(out.Err).Int("attempts", out.Attempts).Msg("Action cancelled")
		return out, errors.Join(reportErrs...)
	}

	winner, err := c.cache.Put(ctx, rec)
	if err != nil {
		reportErrs = append(reportErrs, err)
	}
	if winner != rec {
		won, _ := winner.Outcome()
		logger.Warn().Msg("Another writer recorded this action first")
		return won.cached(), errors.Join(reportErrs...)
	}

	if out.Status == StatusExhausted {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, "retry exhausted")
		logger.Error().Err(out.Err).Int("attempts", out.Attempts).Msg("Action exhausted its retries")
	} else {
		logger.Info().Int("attempts", out.Attempts).Msg("Action succeeded")
	}

	if err := c.reportTerminal(rctx, rec, out); err != nil {
		reportErrs = append(reportErrs, err)
	}
	c.metrics.SetPinnedRecords(c.cache.Pinned())

	return out, errors.Join(reportErrs...)
}

// adopt turns the engine's already-recorded output into the terminal
// outcome of rec without running the action.
func (c *Coordinator) adopt(ctx context.Context, rec *Record, already *AlreadyReportedError, logger zerolog.Logger) (Outcome, error) {
	out := Outcome{
		Identity:    rec.Identity,
		Status:      StatusSucceeded,
		CompletedAt: time.Now(),
	}
	if len(already.Output) > 0 {
		out.Value = already.Output
	}
	if err := rec.finish(ctx, out, true); err != nil {
		return out, err
	}

	winner, err := c.cache.Put(ctx, rec)
	if err == nil && winner == rec {
		_, err = c.cache.Acknowledge(ctx, rec.Identity.Key())
	}
	if winner != nil && winner != rec {
		out, _ = winner.Outcome()
	}
	c.metrics.RecordDuplicate(metricName(rec.Identity))
	c.metrics.SetPinnedRecords(c.cache.Pinned())
	logger.Info().Msg("Engine already holds a result, adopting it")
	return out.cached(), err
}

// reportTerminal delivers the terminal outcome of rec. A delivered report
// is the engine's acknowledgment and makes the record evictable.
func (c *Coordinator) reportTerminal(ctx context.Context, rec *Record, out Outcome) error {
	rep := Report{
		Identity:  rec.Identity,
		Policy:    rec.Policy,
		Attempt:   out.Attempts,
		Timestamp: out.CompletedAt,
	}
	op := opCompleted
	if out.Status == StatusSucceeded {
		rep.Output = out.Value
	} else {
		op = opFailed
		rep.Err = out.Err
	}

	err := c.reporter.send(ctx, op, rep)
	if errors.Is(err, ErrAborted) {
		// The outcome stands; only siblings still running are affected.
		c.Abort(rec.Identity.WorkflowInstanceID, "engine rejected terminal report")
		return nil
	}
	if err != nil && !errors.As(err, new(*AlreadyReportedError)) {
		return err
	}

	if _, err := c.cache.Acknowledge(ctx, rec.Identity.Key()); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) traceAttempt(ctx context.Context, a AttemptRecord) {
	_, span := c.tracer.Start(ctx, "execution.attempt",
		trace.WithTimestamp(a.StartedAt),
		trace.WithAttributes(attribute.Int("endure.attempt", a.Attempt)),
	)
	if a.Err != nil {
		span.RecordError(a.Err)
		span.SetStatus(codes.Error, "attempt failed")
	}
	span.End(trace.WithTimestamp(a.EndedAt))
}

// track registers cancel under the workflow instance so Abort can reach it.
// An instance that was already aborted is cancelled immediately.
func (c *Coordinator) track(instanceID string, cancel context.CancelCauseFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cause, ok := c.aborted.Get(instanceID); ok {
		cancel(cause.(error))
	}

	c.nextID++
	n := c.nextID
	if c.running[instanceID] == nil {
		c.running[instanceID] = make(map[uint64]context.CancelCauseFunc)
	}
	c.running[instanceID][n] = cancel

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.running[instanceID], n)
		if len(c.running[instanceID]) == 0 {
			delete(c.running, instanceID)
		}
	}
}

// Abort cancels every in-flight execution of a workflow instance and every
// execution started for it afterwards, until Resume is called or the
// instance falls out of the bounded aborted set. Attempts already running
// finish; no further attempt starts.
func (c *Coordinator) Abort(instanceID, reason string) int {
	cause := fmt.Errorf("%w: %s", ErrAborted, instanceID)
	if reason != "" {
		cause = fmt.Errorf("%w: %s: %s", ErrAborted, instanceID, reason)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.aborted.Contains(instanceID) {
		c.logger.Warn().Str("execution_id", instanceID).Str("reason", reason).Msg("Aborting workflow instance")
	}
	c.aborted.Add(instanceID, cause)
	for _, cancel := range c.running[instanceID] {
		cancel(cause)
	}
	return len(c.running[instanceID])
}

// Resume lifts an abort so new executions of the instance run again.
func (c *Coordinator) Resume(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted.Remove(instanceID)
}

func (c *Coordinator) isAborted(instanceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted.Contains(instanceID)
}

// InFlight returns the number of executions of instanceID currently running.
func (c *Coordinator) InFlight(instanceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running[instanceID])
}

func metricName(id Identity) string {
	if id.BaseName != "" {
		return id.BaseName
	}
	return id.Name()
}
