// Package retry implements the retry and fallback policy applied to
// non-streaming generation calls.
//
// An operation is attempted up to MaxAttempts times. Only transient
// failures (see api.IsTransient) are retried, with the delay before retry
// n being InitialDelay * 2^(n-1). When the error is permanent or the
// attempts are exhausted, the fallback produces the result instead; without
// a fallback the last error is returned. Cancellation of the context stops
// the loop immediately and is never replaced by a fallback.
//
// Every invocation carries a correlation identifier that is attached to its
// log records, its span and its context.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Defaults used when a Policy field is zero.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	return p
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor applies a Policy. It holds no per-call state and is safe for
// concurrent use.
type Executor struct {
	policy Policy
	sleep  SleepFunc
	newID  func() string
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the wall-clock sleep, for tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithIDGenerator replaces the correlation ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Executor) { e.newID = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor for p.
func New(p Policy, opts ...Option) *Executor {
	e := &Executor{
		policy: p.withDefaults(),
		sleep:  sleepContext,
		newID:  uuid.NewString,
		logger: slog.Default(),
		tracer: observability.Tracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy { return e.policy }

// Operation is one attempt. attempt starts at 1.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Fallback turns the final error into a substitute result.
type Fallback[T any] func(ctx context.Context, err error) T

// Do runs op under e's policy. fallback may be nil.
func Do[T any](ctx context.Context, e *Executor, op Operation[T], fallback Fallback[T]) (T, error) {
	id := CorrelationID(ctx)
	if id == "" {
		id = e.newID()
		ctx = WithCorrelationID(ctx, id)
	}
	log := e.logger.With("correlation_id", id)

	ctx, span := e.tracer.Start(ctx, "retry",
		trace.WithAttributes(
			attribute.String("parley.correlation_id", id),
			attribute.Int("parley.retry.max_attempts", e.policy.MaxAttempts),
		),
	)
	defer span.End()

	delays := newSchedule(e.policy.InitialDelay)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			observability.RetryAttemptsTotal.WithLabelValues("success").Inc()
			span.SetAttributes(attribute.Int("parley.retry.attempts", attempt))
			if attempt > 1 {
				log.Info("operation succeeded after retry", "attempt", attempt)
			}
			return result, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Debug("operation cancelled", "attempt", attempt)
			span.SetAttributes(attribute.Int("parley.retry.attempts", attempt))
			return zero, ctxErr
		}

		if !retryable(err) {
			observability.RetryAttemptsTotal.WithLabelValues("permanent").Inc()
			log.Warn("operation failed permanently", "attempt", attempt, "error", err)
			break
		}
		observability.RetryAttemptsTotal.WithLabelValues("transient").Inc()

		if attempt == e.policy.MaxAttempts {
			log.Warn("retry attempts exhausted", "attempts", attempt, "error", err)
			break
		}

		delay := delays.NextBackOff()
		log.Info("transient failure, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		))
		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())

	if fallback == nil {
		return zero, unwrapPermanent(lastErr)
	}
	log.Warn("producing fallback result", "error", lastErr)
	return fallback(ctx, unwrapPermanent(lastErr)), nil
}

// newSchedule returns a doubling delay generator without jitter.
func newSchedule(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = initial << 16
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// permanentError marks an error as not retryable regardless of its class.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	return api.IsTransient(err)
}

func unwrapPermanent(err error) error {
	var pe *permanentError
	if errors.As(err, &pe) && pe == err {
		return pe.err
	}
	return err
}

type correlationKey struct{}

// WithCorrelationID stores id in ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation identifier stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
