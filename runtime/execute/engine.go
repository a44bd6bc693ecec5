// Package execute orchestrates single capability invocations: validation,
// rollback-point capture, execution, compensating rollback on failure, and
// bounded retry with exponential backoff.
package execute

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/codes"

	"goa.design/agentcore/runtime/capability"
	"goa.design/agentcore/runtime/telemetry"
)

type (
	// BackoffConfig shapes the retry schedule. The base schedule doubles per
	// attempt (BaseDelay * 2^attempt); MaxDelay caps it and Jitter spreads
	// concurrent retries.
	BackoffConfig struct {
		// BaseDelay is the unit delay the exponential schedule multiplies.
		BaseDelay time.Duration
		// MaxDelay caps the computed delay. Zero means no cap.
		MaxDelay time.Duration
		// Jitter adds up to the given fraction of randomness to each delay.
		// A value of 0.1 adds up to 10% jitter.
		Jitter float64
	}

	// Engine runs capability invocations. It holds no per-invocation state;
	// history and rollback points live on the capability instance, so one
	// engine serves many concurrent invocations.
	Engine struct {
		backoff BackoffConfig
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
	}

	// Option configures an Engine.
	Option func(*Engine)

	// ExhaustedError is returned when every retry attempt failed. It wraps
	// the final attempt's error so errors.Is and errors.As see the true
	// failure reason.
	ExhaustedError struct {
		// Capability is the identifier of the capability that failed.
		Capability capability.ID
		// Attempts is the number of attempts made.
		Attempts int
		// TotalDuration is the wall-clock time spent across attempts and
		// backoff sleeps.
		TotalDuration time.Duration
		// LastError is the error from the final attempt.
		LastError error
	}
)

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("capability %s: retries exhausted after %d attempts over %v: %v",
		e.Capability, e.Attempts, e.TotalDuration, e.LastError)
}

// Unwrap returns the final attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// DefaultBackoff returns the standard schedule: one-second base doubling per
// attempt, capped at a minute, with 10% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
		Jitter:    0.1,
	}
}

// WithBackoff overrides the retry schedule. Tests use millisecond bases.
func WithBackoff(cfg BackoffConfig) Option {
	return func(e *Engine) { e.backoff = cfg }
}

// WithLogger sets the logger used for rollback diagnostics.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used to span executions.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine constructs an execution engine. Telemetry collaborators default
// to noop implementations.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		backoff: DefaultBackoff(),
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteWithRollback runs one execution attempt with compensating rollback.
// When the capability supports rollback, a point is captured and pushed
// before executing. On success the result is recorded in the instance history
// and returned. On failure the engine records the failure, attempts rollback
// with the captured point exactly once, and re-raises the original execution
// error; rollback failures are logged, never propagated, so they cannot mask
// the true failure reason.
func (e *Engine) ExecuteWithRollback(ctx context.Context, inst *capability.Instance, params map[string]any) (*capability.Result, error) {
	meta := inst.Metadata()
	ctx, span := e.tracer.Start(ctx, "capability.execute")
	defer span.End()
	span.AddEvent("execute", "capability", string(meta.ID))

	point, err := inst.CreateRollbackPoint(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rollback point capture failed")
		return nil, err
	}
	if point != nil {
		inst.PushRollbackPoint(point)
	}

	start := time.Now()
	res, err := e.executeOnce(ctx, inst, meta, params)
	e.metrics.RecordTimer("capability_execution_duration", time.Since(start), "capability", string(meta.ID))
	if err == nil {
		inst.RecordSuccess(params, res)
		e.metrics.IncCounter("capability_executions", 1, "capability", string(meta.ID), "status", "success")
		span.SetStatus(codes.Ok, "completed")
		return res, nil
	}

	inst.RecordFailure(params, err)
	e.metrics.IncCounter("capability_executions", 1, "capability", string(meta.ID), "status", "failure")
	span.RecordError(err)
	span.SetStatus(codes.Error, "execution failed")

	if point != nil {
		// Consume the point pushed above. The original error surfaces even
		// when the compensating rollback itself fails.
		rollbackPoint := inst.PopRollbackPoint()
		if _, rbErr := inst.Rollback(ctx, rollbackPoint); rbErr != nil {
			e.logger.Error(ctx, "rollback failed after execution error",
				"capability", string(meta.ID), "rollback_point", rollbackPoint.ID, "err", rbErr)
			e.metrics.IncCounter("capability_rollbacks", 1, "capability", string(meta.ID), "status", "failure")
		} else {
			e.logger.Info(ctx, "rolled back failed execution",
				"capability", string(meta.ID), "rollback_point", rollbackPoint.ID)
			e.metrics.IncCounter("capability_rollbacks", 1, "capability", string(meta.ID), "status", "success")
		}
	}
	return nil, err
}

// ExecuteWithRetry runs up to the capability's declared MaxRetries attempts,
// each delegating to ExecuteWithRollback. A fresh rollback point is captured
// per attempt; attempts never share points. Between attempts the engine
// sleeps the exponential schedule (2^attempt units), cancellable through ctx.
// Non-retryable capabilities get a single attempt. When every attempt fails,
// the returned ExhaustedError wraps the final attempt's error.
func (e *Engine) ExecuteWithRetry(ctx context.Context, inst *capability.Instance, params map[string]any) (*capability.Result, error) {
	meta := inst.Metadata()
	maxAttempts := meta.Constraints.MaxRetries
	if maxAttempts < 1 || !meta.Constraints.Retryable {
		maxAttempts = 1
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := e.ExecuteWithRollback(ctx, inst, params)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt >= maxAttempts {
			break
		}
		e.metrics.IncCounter("capability_retries", 1, "capability", string(meta.ID))
		e.logger.Warn(ctx, "execution failed, retrying",
			"capability", string(meta.ID), "attempt", attempt, "max_attempts", maxAttempts, "err", err)
		if err := e.sleep(ctx, e.delay(attempt)); err != nil {
			return nil, err
		}
	}
	if maxAttempts == 1 {
		return nil, lastErr
	}
	return nil, &ExhaustedError{
		Capability:    meta.ID,
		Attempts:      maxAttempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}

// executeOnce applies the capability's declared timeout and runs Execute.
func (e *Engine) executeOnce(ctx context.Context, inst *capability.Instance, meta capability.Metadata, params map[string]any) (*capability.Result, error) {
	if t := meta.Constraints.Timeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return inst.Execute(ctx, params)
}

// delay computes the backoff before the next attempt: base * 2^attempt,
// capped, with jitter.
func (e *Engine) delay(attempt int) time.Duration {
	base := e.backoff.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	if max := float64(e.backoff.MaxDelay); max > 0 && d > max {
		d = max
	}
	if e.backoff.Jitter > 0 {
		d += d * e.backoff.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter doesn't need crypto rand
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is done, whichever comes first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
