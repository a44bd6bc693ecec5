package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"goa.design/agentcore/runtime/telemetry"
)

func TestNoopImplementationsAreInert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	logger := telemetry.NewNoopLogger()
	logger.Debug(ctx, "debug", "key", "value")
	logger.Info(ctx, "info", "key", "value")
	logger.Warn(ctx, "warn", "key", "value")
	logger.Error(ctx, "error", "key", "value")

	metrics := telemetry.NewNoopMetrics()
	metrics.IncCounter("executions", 1.0, "capability", "file_read")
	metrics.RecordTimer("duration", 100*time.Millisecond)
	metrics.RecordGauge("budget", 42.0)
}

func TestNoopTracerPreservesContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer := telemetry.NewNoopTracer()

	newCtx, span := tracer.Start(ctx, "capability.execute")
	require.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.AddEvent("execute", "capability", "file_read")
	span.SetStatus(codes.Ok, "completed")
	span.RecordError(errors.New("boom"))
	span.End()

	require.NotNil(t, tracer.Span(ctx))
}
