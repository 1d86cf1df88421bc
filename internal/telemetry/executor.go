package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used by InstrumentedExecutor.
const (
	CommandAttribute attribute.Key = "labcmd.command"
	ErrorAttribute   attribute.Key = "error"
)

// InstrumentedExecutor wraps a sdk.CommandExecutor with a span, a duration
// histogram and an execution counter per command.
type InstrumentedExecutor struct {
	next   sdk.CommandExecutor
	tracer trace.Tracer

	duration metric.Float64Histogram
	count    metric.Int64Counter
}

func NewInstrumentedExecutor(next sdk.CommandExecutor, opts ...Option) (*InstrumentedExecutor, error) {
	cfg := newConfig(opts...)
	meter := cfg.meter()

	ie := &InstrumentedExecutor{next: next, tracer: cfg.tracer()}

	var err error
	if ie.duration, err = meter.Float64Histogram(
		"labcmd.command.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration in milliseconds of command executions."),
	); err != nil {
		return nil, fmt.Errorf("telemetry: failed to register metric: %w", err)
	}
	if ie.count, err = meter.Int64Counter(
		"labcmd.command.count",
		metric.WithDescription("Count of command executions."),
	); err != nil {
		return nil, fmt.Errorf("telemetry: failed to register metric: %w", err)
	}
	return ie, nil
}

// Execute runs the wrapped executor. Its result and error are returned
// unchanged.
func (ie *InstrumentedExecutor) Execute(ctx context.Context, name string, args any) (result any, err error) {
	ctx, span := ie.tracer.Start(ctx, "command.Execute",
		trace.WithAttributes(CommandAttribute.String(name)))
	start := time.Now()

	defer func() {
		attrs := metric.WithAttributes(CommandAttribute.String(name), ErrorAttribute.Bool(err != nil))
		ie.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
		ie.count.Add(ctx, 1, attrs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return ie.next.Execute(ctx, name, args)
}
