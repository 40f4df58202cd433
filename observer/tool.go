package observer

import (
	"context"
	"time"

	switchboard "github.com/switchboard-ai/switchboard"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a switchboard.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner switchboard.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner switchboard.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Name() string { return o.inner.Name() }

func (o *ObservedTool) Run(ctx context.Context, actx *switchboard.AgentContext, input []switchboard.Block) ([]switchboard.Block, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.run", trace.WithAttributes(
		AttrToolName.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	output, err := o.inner.Run(ctx, actx, input)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrBlockCount.Int(len(output)),
	)

	o.inst.ToolRuns.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(o.inner.Name()),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool invoked"))
	rec.AddAttributes(
		otellog.String("tool.name", o.inner.Name()),
		otellog.String("tool.status", status),
		otellog.Int("blocks", len(output)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return output, err
}

// compile-time check
var _ switchboard.Tool = (*ObservedTool)(nil)
