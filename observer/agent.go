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

// ObservedAgent wraps any Agent to emit OTEL lifecycle spans, metrics,
// and logs. The wrapper creates a parent span for each Run call that
// contains all inner operations (tool invocations, cache lookups) as
// child spans via context propagation.
type ObservedAgent struct {
	inner switchboard.Agent
	inst  *Instruments
}

// WrapAgent returns an instrumented Agent that emits lifecycle telemetry.
func WrapAgent(inner switchboard.Agent, inst *Instruments) *ObservedAgent {
	return &ObservedAgent{inner: inner, inst: inst}
}

func (o *ObservedAgent) Name() string { return o.inner.Name() }

// Run wraps the inner agent's Run, emitting an agent.run span that
// serves as the parent for all inner operations.
func (o *ObservedAgent) Run(ctx context.Context, actx *switchboard.AgentContext) ([]switchboard.Block, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "agent.run", trace.WithAttributes(
		AttrAgentName.String(o.inner.Name()),
		AttrConversationID.String(actx.ID()),
	))
	defer span.End()
	start := time.Now()

	span.AddEvent("agent.started")

	blocks, err := o.inner.Run(ctx, actx)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"

	if ctx.Err() != nil && err != nil {
		status = "cancelled"
		span.AddEvent("agent.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	} else if err != nil {
		status = "error"
		span.AddEvent("agent.failed", trace.WithAttributes(
			attribute.String("error", err.Error()),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.AddEvent("agent.completed")
	}

	span.SetAttributes(
		AttrAgentStatus.String(status),
		AttrBlockCount.Int(len(blocks)),
	)

	// Metrics
	o.inst.AgentRuns.Add(ctx, 1, metric.WithAttributes(
		AttrAgentName.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.AgentDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrAgentName.String(o.inner.Name()),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("agent run completed"))
	rec.AddAttributes(
		otellog.String("agent.name", o.inner.Name()),
		otellog.String("agent.status", status),
		otellog.String("conversation.id", actx.ID()),
		otellog.Int("steps.completed", len(actx.CompletedSteps)),
		otellog.Int("blocks", len(blocks)),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return blocks, err
}

// compile-time check
var _ switchboard.Agent = (*ObservedAgent)(nil)
