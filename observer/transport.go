package observer

import (
	"context"
	"net/http"
	"time"

	switchboard "github.com/switchboard-ai/switchboard"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTransport wraps a switchboard.Transport, tracing deliveries
// and counting parse outcomes.
type ObservedTransport struct {
	inner switchboard.Transport
	inst  *Instruments
}

// WrapTransport returns an instrumented transport.
func WrapTransport(inner switchboard.Transport, inst *Instruments) *ObservedTransport {
	return &ObservedTransport{inner: inner, inst: inst}
}

func (o *ObservedTransport) Name() string { return o.inner.Name() }

func (o *ObservedTransport) ParseInbound(ctx context.Context, payload []byte) switchboard.ParseResult {
	res := o.inner.ParseInbound(ctx, payload)

	outcome := "ok"
	if res.IsNoOp() {
		outcome = "noop"
	} else if _, bad := res.Malformed(); bad {
		outcome = "malformed"
	}
	o.inst.InboundParses.Add(ctx, 1, metric.WithAttributes(
		AttrTransportName.String(o.inner.Name()),
		AttrParseOutcome.String(outcome),
	))
	return res
}

func (o *ObservedTransport) Send(ctx context.Context, blocks []switchboard.Block, meta switchboard.Metadata) error {
	ctx, span := o.inst.Tracer.Start(ctx, "transport.send", trace.WithAttributes(
		AttrTransportName.String(o.inner.Name()),
		AttrBlockCount.Int(len(blocks)),
	))
	defer span.End()
	start := time.Now()

	err := o.inner.Send(ctx, blocks, meta)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.inst.TransportSends.Add(ctx, 1, metric.WithAttributes(
		AttrTransportName.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.SendDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		AttrTransportName.String(o.inner.Name()),
	))
	return err
}

func (o *ObservedTransport) InstanceInit(ctx context.Context) error {
	return o.inner.InstanceInit(ctx)
}

func (o *ObservedTransport) Register(mux *http.ServeMux, svc *switchboard.Service) {
	o.inner.Register(mux, svc)
}

// compile-time check
var _ switchboard.Transport = (*ObservedTransport)(nil)
