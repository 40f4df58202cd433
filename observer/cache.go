package observer

import (
	"context"

	switchboard "github.com/switchboard-ai/switchboard"

	"go.opentelemetry.io/otel/metric"
)

// ObservedActionCache wraps an ActionCache, counting lookups by outcome.
type ObservedActionCache struct {
	inner switchboard.ActionCache
	inst  *Instruments
}

// WrapActionCache returns an instrumented action cache.
func WrapActionCache(inner switchboard.ActionCache, inst *Instruments) *ObservedActionCache {
	return &ObservedActionCache{inner: inner, inst: inst}
}

func (o *ObservedActionCache) Lookup(ctx context.Context, action *switchboard.Action) ([]switchboard.Block, bool, error) {
	output, ok, err := o.inner.Lookup(ctx, action)
	o.inst.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		AttrCacheName.String("action_cache"),
		AttrCacheOutcome.String(outcome(ok, err)),
	))
	return output, ok, err
}

func (o *ObservedActionCache) Update(ctx context.Context, action *switchboard.Action, output []switchboard.Block) error {
	return o.inner.Update(ctx, action, output)
}

func (o *ObservedActionCache) Enabled() bool { return o.inner.Enabled() }

// ObservedLLMCache wraps an LLMCache, counting lookups by outcome.
type ObservedLLMCache struct {
	inner switchboard.LLMCache
	inst  *Instruments
}

// WrapLLMCache returns an instrumented llm cache.
func WrapLLMCache(inner switchboard.LLMCache, inst *Instruments) *ObservedLLMCache {
	return &ObservedLLMCache{inner: inner, inst: inst}
}

func (o *ObservedLLMCache) Lookup(ctx context.Context, req switchboard.CompletionRequest) ([]switchboard.Block, bool, error) {
	output, ok, err := o.inner.Lookup(ctx, req)
	o.inst.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		AttrCacheName.String("llm_cache"),
		AttrCacheOutcome.String(outcome(ok, err)),
	))
	return output, ok, err
}

func (o *ObservedLLMCache) Update(ctx context.Context, req switchboard.CompletionRequest, output []switchboard.Block) error {
	return o.inner.Update(ctx, req, output)
}

func (o *ObservedLLMCache) Enabled() bool { return o.inner.Enabled() }

func outcome(ok bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case ok:
		return "hit"
	default:
		return "miss"
	}
}

// compile-time checks
var (
	_ switchboard.ActionCache = (*ObservedActionCache)(nil)
	_ switchboard.LLMCache    = (*ObservedLLMCache)(nil)
)
