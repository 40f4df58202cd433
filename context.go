package switchboard

import (
	"context"
)

// EmitFunc delivers agent output somewhere: a transport's send mechanism,
// an in-memory buffer for a synchronous HTTP response, etc. All funcs
// registered on a context are invoked for each emission, in registration
// order.
type EmitFunc func(blocks []Block, meta Metadata)

// Action records one completed tool invocation: which tool ran, with what
// input, producing what output. The ordered list of actions on a context
// is the audit trail for the current execution.
type Action struct {
	Tool   string  `json:"tool"`
	Input  []Block `json:"input"`
	Output []Block `json:"output,omitempty"`
}

// Fingerprint derives the action's deterministic cache key from the tool
// identity and the semantic content of its input blocks. Output never
// contributes to the key.
func (a *Action) Fingerprint() (string, error) {
	return Fingerprint(a.Tool, map[string]any{"input": contentsOf(a.Input)})
}

// AgentContext aggregates everything one agent execution needs: the
// conversation's chat history, the per-conversation caches, a free-form
// metadata bag, the audit trail of completed actions, and the emission
// callbacks that deliver output. It is built once per execution via
// GetOrCreateContext, shared by reference for the duration of the run,
// and discarded afterwards; the durable state (history, cache entries)
// outlives it.
type AgentContext struct {
	// ChatHistory is the conversation's persistent message log.
	ChatHistory *ChatHistory
	// ActionCache memoizes tool results. Never nil: a disabled variant
	// stands in when caching is off.
	ActionCache ActionCache
	// LLMCache memoizes model completions. Never nil, as above.
	LLMCache LLMCache
	// Metadata is free-form storage for agents and tools.
	Metadata Metadata
	// CompletedSteps records tool invocations in execution order.
	CompletedSteps []*Action

	emitFuncs []EmitFunc
}

// ContextOption configures GetOrCreateContext.
type ContextOption func(*contextConfig)

type contextConfig struct {
	tags        []Tag
	searchable  bool
	actionCache bool
	llmCache    bool
	metadata    Metadata
}

// WithTags attaches tags to the conversation log on first creation.
func WithTags(tags ...Tag) ContextOption {
	return func(c *contextConfig) { c.tags = append(c.tags, tags...) }
}

// WithSearchable marks the conversation log as searchable in the store.
func WithSearchable(searchable bool) ContextOption {
	return func(c *contextConfig) { c.searchable = searchable }
}

// WithActionCache enables tool-result memoization for the context.
func WithActionCache() ContextOption {
	return func(c *contextConfig) { c.actionCache = true }
}

// WithLLMCache enables model-completion memoization for the context.
func WithLLMCache() ContextOption {
	return func(c *contextConfig) { c.llmCache = true }
}

// WithMetadata seeds the context metadata bag.
func WithMetadata(meta Metadata) ContextOption {
	return func(c *contextConfig) { c.metadata = meta }
}

// GetOrCreateContext assembles the AgentContext for a conversation:
// chat history resolved for the context keys, caches resolved when
// enabled (disabled variants otherwise), empty metadata, steps, and
// emission lists. Purely a resolution/aggregation step: it never mutates
// history or cache contents.
func GetOrCreateContext(ctx context.Context, store Store, keys ContextKeys, opts ...ContextOption) (*AgentContext, error) {
	cfg := contextConfig{searchable: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	history, err := GetOrCreateChatHistory(ctx, store, keys, cfg.tags, cfg.searchable)
	if err != nil {
		return nil, err
	}

	ac := &AgentContext{
		ChatHistory: history,
		ActionCache: DisabledActionCache(),
		LLMCache:    DisabledLLMCache(),
		Metadata:    Metadata{},
	}
	if cfg.metadata != nil {
		ac.Metadata = cfg.metadata
	}

	if cfg.actionCache {
		cache, err := GetOrCreateActionCache(ctx, store, keys)
		if err != nil {
			return nil, err
		}
		ac.ActionCache = cache
	}
	if cfg.llmCache {
		cache, err := GetOrCreateLLMCache(ctx, store, keys)
		if err != nil {
			return nil, err
		}
		ac.LLMCache = cache
	}

	return ac, nil
}

// ID returns the context identity: the stable ID of the underlying
// conversation log.
func (c *AgentContext) ID() string { return c.ChatHistory.ID() }

// OnEmit registers an emission callback. Callbacks fire in registration
// order on every Emit.
func (c *AgentContext) OnEmit(fn EmitFunc) {
	c.emitFuncs = append(c.emitFuncs, fn)
}

// ResetEmit drops all registered callbacks. Transports use this to claim
// exclusive delivery of a run's output.
func (c *AgentContext) ResetEmit(fns ...EmitFunc) {
	c.emitFuncs = append(c.emitFuncs[:0:0], fns...)
}

// Emit invokes every registered callback with the given blocks and
// metadata, in registration order.
func (c *AgentContext) Emit(blocks []Block, meta Metadata) {
	for _, fn := range c.emitFuncs {
		fn(blocks, meta)
	}
}

// RecordStep appends a completed action to the execution audit trail.
func (c *AgentContext) RecordStep(a *Action) {
	c.CompletedSteps = append(c.CompletedSteps, a)
}
