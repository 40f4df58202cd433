package switchboard

import (
	"context"
	"encoding/json"
	"fmt"
)

// Cache store names. Entries live side by side in the same backing store,
// partitioned by name and conversation scope.
const (
	actionCacheName = "action_cache"
	llmCacheName    = "llm_cache"
)

// ActionCache memoizes tool invocation results within one conversation.
// For a fixed fingerprint the underlying tool is invoked at most once:
// the first caller computes and stores, later identical requests read the
// cache. A disabled cache (see DisabledActionCache) always misses and
// never stores.
type ActionCache interface {
	// Lookup returns the cached output for the action, or ok=false on a
	// miss. Never invokes the underlying tool.
	Lookup(ctx context.Context, action *Action) ([]Block, bool, error)
	// Update stores the output for future lookups. Overwrites silently
	// if the fingerprint already exists.
	Update(ctx context.Context, action *Action, output []Block) error
	// Enabled reports whether lookups can ever hit.
	Enabled() bool
}

// LLMCache memoizes language-model completion results within one
// conversation, under the same contract as ActionCache.
type LLMCache interface {
	Lookup(ctx context.Context, req CompletionRequest) ([]Block, bool, error)
	Update(ctx context.Context, req CompletionRequest, output []Block) error
	Enabled() bool
}

// CompletionRequest identifies one language-model call for caching
// purposes: the model plus the normalized prompt content.
type CompletionRequest struct {
	Model    string         `json:"model"`
	Messages []Block        `json:"messages"`
	Options  map[string]any `json:"options,omitempty"`
}

// Fingerprint derives the deterministic cache key for the request.
func (r CompletionRequest) Fingerprint() (string, error) {
	return Fingerprint(r.Model, map[string]any{
		"messages": contentsOf(r.Messages),
		"options":  r.Options,
	})
}

// GetOrCreateActionCache resolves the action cache for a conversation.
// The scope is the conversation's persistent log ID, so identical
// fingerprints in different conversations never share entries. Idempotent;
// resolution creates no cache entries.
func GetOrCreateActionCache(ctx context.Context, store Store, keys ContextKeys) (ActionCache, error) {
	scope, err := cacheScope(ctx, store, keys)
	if err != nil {
		return nil, err
	}
	return &actionCache{resultCache{store: store, name: actionCacheName, scope: scope}}, nil
}

// GetOrCreateLLMCache resolves the llm cache for a conversation, under
// the same contract as GetOrCreateActionCache.
func GetOrCreateLLMCache(ctx context.Context, store Store, keys ContextKeys) (LLMCache, error) {
	scope, err := cacheScope(ctx, store, keys)
	if err != nil {
		return nil, err
	}
	return &llmCache{resultCache{store: store, name: llmCacheName, scope: scope}}, nil
}

// DisabledActionCache returns the always-miss, never-store variant used
// when caching is off for a context.
func DisabledActionCache() ActionCache { return disabledActionCache{} }

// DisabledLLMCache returns the always-miss, never-store variant used
// when caching is off for a context.
func DisabledLLMCache() LLMCache { return disabledLLMCache{} }

func cacheScope(ctx context.Context, store Store, keys ContextKeys) (string, error) {
	log, err := store.GetOrCreateLog(ctx, keys.Key(), nil, false)
	if err != nil {
		return "", fmt.Errorf("resolve cache scope: %w", err)
	}
	return log.ID, nil
}

// resultCache is the shared persistence layer beneath both cache kinds:
// fingerprint -> JSON-encoded block list in one (name, scope) partition.
type resultCache struct {
	store Store
	name  string
	scope string
}

func (c *resultCache) lookup(ctx context.Context, fingerprint string) ([]Block, bool, error) {
	raw, ok, err := c.store.CacheGet(ctx, c.name, c.scope, fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var blocks []Block
	if err := json.Unmarshal([]byte(raw), &blocks); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	return blocks, true, nil
}

func (c *resultCache) update(ctx context.Context, fingerprint string, output []Block) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encode cache result: %w", err)
	}
	if err := c.store.CachePut(ctx, c.name, c.scope, fingerprint, string(data)); err != nil {
		return fmt.Errorf("cache update: %w", err)
	}
	return nil
}

type actionCache struct {
	resultCache
}

func (c *actionCache) Lookup(ctx context.Context, action *Action) ([]Block, bool, error) {
	fp, err := action.Fingerprint()
	if err != nil {
		return nil, false, err
	}
	return c.lookup(ctx, fp)
}

func (c *actionCache) Update(ctx context.Context, action *Action, output []Block) error {
	fp, err := action.Fingerprint()
	if err != nil {
		return err
	}
	return c.update(ctx, fp, output)
}

func (c *actionCache) Enabled() bool { return true }

type llmCache struct {
	resultCache
}

func (c *llmCache) Lookup(ctx context.Context, req CompletionRequest) ([]Block, bool, error) {
	fp, err := req.Fingerprint()
	if err != nil {
		return nil, false, err
	}
	return c.lookup(ctx, fp)
}

func (c *llmCache) Update(ctx context.Context, req CompletionRequest, output []Block) error {
	fp, err := req.Fingerprint()
	if err != nil {
		return err
	}
	return c.update(ctx, fp, output)
}

func (c *llmCache) Enabled() bool { return true }

// Always-miss, never-store variants used when caching is off.
type disabledActionCache struct{}

func (disabledActionCache) Lookup(_ context.Context, _ *Action) ([]Block, bool, error) {
	return nil, false, nil
}

func (disabledActionCache) Update(_ context.Context, _ *Action, _ []Block) error { return nil }

func (disabledActionCache) Enabled() bool { return false }

type disabledLLMCache struct{}

func (disabledLLMCache) Lookup(_ context.Context, _ CompletionRequest) ([]Block, bool, error) {
	return nil, false, nil
}

func (disabledLLMCache) Update(_ context.Context, _ CompletionRequest, _ []Block) error { return nil }

func (disabledLLMCache) Enabled() bool { return false }
