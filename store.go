package switchboard

import "context"

// Store abstracts the external persistence collaborator: conversation
// logs, cache entries, and key-value configuration. Consistency under
// concurrent same-key writes is the store's concern; the contract here
// is at-least last-write-wins per key.
type Store interface {
	// --- Conversation logs ---

	// GetOrCreateLog resolves the persistent log for a canonical
	// conversation key, creating it on first use. Idempotent: repeated
	// calls with the same key return the same log and never duplicate
	// storage.
	GetOrCreateLog(ctx context.Context, key string, tags []Tag, searchable bool) (Log, error)
	// AppendLogMessage durably appends one entry. The store assigns the
	// monotonic sequence; entries are never reordered or deduplicated.
	AppendLogMessage(ctx context.Context, logID string, msg LogMessage) error
	// LogMessages returns up to limit entries in append order (oldest
	// first). limit <= 0 means no limit.
	LogMessages(ctx context.Context, logID string, limit int) ([]LogMessage, error)

	// --- Cache entries ---

	// CacheGet returns the stored result for (name, scope, fingerprint),
	// or ok=false on a miss.
	CacheGet(ctx context.Context, name, scope, fingerprint string) (result string, ok bool, err error)
	// CachePut upserts a result. Overwriting an existing fingerprint is
	// allowed (last write wins).
	CachePut(ctx context.Context, name, scope, fingerprint, result string) error

	// --- Key-value config ---

	// GetConfig returns the value under (namespace, key), or "" when unset.
	GetConfig(ctx context.Context, namespace, key string) (string, error)
	SetConfig(ctx context.Context, namespace, key, value string) error

	// --- Lifecycle ---

	Init(ctx context.Context) error
	Close() error
}
