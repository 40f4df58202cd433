// Package postgres implements switchboard.Store using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/switchboard-ai/switchboard"
)

// Store implements switchboard.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ switchboard.Store = (*Store)(nil)

// New creates a Store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			id TEXT PRIMARY KEY,
			context_key TEXT NOT NULL UNIQUE,
			tags JSONB,
			searchable BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS log_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			log_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			tags JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_messages_log ON log_messages(log_id, seq)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			name TEXT NOT NULL,
			scope TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			result TEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (name, scope, fingerprint)
		)`,
		`CREATE TABLE IF NOT EXISTS config (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Close is a no-op: the pool is externally owned.
func (s *Store) Close() error { return nil }

// GetOrCreateLog resolves the log for a canonical conversation key.
// INSERT ... ON CONFLICT DO NOTHING keeps repeated calls on one row even
// under concurrent resolution of the same key.
func (s *Store) GetOrCreateLog(ctx context.Context, key string, tags []switchboard.Tag, searchable bool) (switchboard.Log, error) {
	var tagsJSON []byte
	if len(tags) > 0 {
		var err error
		tagsJSON, err = json.Marshal(tags)
		if err != nil {
			return switchboard.Log{}, fmt.Errorf("encode log tags: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO logs (id, context_key, tags, searchable, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (context_key) DO NOTHING`,
		switchboard.NewID(), key, tagsJSON, searchable, switchboard.NowUnix(),
	)
	if err != nil {
		return switchboard.Log{}, fmt.Errorf("create log: %w", err)
	}

	var log switchboard.Log
	err = s.pool.QueryRow(ctx,
		`SELECT id, context_key, searchable, created_at FROM logs WHERE context_key = $1`, key,
	).Scan(&log.ID, &log.ContextKey, &log.Searchable, &log.CreatedAt)
	if err != nil {
		return switchboard.Log{}, fmt.Errorf("load log: %w", err)
	}
	return log, nil
}

// AppendLogMessage durably appends one entry; BIGSERIAL assigns the
// monotonic append order.
func (s *Store) AppendLogMessage(ctx context.Context, logID string, msg switchboard.LogMessage) error {
	var tagsJSON []byte
	if len(msg.Tags) > 0 {
		var err error
		tagsJSON, err = json.Marshal(msg.Tags)
		if err != nil {
			return fmt.Errorf("encode message tags: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO log_messages (id, log_id, role, text, tags, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, logID, msg.Role, msg.Text, tagsJSON, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append log message: %w", err)
	}
	return nil
}

// LogMessages returns up to limit entries in append order (oldest first).
func (s *Store) LogMessages(ctx context.Context, logID string, limit int) ([]switchboard.LogMessage, error) {
	query := `SELECT seq, id, log_id, role, text, tags, created_at
		 FROM log_messages WHERE log_id = $1 ORDER BY seq DESC`
	args := []any{logID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("log messages: %w", err)
	}
	defer rows.Close()

	var messages []switchboard.LogMessage
	for rows.Next() {
		var m switchboard.LogMessage
		var tagsJSON []byte
		if err := rows.Scan(&m.Seq, &m.ID, &m.LogID, &m.Role, &m.Text, &tagsJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log message: %w", err)
		}
		if len(tagsJSON) > 0 {
			_ = json.Unmarshal(tagsJSON, &m.Tags)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log messages: %w", err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CacheGet returns the stored result for (name, scope, fingerprint).
func (s *Store) CacheGet(ctx context.Context, name, scope, fingerprint string) (string, bool, error) {
	var result string
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM cache_entries WHERE name = $1 AND scope = $2 AND fingerprint = $3`,
		name, scope, fingerprint,
	).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return result, true, nil
}

// CachePut upserts a result (last write wins).
func (s *Store) CachePut(ctx context.Context, name, scope, fingerprint, result string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (name, scope, fingerprint, result, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name, scope, fingerprint)
		 DO UPDATE SET result = EXCLUDED.result, updated_at = EXCLUDED.updated_at`,
		name, scope, fingerprint, result, switchboard.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// GetConfig returns the value under (namespace, key), or "" when unset.
func (s *Store) GetConfig(ctx context.Context, namespace, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM config WHERE namespace = $1 AND key = $2`, namespace, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config: %w", err)
	}
	return value, nil
}

// SetConfig upserts a config value.
func (s *Store) SetConfig(ctx context.Context, namespace, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO config (namespace, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value`,
		namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("set config: %w", err)
	}
	return nil
}
