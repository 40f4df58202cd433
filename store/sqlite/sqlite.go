// Package sqlite implements switchboard.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/switchboard-ai/switchboard"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements switchboard.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ switchboard.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			id TEXT PRIMARY KEY,
			context_key TEXT NOT NULL UNIQUE,
			tags TEXT,
			searchable INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS log_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			log_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			tags TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_messages_log ON log_messages(log_id, seq)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			name TEXT NOT NULL,
			scope TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			result TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (name, scope, fingerprint)
		)`,
		`CREATE TABLE IF NOT EXISTS config (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	s.logger.Debug("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: store closed")
	return s.db.Close()
}

// GetOrCreateLog resolves the log for a canonical conversation key,
// inserting it on first use. The UNIQUE constraint on context_key makes
// repeated calls land on the same row.
func (s *Store) GetOrCreateLog(ctx context.Context, key string, tags []switchboard.Tag, searchable bool) (switchboard.Log, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get or create log", "context_key", key)

	var tagsJSON *string
	if len(tags) > 0 {
		data, err := json.Marshal(tags)
		if err != nil {
			return switchboard.Log{}, fmt.Errorf("encode log tags: %w", err)
		}
		v := string(data)
		tagsJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (id, context_key, tags, searchable, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(context_key) DO NOTHING`,
		switchboard.NewID(), key, tagsJSON, boolToInt(searchable), switchboard.NowUnix(),
	)
	if err != nil {
		s.logger.Error("sqlite: get or create log failed", "context_key", key, "error", err, "duration", time.Since(start))
		return switchboard.Log{}, fmt.Errorf("create log: %w", err)
	}

	var log switchboard.Log
	var searchableInt int
	err = s.db.QueryRowContext(ctx,
		`SELECT id, context_key, searchable, created_at FROM logs WHERE context_key = ?`, key,
	).Scan(&log.ID, &log.ContextKey, &searchableInt, &log.CreatedAt)
	if err != nil {
		s.logger.Error("sqlite: load log failed", "context_key", key, "error", err, "duration", time.Since(start))
		return switchboard.Log{}, fmt.Errorf("load log: %w", err)
	}
	log.Searchable = searchableInt != 0

	s.logger.Debug("sqlite: get or create log ok", "context_key", key, "log_id", log.ID, "duration", time.Since(start))
	return log, nil
}

// AppendLogMessage durably appends one entry. The AUTOINCREMENT seq
// column assigns the monotonic append order.
func (s *Store) AppendLogMessage(ctx context.Context, logID string, msg switchboard.LogMessage) error {
	start := time.Now()
	s.logger.Debug("sqlite: append log message", "log_id", logID, "role", msg.Role)

	var tagsJSON *string
	if len(msg.Tags) > 0 {
		data, err := json.Marshal(msg.Tags)
		if err != nil {
			return fmt.Errorf("encode message tags: %w", err)
		}
		v := string(data)
		tagsJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_messages (id, log_id, role, text, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, logID, msg.Role, msg.Text, tagsJSON, msg.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: append log message failed", "log_id", logID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("append log message: %w", err)
	}
	s.logger.Debug("sqlite: append log message ok", "log_id", logID, "duration", time.Since(start))
	return nil
}

// LogMessages returns up to limit entries in append order (oldest first).
func (s *Store) LogMessages(ctx context.Context, logID string, limit int) ([]switchboard.LogMessage, error) {
	start := time.Now()
	s.logger.Debug("sqlite: log messages", "log_id", logID, "limit", limit)

	query := `SELECT seq, id, log_id, role, text, tags, created_at
		 FROM log_messages WHERE log_id = ? ORDER BY seq DESC`
	args := []any{logID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: log messages failed", "log_id", logID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("log messages: %w", err)
	}
	defer rows.Close()

	var messages []switchboard.LogMessage
	for rows.Next() {
		var m switchboard.LogMessage
		var tagsJSON sql.NullString
		if err := rows.Scan(&m.Seq, &m.ID, &m.LogID, &m.Role, &m.Text, &tagsJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log message: %w", err)
		}
		if tagsJSON.Valid {
			_ = json.Unmarshal([]byte(tagsJSON.String), &m.Tags)
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

	s.logger.Debug("sqlite: log messages ok", "log_id", logID, "count", len(messages), "duration", time.Since(start))
	return messages, nil
}

// CacheGet returns the stored result for (name, scope, fingerprint).
func (s *Store) CacheGet(ctx context.Context, name, scope, fingerprint string) (string, bool, error) {
	start := time.Now()
	s.logger.Debug("sqlite: cache get", "name", name, "scope", scope)

	var result string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM cache_entries WHERE name = ? AND scope = ? AND fingerprint = ?`,
		name, scope, fingerprint,
	).Scan(&result)
	if err == sql.ErrNoRows {
		s.logger.Debug("sqlite: cache miss", "name", name, "scope", scope, "duration", time.Since(start))
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("sqlite: cache get failed", "name", name, "scope", scope, "error", err, "duration", time.Since(start))
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	s.logger.Debug("sqlite: cache hit", "name", name, "scope", scope, "duration", time.Since(start))
	return result, true, nil
}

// CachePut upserts a result (last write wins).
func (s *Store) CachePut(ctx context.Context, name, scope, fingerprint, result string) error {
	start := time.Now()
	s.logger.Debug("sqlite: cache put", "name", name, "scope", scope)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (name, scope, fingerprint, result, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		name, scope, fingerprint, result, switchboard.NowUnix(),
	)
	if err != nil {
		s.logger.Error("sqlite: cache put failed", "name", name, "scope", scope, "error", err, "duration", time.Since(start))
		return fmt.Errorf("cache put: %w", err)
	}
	s.logger.Debug("sqlite: cache put ok", "name", name, "scope", scope, "duration", time.Since(start))
	return nil
}

// GetConfig returns the value under (namespace, key), or "" when unset.
func (s *Store) GetConfig(ctx context.Context, namespace, key string) (string, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get config", "namespace", namespace, "key", key)

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE namespace = ? AND key = ?`, namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		s.logger.Debug("sqlite: get config not found", "namespace", namespace, "key", key, "duration", time.Since(start))
		return "", nil
	}
	if err != nil {
		s.logger.Error("sqlite: get config failed", "namespace", namespace, "key", key, "error", err, "duration", time.Since(start))
		return "", fmt.Errorf("get config: %w", err)
	}
	s.logger.Debug("sqlite: get config ok", "namespace", namespace, "key", key, "duration", time.Since(start))
	return value, nil
}

// SetConfig upserts a config value.
func (s *Store) SetConfig(ctx context.Context, namespace, key, value string) error {
	start := time.Now()
	s.logger.Debug("sqlite: set config", "namespace", namespace, "key", key)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO config (namespace, key, value) VALUES (?, ?, ?)`,
		namespace, key, value,
	)
	if err != nil {
		s.logger.Error("sqlite: set config failed", "namespace", namespace, "key", key, "error", err, "duration", time.Since(start))
		return fmt.Errorf("set config: %w", err)
	}
	s.logger.Debug("sqlite: set config ok", "namespace", namespace, "key", key, "duration", time.Since(start))
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
