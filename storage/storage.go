// Package storage implements the kernel's durable, plugin-scoped key-value
// and log storage over an embedded SQL engine (spec.md §4.2).
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wasmforge/kernel/metrics"
)

//go:embed schema.sql
var schemaSQL string

const migrationTimeout = 10 * time.Second

// Config configures the pool bounds spec.md §4.2 requires.
type Config struct {
	// URL is a database/sql data source name, e.g. a file path.
	URL string
	// MaxConnections caps the pool at 5; larger values are clamped to 5,
	// and zero or negative values select 5.
	MaxConnections int
	// ConnectTimeout bounds each connection acquisition.
	ConnectTimeout time.Duration
	// Metrics is optional; when set, every operation observes its
	// duration under StorageDuration labeled by operation name.
	Metrics *metrics.Registry
}

// Store is the plugin-scoped KV store, metadata registry, message log, and
// subscription table described in spec.md §4.2.
type Store struct {
	db             *sql.DB
	connectTimeout time.Duration
	metrics        *metrics.Registry
}

// observe records op's duration since start under StorageDuration, a no-op
// if the store was opened without a metrics registry.
func (s *Store) observe(op string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.StorageDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Open opens (creating if necessary) the embedded database at cfg.URL,
// enables WAL journaling, normal synchronous mode, a 5-second busy timeout,
// configures the connection pool, and runs schema migrations under a
// bounded timeout.
func Open(cfg Config) (*Store, error) {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 5
	}
	if maxConns > 5 {
		maxConns = 5
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", cfg.URL)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(60 * time.Second)
	db.SetConnMaxLifetime(30 * time.Minute)

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	store := &Store{db: db, connectTimeout: connectTimeout, metrics: cfg.Metrics}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), migrationTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.db.ExecContext(ctx, schemaSQL)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMigration, err)
		}
		return nil
	case <-ctx.Done():
		return ErrMigrationTimeout
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// conn acquires a pooled connection bounded by the store's connect timeout,
// guaranteeing release on every exit path including panics via the caller's
// defer.
func (s *Store) conn(ctx context.Context) (*sql.Conn, context.CancelFunc, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	c, err := s.db.Conn(acquireCtx)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return c, cancel, nil
}

// StoreValue upserts a plugin-scoped key, refreshing updated_at on conflict.
func (s *Store) StoreValue(ctx context.Context, pluginID, key string, value interface{}) error {
	defer s.observe("store_value", time.Now())
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshaling value: %w", err)
	}

	c, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	now := time.Now().UTC()
	_, err = c.ExecContext(ctx, `
		INSERT INTO plugin_data (plugin_id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(plugin_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, pluginID, key, string(raw), now, now)
	return err
}

// Get returns the value stored for (pluginID, key), or ErrNotFound.
func (s *Store) Get(ctx context.Context, pluginID, key string) (json.RawMessage, error) {
	defer s.observe("get", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer c.Close()

	var raw string
	err = c.QueryRowContext(ctx, `SELECT value FROM plugin_data WHERE plugin_id = ? AND key = ?`, pluginID, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// Delete removes a key, returning whether it was present.
func (s *Store) Delete(ctx context.Context, pluginID, key string) (bool, error) {
	defer s.observe("delete", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	defer c.Close()

	res, err := c.ExecContext(ctx, `DELETE FROM plugin_data WHERE plugin_id = ? AND key = ?`, pluginID, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListKeys returns every key stored for pluginID, in insertion order.
func (s *Store) ListKeys(ctx context.Context, pluginID string) ([]string, error) {
	defer s.observe("list_keys", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer c.Close()

	rows, err := c.QueryContext(ctx, `SELECT key FROM plugin_data WHERE plugin_id = ? ORDER BY created_at ASC`, pluginID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Clear deletes every key stored for pluginID, returning the count removed.
func (s *Store) Clear(ctx context.Context, pluginID string) (int64, error) {
	defer s.observe("clear", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	defer c.Close()

	res, err := c.ExecContext(ctx, `DELETE FROM plugin_data WHERE plugin_id = ?`, pluginID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PluginMetadata is the plugin_metadata row described in spec.md §3.
type PluginMetadata struct {
	PluginID    string
	Name        string
	Version     string
	Description string
	Author      string
	Enabled     bool
	LoadedAt    time.Time
	LastActive  time.Time
	Config      json.RawMessage
}

// RegisterPlugin upserts plugin metadata by plugin_id, refreshing
// last_active on conflict.
func (s *Store) RegisterPlugin(ctx context.Context, md PluginMetadata) error {
	defer s.observe("register_plugin", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	now := time.Now().UTC()
	if md.LoadedAt.IsZero() {
		md.LoadedAt = now
	}
	cfg := md.Config
	if cfg == nil {
		cfg = json.RawMessage(`{}`)
	}

	_, err = c.ExecContext(ctx, `
		INSERT INTO plugin_metadata (plugin_id, name, version, description, author, enabled, loaded_at, last_active, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plugin_id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			description = excluded.description,
			author = excluded.author,
			enabled = excluded.enabled,
			last_active = excluded.last_active,
			config = excluded.config
	`, md.PluginID, md.Name, md.Version, md.Description, md.Author, md.Enabled, md.LoadedAt, now, string(cfg))
	return err
}

// GetConfig returns pluginID's stored config blob, or ErrNotFound if the
// plugin has no metadata row yet.
func (s *Store) GetConfig(ctx context.Context, pluginID string) (json.RawMessage, error) {
	defer s.observe("get_config", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer c.Close()

	var cfg string
	err = c.QueryRowContext(ctx, `SELECT config FROM plugin_metadata WHERE plugin_id = ?`, pluginID).Scan(&cfg)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(cfg), nil
}

// SetConfig overwrites pluginID's config blob, creating a bare metadata
// row (name defaulting to pluginID) if none exists yet.
func (s *Store) SetConfig(ctx context.Context, pluginID string, cfg json.RawMessage) error {
	defer s.observe("set_config", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	now := time.Now().UTC()
	_, err = c.ExecContext(ctx, `
		INSERT INTO plugin_metadata (plugin_id, name, enabled, loaded_at, last_active, config)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(plugin_id) DO UPDATE SET config = excluded.config, last_active = excluded.last_active
	`, pluginID, pluginID, now, now, string(cfg))
	return err
}

// Touch bumps last_active for pluginID to the current time.
func (s *Store) Touch(ctx context.Context, pluginID string) error {
	defer s.observe("touch", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	_, err = c.ExecContext(ctx, `UPDATE plugin_metadata SET last_active = ? WHERE plugin_id = ?`, time.Now().UTC(), pluginID)
	return err
}

// MessageStatus is the lifecycle of a logged message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
)

// LogMessage appends a message_log row in the "pending" status.
func (s *Store) LogMessage(ctx context.Context, messageID, from, to string, payload []byte, msgType string) error {
	defer s.observe("log_message", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	_, err = c.ExecContext(ctx, `
		INSERT INTO message_log (message_id, from_plugin, to_plugin, payload, message_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, messageID, from, to, payload, msgType, StatusPending, time.Now().UTC())
	return err
}

// UpdateStatus transitions a message's status. Per spec.md §3 this is
// monotonic (pending -> delivered or pending -> failed); callers are
// responsible for not calling it out of order.
func (s *Store) UpdateStatus(ctx context.Context, messageID string, status MessageStatus) error {
	defer s.observe("update_status", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	var deliveredAt interface{}
	if status == StatusDelivered {
		deliveredAt = time.Now().UTC()
	}

	_, err = c.ExecContext(ctx, `
		UPDATE message_log SET status = ?, delivered_at = COALESCE(?, delivered_at) WHERE message_id = ?
	`, status, deliveredAt, messageID)
	return err
}

// MessageLogEntry is a row read back from the message log.
type MessageLogEntry struct {
	MessageID   string
	From        string
	To          string
	Payload     []byte
	MessageType string
	Status      MessageStatus
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// GetHistory returns message log rows descending by creation time. If
// pluginID is non-empty, only rows where that plugin is sender or
// recipient are returned.
func (s *Store) GetHistory(ctx context.Context, pluginID string, limit, offset int) ([]MessageLogEntry, error) {
	defer s.observe("get_history", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer c.Close()

	var rows *sql.Rows
	if pluginID == "" {
		rows, err = c.QueryContext(ctx, `
			SELECT message_id, from_plugin, to_plugin, payload, message_type, status, created_at, delivered_at
			FROM message_log ORDER BY created_at DESC LIMIT ? OFFSET ?
		`, limit, offset)
	} else {
		rows, err = c.QueryContext(ctx, `
			SELECT message_id, from_plugin, to_plugin, payload, message_type, status, created_at, delivered_at
			FROM message_log WHERE from_plugin = ? OR to_plugin = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
		`, pluginID, pluginID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageLogEntry
	for rows.Next() {
		var e MessageLogEntry
		var deliveredAt sql.NullTime
		if err := rows.Scan(&e.MessageID, &e.From, &e.To, &e.Payload, &e.MessageType, &e.Status, &e.CreatedAt, &deliveredAt); err != nil {
			return nil, err
		}
		if deliveredAt.Valid {
			t := deliveredAt.Time.UTC()
			e.DeliveredAt = &t
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddSub inserts (pluginID, topic) into the subscription table.
func (s *Store) AddSub(ctx context.Context, pluginID, topic string) error {
	defer s.observe("add_sub", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	_, err = c.ExecContext(ctx, `
		INSERT INTO plugin_subscriptions (plugin_id, topic) VALUES (?, ?)
		ON CONFLICT(plugin_id, topic) DO NOTHING
	`, pluginID, topic)
	return err
}

// RemoveSub deletes (pluginID, topic), returning whether it was present.
func (s *Store) RemoveSub(ctx context.Context, pluginID, topic string) (bool, error) {
	defer s.observe("remove_sub", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	defer c.Close()

	res, err := c.ExecContext(ctx, `DELETE FROM plugin_subscriptions WHERE plugin_id = ? AND topic = ?`, pluginID, topic)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Subscribers returns every plugin subscribed to topic.
func (s *Store) Subscribers(ctx context.Context, topic string) ([]string, error) {
	defer s.observe("subscribers", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer c.Close()

	rows, err := c.QueryContext(ctx, `SELECT plugin_id FROM plugin_subscriptions WHERE topic = ?`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Subscriptions returns every topic pluginID is subscribed to.
func (s *Store) Subscriptions(ctx context.Context, pluginID string) ([]string, error) {
	defer s.observe("subscriptions", time.Now())
	c, cancel, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer c.Close()

	rows, err := c.QueryContext(ctx, `SELECT topic FROM plugin_subscriptions WHERE plugin_id = ?`, pluginID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
