// Package sqlite adapts a single sqlite3 database to the ports.Storage
// contract: a namespaced key/value store with prefix-scoped listing and
// filtered queries. Grounded on the teacher's internal/persistence/store.go
// (WAL pragma configuration, busy-retry with jittered backoff, the
// kv_store table), trimmed from its multi-table task-queue schema down to
// the single namespaced kv_store table the Storage port actually needs —
// everything else in that file (tasks, schedules, agents, audit_log) is
// either its own port/adapter elsewhere or out of this runtime's scope.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/pulseagent/internal/ports"
)

// Store is a sqlite-backed ports.Storage implementation.
type Store struct {
	db *sql.DB
}

var _ ports.Storage = (*Store)(nil)

// Open opens (creating if needed) a sqlite database at path and ensures
// its schema is current.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	ctx := context.Background()
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, q := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=FULL;"} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_store (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (namespace, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("create kv_store: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_kv_store_namespace_key ON kv_store(namespace, key);`)
	if err != nil {
		return fmt.Errorf("create kv_store index: %w", err)
	}
	return nil
}

// retryOnBusy retries f when sqlite reports BUSY/LOCKED, with bounded
// jittered backoff. With maxRetries 5 the sleeps add up to at most ~1.6s
// on top of the driver's own 5s busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

// Get returns the value stored at namespace/key.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE namespace = ? AND key = ?;`, namespace, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

// Set writes value at namespace/key, replacing any existing value.
func (s *Store) Set(ctx context.Context, namespace, key string, value []byte) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO kv_store (namespace, key, value, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP;
		`, namespace, key, value)
		if err != nil {
			return fmt.Errorf("set %s/%s: %w", namespace, key, err)
		}
		return nil
	})
}

// Delete removes the value at namespace/key, if any.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE namespace = ? AND key = ?;`, namespace, key)
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
		}
		return nil
	})
}

// Keys lists keys in namespace whose key starts with prefix.
func (s *Store) Keys(ctx context.Context, namespace, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv_store WHERE namespace = ? AND key LIKE ? ESCAPE '\' ORDER BY key;
	`, namespace, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("keys %s/%s*: %w", namespace, prefix, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Query lists records in namespace under prefix, applying simple
// equality and numeric comparison filters over the decoded JSON value, with limit,
// offset, and an order-by key ("key" or "updated_at").
func (s *Store) Query(ctx context.Context, namespace, prefix string, filters []ports.QueryFilter, limit, offset int, orderBy string) ([]ports.StorageRecord, error) {
	query := `SELECT key, value FROM kv_store WHERE namespace = ? AND key LIKE ? ESCAPE '\'`
	args := []any{namespace, likePrefix(prefix)}

	switch orderBy {
	case "updated_at":
		query += " ORDER BY updated_at"
	default:
		query += " ORDER BY key"
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s/%s*: %w", namespace, prefix, err)
	}
	defer rows.Close()

	// offset and limit count records that pass the filters, so they are
	// applied here rather than in SQL.
	var out []ports.StorageRecord
	skipped := 0
	for rows.Next() {
		var rec ports.StorageRecord
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if !matchesFilters(rec.Value, filters) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}

// matchesFilters applies QueryFilter's equality and numeric comparison
// operators against a decoded JSON object. Non-JSON or unparseable values match
// only an empty filter set.
func matchesFilters(value []byte, filters []ports.QueryFilter) bool {
	if len(filters) == 0 {
		return true
	}
	doc, ok := decodeJSONObject(value)
	if !ok {
		return false
	}
	for _, f := range filters {
		v, present := doc[f.Field]
		if !present {
			return false
		}
		if !filterMatches(v, f.Op, f.Value) {
			return false
		}
	}
	return true
}
