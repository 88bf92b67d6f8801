// Package store is the coordinator's durable key-value storage: the
// latest-capture singleton, the analysis-cache bucket, the history list and
// the settings map live here under separate namespaces (tables), so
// clearing one never touches another.
//
// The caller must blank-import an SQLite driver:
//
//	import _ "modernc.org/sqlite"
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JuhyeokC/whit/capture"
)

const schema = `
CREATE TABLE IF NOT EXISTS latest_capture (
	slot       INTEGER PRIMARY KEY CHECK (slot = 1),
	created_at INTEGER NOT NULL,
	region     TEXT    NOT NULL,
	image      BLOB    NOT NULL
);
CREATE TABLE IF NOT EXISTS analysis_cache (
	key        TEXT PRIMARY KEY,
	result     TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	model      TEXT    NOT NULL,
	tone       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_cache_created ON analysis_cache(created_at);
CREATE TABLE IF NOT EXISTS history (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	thumb      BLOB,
	result     TEXT NOT NULL DEFAULT '',
	model      TEXT NOT NULL DEFAULT '',
	tone       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// CacheEntry is one analysis-cache record. Immutable once written: a
// rewrite replaces the whole row.
type CacheEntry struct {
	Result    string
	CreatedAt time.Time
	Model     string
	Tone      string
}

// HistoryRecord is one saved analysis in the history namespace.
type HistoryRecord struct {
	ID        string
	CreatedAt time.Time
	Thumb     []byte
	Result    string
	Model     string
	Tone      string
}

// Store wraps the SQLite database holding all coordinator state.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path with production-safe
// pragmas: WAL journal, 10s busy timeout, synchronous NORMAL, foreign keys
// on. Parent directories are created.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory store for tests. MaxOpenConns(1) keeps all
// queries on the same in-memory database; Close is registered on t.Cleanup.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- latest capture slot ---

// SetLatest overwrites the latest-capture singleton. Last writer wins.
func (s *Store) SetLatest(ctx context.Context, img capture.CapturedImage) error {
	region, err := json.Marshal(img.Region)
	if err != nil {
		return fmt.Errorf("store: marshal region: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO latest_capture (slot, created_at, region, image)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			created_at = excluded.created_at,
			region     = excluded.region,
			image      = excluded.image`,
		img.CreatedAt.UnixMilli(), string(region), img.ImageData)
	if err != nil {
		return fmt.Errorf("store: set latest: %w", err)
	}
	return nil
}

// Latest returns the latest capture, or nil when none has been stored.
func (s *Store) Latest(ctx context.Context) (*capture.CapturedImage, error) {
	var (
		createdAt int64
		region    string
		image     []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, region, image FROM latest_capture WHERE slot = 1`).
		Scan(&createdAt, &region, &image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get latest: %w", err)
	}

	img := capture.CapturedImage{
		CreatedAt: time.UnixMilli(createdAt),
		ImageData: image,
	}
	if err := json.Unmarshal([]byte(region), &img.Region); err != nil {
		return nil, fmt.Errorf("store: unmarshal region: %w", err)
	}
	return &img, nil
}

// --- analysis cache bucket ---

// CacheGet looks up a cache entry by digest key.
func (s *Store) CacheGet(ctx context.Context, key string) (CacheEntry, bool, error) {
	var (
		e         CacheEntry
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT result, created_at, model, tone FROM analysis_cache WHERE key = ?`, key).
		Scan(&e.Result, &createdAt, &e.Model, &e.Tone)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("store: cache get: %w", err)
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	return e, true, nil
}

// CachePut writes an entry under key, replacing any previous record whole.
func (s *Store) CachePut(ctx context.Context, key string, e CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_cache (key, result, created_at, model, tone)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			result     = excluded.result,
			created_at = excluded.created_at,
			model      = excluded.model,
			tone       = excluded.tone`,
		key, e.Result, e.CreatedAt.UnixMilli(), e.Model, e.Tone)
	if err != nil {
		return fmt.Errorf("store: cache put: %w", err)
	}
	return nil
}

// CacheCount returns the number of cache entries.
func (s *Store) CacheCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: cache count: %w", err)
	}
	return n, nil
}

// CacheTrim deletes the oldest entries (ascending created_at, ties broken
// by key order) until at most max remain. Returns how many were removed.
func (s *Store) CacheTrim(ctx context.Context, max int) (int, error) {
	if max < 0 {
		max = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM analysis_cache WHERE key IN (
			SELECT key FROM analysis_cache
			ORDER BY created_at ASC, key ASC
			LIMIT max(0, (SELECT COUNT(*) FROM analysis_cache) - ?)
		)`, max)
	if err != nil {
		return 0, fmt.Errorf("store: cache trim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: cache trim rows: %w", err)
	}
	return int(n), nil
}

// --- history namespace ---

// HistoryAdd saves one history record.
func (s *Store) HistoryAdd(ctx context.Context, r HistoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (id, created_at, thumb, result, model, tone)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UnixMilli(), r.Thumb, r.Result, r.Model, r.Tone)
	if err != nil {
		return fmt.Errorf("store: history add: %w", err)
	}
	return nil
}

// HistoryList returns all records, newest first.
func (s *Store) HistoryList(ctx context.Context) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, thumb, result, model, tone
		FROM history ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: history list: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var (
			r         HistoryRecord
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &createdAt, &r.Thumb, &r.Result, &r.Model, &r.Tone); err != nil {
			return nil, fmt.Errorf("store: history scan: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// HistoryDelete removes one record by ID, reporting how many rows went.
func (s *Store) HistoryDelete(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("store: history delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: history delete rows: %w", err)
	}
	return int(n), nil
}

// HistoryClear removes every history record. The analysis cache is a
// separate namespace and is untouched.
func (s *Store) HistoryClear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("store: history clear: %w", err)
	}
	return nil
}

// --- settings namespace ---

// Setting returns the value for key, or fallback when unset.
func (s *Store) Setting(ctx context.Context, key, fallback string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("store: setting %s: %w", key, err)
	}
	return v, nil
}

// SetSetting stores a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set setting %s: %w", key, err)
	}
	return nil
}
