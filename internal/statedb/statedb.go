// Package statedb provides a SQLite-backed key-value store with per-key TTL,
// used as the backing store for the notification dedup cache.
package statedb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/asheshgoplani/panewatch/internal/logging"
)

var dbLog = logging.ForComponent(logging.CompStateDB)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database. Thread-safe for concurrent use from
// multiple goroutines within one process; WAL mode + busy timeout make it
// safe across processes as well. All mutable state is keyed, and every write
// is a single-key atomic upsert, so no cross-key locking is ever needed.
type StateDB struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy
// timeout, applying migrations.
func Open(dbPath string) (*StateDB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("statedb: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	s := &StateDB{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *StateDB) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			expires_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statedb: migrate: %w", err)
		}
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprintf("%d", SchemaVersion),
	); err != nil {
		return fmt.Errorf("statedb: schema version: %w", err)
	}
	return tx.Commit()
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	if s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Get returns the value for key. Expired or missing keys return ok=false.
func (s *StateDB) Get(key string) (string, bool, error) {
	var value string
	var expiresAt sql.NullInt64
	err := s.db.QueryRow(`SELECT value, expires_at FROM kv WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("statedb: get %q: %w", key, err)
	}
	if expiresAt.Valid && s.now().UnixMilli() >= expiresAt.Int64 {
		return "", false, nil
	}
	return value, true, nil
}

// Set stores a value for key, replacing any prior entry. A zero ttl means
// the entry never expires.
func (s *StateDB) Set(key, value string, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO kv (key, value, expires_at) VALUES (?, ?, ?)`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("statedb: set %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (s *StateDB) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("statedb: delete %q: %w", key, err)
	}
	return nil
}

// Prune deletes all expired entries and returns how many were removed.
func (s *StateDB) Prune() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("statedb: prune: %w", err)
	}
	return res.RowsAffected()
}

// PrunePeriodically removes expired entries every interval until ctx is
// cancelled. Reads already filter expired rows, so this only reclaims space;
// run it on its own goroutine.
func (s *StateDB) PrunePeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune()
			if err != nil {
				dbLog.Warn("prune_failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				dbLog.Debug("pruned_expired_entries", slog.Int64("removed", n))
			}
		}
	}
}
