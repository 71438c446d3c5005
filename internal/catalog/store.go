// Package catalog manages the SQLite database holding the relational
// Catalog: devices, entities, areas, and capabilities reconciled from Home
// Assistant's registries, plus webhook subscriptions/deliveries and the
// job_locks table used for C6's leader election.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods. Catalog rows are exclusively
// owned and mutated by the Registry Discoverer (C2); every other component
// reads via this API and never writes to the catalog tables directly.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
    device_id     TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    name_by_user  TEXT,
    manufacturer  TEXT,
    model         TEXT,
    sw_version    TEXT,
    area_id       TEXT,
    integration   TEXT NOT NULL DEFAULT '',
    entry_type    TEXT,
    health_score  INTEGER,
    last_seen     TEXT,
    disabled      INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
    entity_id  TEXT PRIMARY KEY,
    device_id  TEXT,
    domain     TEXT NOT NULL,
    platform   TEXT NOT NULL DEFAULT '',
    unique_id  TEXT NOT NULL DEFAULT '',
    area_id    TEXT,
    disabled   INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_device_unique
    ON entities (device_id, unique_id) WHERE device_id IS NOT NULL AND unique_id != '';

CREATE TABLE IF NOT EXISTS areas (
    area_id    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    aliases    TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS device_capabilities (
    device_id  TEXT NOT NULL,
    name       TEXT NOT NULL,
    type       TEXT NOT NULL,
    properties TEXT NOT NULL DEFAULT '{}',
    exposed    INTEGER NOT NULL DEFAULT 1,
    source     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (device_id, name)
);

CREATE TABLE IF NOT EXISTS webhook_subscriptions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL,
    url        TEXT NOT NULL,
    secret     TEXT NOT NULL,
    conditions TEXT NOT NULL DEFAULT '{}',
    enabled    INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
    id               TEXT PRIMARY KEY,
    subscription_id  INTEGER NOT NULL,
    payload_hash     TEXT NOT NULL,
    attempt          INTEGER NOT NULL DEFAULT 0,
    status           TEXT NOT NULL DEFAULT 'pending',
    next_attempt_at  TEXT,
    last_error       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS job_locks (
    job_name    TEXT PRIMARY KEY,
    holder      TEXT NOT NULL,
    acquired_at TEXT NOT NULL,
    expires_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS job_runs (
    job_name    TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    finished_at TEXT,
    reason      TEXT NOT NULL DEFAULT ''
);
`

// Store is the SQLite-backed catalog repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the catalog database:
// ~/.local/share/ha-ingestor/catalog.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "ha-ingestor", "catalog.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode. The single writer constraint (SetMaxOpenConns(1))
// matches the single-writer-per-row ownership model: C2 for catalog rows,
// C5 for webhook delivery rows, C6 for job locks.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}

// exec is a thin wrapper that keeps call sites uniform with the rest of
// this package's methods, mirroring the reminderrelay state store style.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}
