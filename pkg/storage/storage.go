package storage

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS search_cache (
  keyword     TEXT PRIMARY KEY,
  results     TEXT NOT NULL,
  created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  expire_at   DATETIME NOT NULL,
  hit_count   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_expire ON search_cache(expire_at);
CREATE TABLE IF NOT EXISTS credentials (
  id            INTEGER PRIMARY KEY,
  email         TEXT NOT NULL UNIQUE,
  password      TEXT NOT NULL,
  uid           TEXT NOT NULL,
  access_key    TEXT NOT NULL,
  register_time DATETIME,
  expire_date   DATETIME,
  is_active     INTEGER NOT NULL DEFAULT 1 CHECK (is_active IN (0,1))
);
CREATE INDEX IF NOT EXISTS idx_credentials_active ON credentials(is_active, expire_date);
CREATE TABLE IF NOT EXISTS rotation_state (
  state_key   TEXT PRIMARY KEY,
  state_value TEXT NOT NULL,
  updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS param_cache (
  param_key   TEXT PRIMARY KEY,
  param_value TEXT NOT NULL,
  updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  expire_at   DATETIME
);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SQL exposes the underlying handle to the packages that own individual
// tables (credstore, cache, resolver parameter state).
func (d *DB) SQL() *sql.DB {
	return d.sql
}

func (d *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.sql.BeginTx(ctx, &sql.TxOptions{})
}
