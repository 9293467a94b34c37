// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
    ns         TEXT NOT NULL,
    key        TEXT NOT NULL,
    parent     TEXT NOT NULL DEFAULT '',
    value      BLOB NOT NULL,
    updated_at INTEGER NOT NULL, -- unix millis
    PRIMARY KEY (ns, key)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_kv_parent ON kv(ns, parent);
`

// SQLiteStore is a KV backed by a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-16000", // 16MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Get(ctx context.Context, ns, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE ns = ? AND key = ?", ns, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", ns, key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, ns, key, parent string, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (ns, key, parent, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ns, key) DO UPDATE SET parent = excluded.parent, value = excluded.value, updated_at = excluded.updated_at`,
		ns, key, parent, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ns, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE ns = ? AND key = ?", ns, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, ns string) ([]Entry, error) {
	return s.query(ctx, "SELECT key, parent, value FROM kv WHERE ns = ? ORDER BY key", ns)
}

func (s *SQLiteStore) ListByParent(ctx context.Context, ns, parent string) ([]Entry, error) {
	return s.query(ctx, "SELECT key, parent, value FROM kv WHERE ns = ? AND parent = ? ORDER BY key", ns, parent)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Parent, &e.Value); err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database. Further calls return ErrClosed.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
