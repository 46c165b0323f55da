// Package store persists table state in SQLite: the latest checkpoint
// per table, the idempotency log, and the immutable table config. Writes
// for a given table come only from that table's actor, matching the
// single-writer model; reads may be concurrent.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound means no row exists for the requested table
var ErrNotFound = errors.New("store: not found")

// Store wraps the server's SQLite database
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database and its schema. WAL mode keeps
// checkpoint writes from blocking concurrent reads.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			table_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			state BLOB NOT NULL,
			taken_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS table_meta (
			table_id TEXT PRIMARY KEY,
			config BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// DB exposes the handle so the wallet can share the database file
func (s *Store) DB() *sql.DB { return s.db }

// SaveCheckpoint stores the latest snapshot for a table. Older versions
// are overwritten; version moves only forward for a live actor.
func (s *Store) SaveCheckpoint(ctx context.Context, tableID string, version uint64, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (table_id, version, state, taken_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(table_id) DO UPDATE SET version = ?, state = ?, taken_at = ?
	`, tableID, version, state, time.Now().UTC(), version, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", tableID, err)
	}
	return nil
}

// LoadCheckpoint returns the latest snapshot for a table
func (s *Store) LoadCheckpoint(ctx context.Context, tableID string) (version uint64, state []byte, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT version, state FROM checkpoints WHERE table_id = ?
	`, tableID).Scan(&version, &state)
	if err == sql.ErrNoRows {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("load checkpoint %s: %w", tableID, err)
	}
	return version, state, nil
}

// SaveMeta stores a table's immutable configuration
func (s *Store) SaveMeta(ctx context.Context, tableID string, config []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO table_meta (table_id, config) VALUES (?, ?)
		ON CONFLICT(table_id) DO NOTHING
	`, tableID, config)
	if err != nil {
		return fmt.Errorf("save meta %s: %w", tableID, err)
	}
	return nil
}

// LoadMeta returns a table's configuration
func (s *Store) LoadMeta(ctx context.Context, tableID string) ([]byte, error) {
	var config []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT config FROM table_meta WHERE table_id = ?
	`, tableID).Scan(&config)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load meta %s: %w", tableID, err)
	}
	return config, nil
}

// ListTables returns every table id with stored metadata, oldest first
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_id FROM table_meta ORDER BY created_at, table_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteTable removes a destroyed table's checkpoint and metadata
func (s *Store) DeleteTable(ctx context.Context, tableID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE table_id = ?`, tableID); err != nil {
		return fmt.Errorf("delete table %s: %w", tableID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM table_meta WHERE table_id = ?`, tableID); err != nil {
		return fmt.Errorf("delete table %s: %w", tableID, err)
	}
	return tx.Commit()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
