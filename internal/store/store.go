// Package store is the thin layer over the column-store engine described
// in spec.md §4.3: schema bootstrap, advisory single-writer file lock,
// query_rows/count/last_block/tables read helpers, and the transactional
// multi-table bulk insert the Sync Coordinator drives one window at a time.
// There is no general-purpose execute helper; every write goes through
// AtomicMultiInsert. Grounded on the
// teacher's internal/persistence/sqlite.go (same driver, same WAL DSN,
// same SetMaxOpenConns(1) write discipline) and on
// original_source/core/database.hpp (exact schema and atomic_multi_insert
// transaction shape).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store owns the write handle, a separate read-only handle, and the
// advisory file lock for the lifetime of the process. It is the sole
// writer (spec.md §3 "Ownership and lifetime").
type Store struct {
	path string

	write *sql.DB
	read  *sql.DB
	lock  *writeLock
}

// Open creates (or reuses) the database at path, runs schema bootstrap,
// and acquires the advisory write lock. Returns an error — rather than
// calling fatal.Assert itself — so callers can distinguish "another
// indexer instance already owns this file" from other startup failures.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	lock, err := acquireWriteLock(path)
	if err != nil {
		return nil, err
	}

	write, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("opening write handle: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)
	write.SetConnMaxLifetime(0)

	read, err := sql.Open("sqlite3", path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		write.Close()
		lock.release()
		return nil, fmt.Errorf("opening read handle: %w", err)
	}
	read.SetMaxOpenConns(4)

	s := &Store{path: path, write: write, read: read, lock: lock}

	if err := s.bootstrap(); err != nil {
		s.Close()
		return nil, fmt.Errorf("bootstrapping schema: %w", err)
	}

	log.Info().Str("path", path).Msg("store opened")
	return s, nil
}

func (s *Store) bootstrap() error {
	for _, stmt := range schemaStatements {
		if _, err := s.write.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Close releases the read/write handles and the advisory write lock, in
// that order, so a concurrently-starting process can never observe the
// lock as free while writes are still in flight.
func (s *Store) Close() error {
	var firstErr error
	if err := s.read.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.write.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
