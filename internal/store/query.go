package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Row is a single result row from QueryRows, column name to decoded value
// (int64, float64, string, []byte, bool, or nil), mirroring the shape
// original_source/core/database.hpp's query_json returns before its
// caller re-serializes it to JSON.
type Row map[string]any

// QueryRows runs a read-only query against the Store's dedicated
// read-only connection, so long-running Replay Engine scans never
// contend with the write path's single connection. Per spec.md §4.3,
// this is the "one connection per caller" option: the read handle's pool
// is sized for several concurrent readers.
func (s *Store) QueryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Count returns the row count of table. table must be a literal from the
// caller, never user input — it's interpolated directly since SQLite
// doesn't support parameter binding for identifiers.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.read.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	return n, err
}

// LastBlock returns the highest block number whose logs are fully
// persisted, or -1 if sync has never run, matching
// original_source/core/database.hpp's get_last_block.
func (s *Store) LastBlock(ctx context.Context) (int64, error) {
	var value string
	err := s.read.QueryRowContext(ctx, "SELECT value FROM sync_state WHERE key = 'last_block'").Scan(&value)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading last_block: %w", err)
	}
	var n int64
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
		return 0, fmt.Errorf("parsing last_block value %q: %w", value, err)
	}
	return n, nil
}

// Tables lists user tables in the database, matching
// original_source/core/database.hpp's get_tables.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.read.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
