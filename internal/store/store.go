package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound     = errors.New("key not found")
	ErrDatabaseInit = errors.New("state store initialization failed")
)

const defaultListLimit = 500

// Store is the persistent key/value state store. All values are JSON.
type Store struct {
	conn *sql.DB
}

// Entry is one key/value pair returned by List.
type Entry struct {
	Key   string
	Value string
}

// Open opens (creating if necessary) the state store at dbPath.
func Open(dbPath string) (*Store, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	// Configure connection pool limits to prevent resource exhaustion
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	// Configure SQLite for optimal performance and security
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA secure_delete=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	s := &Store{conn: conn}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	// Set file permissions (0600 for security)
	if err := os.Chmod(dbPath, 0600); err != nil {
		// File might not exist yet in WAL mode
		_ = err
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Ping checks the underlying database connection.
func (s *Store) Ping() error {
	return s.conn.Ping()
}

// migrate creates the key/value schema.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.conn.Exec(migration); err != nil {
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error is due to a duplicate column in ALTER TABLE.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}

// Get returns the raw JSON value stored under key.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return value, nil
}

// Put stores a raw JSON value under key, replacing any existing value.
func (s *Store) Put(key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.conn.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	)
	if err != nil {
		return fmt.Errorf("failed to put key %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// List returns up to limit entries whose keys start with prefix, in key
// order, beginning strictly after cursor. The returned cursor is non-empty
// when more entries may remain.
func (s *Store) List(prefix, cursor string, limit int) ([]Entry, string, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if cursor == "" {
		cursor = prefix
	}

	// Upper bound for the prefix range; 0xFF never starts a UTF-8 sequence.
	upper := prefix + "\xff"

	rows, err := s.conn.Query(
		`SELECT key, value FROM kv
		 WHERE key >= ? AND key < ? AND key > ?
		 ORDER BY key LIMIT ?`,
		prefix, upper, cursor, limit,
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, "", fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to list prefix %q: %w", prefix, err)
	}

	next := ""
	if len(entries) == limit {
		next = entries[len(entries)-1].Key
	}
	return entries, next, nil
}

// ListAll drains List pagination for prefix.
func (s *Store) ListAll(prefix string) ([]Entry, error) {
	var all []Entry
	cursor := ""
	for {
		page, next, err := s.List(prefix, cursor, defaultListLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}
