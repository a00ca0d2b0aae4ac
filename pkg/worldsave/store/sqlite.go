package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
)

// SQLiteBackend persists blobs to SQLite.
// It is suitable for single-process production use.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteBackend creates a new SQLite backend.
// The path should be a file path (e.g., "./saves.db") or ":memory:" for testing.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every :memory: connection is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			key TEXT NOT NULL PRIMARY KEY,
			sequence INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Exists implements Backend.
func (s *SQLiteBackend) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}

	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM blobs WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, classifySQLite(fmt.Errorf("check blob: %w", err))
	}
	return n > 0, nil
}

// Read implements Backend.
func (s *SQLiteBackend) Read(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var data []byte
	err := s.db.QueryRow(`SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLite(fmt.Errorf("read blob: %w", err))
	}
	return data, nil
}

// Write implements Backend.
func (s *SQLiteBackend) Write(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if data == nil {
		data = []byte{}
	}

	// Sequence is global so List can order blobs across slots by recency.
	_, err := s.db.Exec(`
		INSERT INTO blobs (key, sequence, timestamp, data)
		VALUES (
			?,
			COALESCE((SELECT MAX(sequence) FROM blobs), 0) + 1,
			?, ?
		)
		ON CONFLICT(key) DO UPDATE SET
			sequence = (SELECT MAX(sequence) FROM blobs) + 1,
			timestamp = excluded.timestamp,
			data = excluded.data
	`, key, time.Now().UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return classifySQLite(fmt.Errorf("write blob: %w", err))
	}
	return nil
}

// Delete implements Backend.
func (s *SQLiteBackend) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.Exec(`DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return classifySQLite(fmt.Errorf("delete blob: %w", err))
	}
	return nil
}

// List implements Backend.
func (s *SQLiteBackend) List(prefix string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT key, sequence, timestamp, LENGTH(data)
		FROM blobs
		WHERE instr(key, ?) = 1
		ORDER BY sequence
	`, prefix)
	if err != nil {
		return nil, classifySQLite(fmt.Errorf("list blobs: %w", err))
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var timestamp string
		if err := rows.Scan(&info.Key, &info.Sequence, &timestamp, &info.Size); err != nil {
			return nil, fmt.Errorf("scan blob info: %w", err)
		}
		info.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blobs: %w", err)
	}
	return infos, nil
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// classifySQLite marks lock contention as transient so writes are retried.
func classifySQLite(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return wserrors.Transient(err, "sqlite")
		}
	}
	return err
}
