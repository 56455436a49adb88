package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
)

// SQLiteBackend persists entries to SQLite.
// It is suitable for single-host production use.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteBackend opens (or creates) the database at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS featureflow_records (
			identity TEXT NOT NULL,
			grp TEXT NOT NULL,
			ts TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (identity, grp, ts)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// NewSQLiteStore returns a Store over a SQLite database at path.
func NewSQLiteStore(name, path string) (*Ordered, error) {
	backend, err := NewSQLiteBackend(path)
	if err != nil {
		return nil, err
	}
	return NewOrdered(name, backend), nil
}

// Kind implements Backend.
func (s *SQLiteBackend) Kind() string {
	return "sqlite"
}

// Load implements Backend.
func (s *SQLiteBackend) Load(key Key) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	var payload []byte
	err := s.db.QueryRow(`
		SELECT payload FROM featureflow_records
		WHERE identity = ? AND grp = ? AND ts = ?
	`, key.Identity, key.Group, timestampColumn(key)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, sqliteError("load", err)
	}

	rec, err := Unmarshal(payload)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Put implements Backend.
func (s *SQLiteBackend) Put(key Key, rec Record) error {
	payload, err := Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err = s.db.Exec(`
		INSERT INTO featureflow_records (identity, grp, ts, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity, grp, ts) DO UPDATE SET
			payload = excluded.payload
	`, key.Identity, key.Group, timestampColumn(key), payload)
	if err != nil {
		return sqliteError("save", err)
	}
	return nil
}

// Remove implements Backend.
func (s *SQLiteBackend) Remove(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		DELETE FROM featureflow_records
		WHERE identity = ? AND grp = ? AND ts = ?
	`, key.Identity, key.Group, timestampColumn(key))
	if err != nil {
		return sqliteError("delete", err)
	}
	return nil
}

// Scan implements Backend.
func (s *SQLiteBackend) Scan(identity, group string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT identity, grp, ts, payload
		FROM featureflow_records
		WHERE (? = '' OR identity = ?) AND (? = '' OR grp = ?)
	`, identity, identity, group, group)
	if err != nil {
		return nil, sqliteError("scan", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			key     Key
			ts      string
			payload []byte
		)
		if err := rows.Scan(&key.Identity, &key.Group, &ts, &payload); err != nil {
			return nil, sqliteError("scan row", err)
		}
		if key.Timestamp, err = parseTimestampColumn(ts); err != nil {
			return nil, err
		}
		rec, err := Unmarshal(payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: key, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteError("iterate", err)
	}
	return entries, nil
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

func sqliteError(op string, err error) error {
	return &fferrors.BackendError{
		Backend:   "sqlite",
		Op:        op,
		Temporary: isTransientSQLiteErr(err),
		Err:       err,
	}
}

// isTransientSQLiteErr reports lock contention that clears on retry.
// modernc.org/sqlite embeds result codes in the message text.
func isTransientSQLiteErr(err error) bool {
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
