// Package state persists the daemon's applied network state across
// restarts.
//
// The store is a small bucketed key-value table in SQLite (pure Go
// driver, no CGO). Values are opaque bytes; typed access goes through
// bucket helpers such as BaselineBucket.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"grimm.is/cloudnet/internal/clock"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrBucketMissing = errors.New("bucket does not exist")
	ErrStoreClosed   = errors.New("store is closed")
)

// Store is the state storage interface.
type Store interface {
	EnsureBucket(name string) error

	Get(bucket, key string) ([]byte, error)
	Set(bucket, key string, value []byte) error
	Delete(bucket, key string) error

	GetJSON(bucket, key string, v any) error
	SetJSON(bucket, key string, v any) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
	clock  clock.Clock
}

// Options configures the SQLite store.
type Options struct {
	Path    string // Database file path (":memory:" for in-memory)
	WALMode bool
	Clock   clock.Clock
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{Path: path, WALMode: true}
}

const schema = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	bucket     TEXT NOT NULL REFERENCES buckets(name) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	value      BLOB,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (bucket, key)
);`

// NewSQLiteStore opens (creating if needed) the store at opts.Path.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && opts.Path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema in %s: %w", opts.Path, err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real
	}
	return &SQLiteStore{db: db, clock: clk}, nil
}

// lock takes the store mutex, failing once the store is closed.
func (s *SQLiteStore) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	return nil
}

// EnsureBucket creates the bucket unless it already exists.
func (s *SQLiteStore) EnsureBucket(name string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	_, err := s.db.Exec("INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)", name, s.clock.Now())
	return err
}

// Get retrieves a value by bucket and key.
func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var value []byte
	err := s.db.QueryRow("SELECT value FROM entries WHERE bucket = ? AND key = ?", bucket, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

// Set stores a value, creating or replacing the entry.
func (s *SQLiteStore) Set(bucket, key string, value []byte) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	var one int
	err := s.db.QueryRow("SELECT 1 FROM buckets WHERE name = ?", bucket).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrBucketMissing, bucket)
	}
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO entries (bucket, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, bucket, key, value, s.clock.Now())
	return err
}

// Delete removes a key. A missing key is ErrNotFound.
func (s *SQLiteStore) Delete(bucket, key string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM entries WHERE bucket = ? AND key = ?", bucket, key)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJSON retrieves and unmarshals a JSON value.
func (s *SQLiteStore) GetJSON(bucket, key string, v any) error {
	data, err := s.Get(bucket, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON marshals and stores a JSON value.
func (s *SQLiteStore) SetJSON(bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", bucket, key, err)
	}
	return s.Set(bucket, key, data)
}

// Close closes the store. Closing twice is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
