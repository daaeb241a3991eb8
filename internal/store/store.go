// Package store implements the namespaced key-value persistence layer backing
// every other component. One sqlite file, one table per namespace, each table
// shaped (key TEXT PRIMARY KEY, value TEXT).
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Fixed tables created at open time. Dynamic namespaces (xem_*) are created
// on first write.
var coreTables = []string{
	"config", "protected", "statistics", "skip_login", "skip_flaresolverr",
	"sessions", "hostname_issues", "imdb_metadata",
	"categories_download", "categories_search",
}

var tableNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var ErrInvalidTable = errors.New("invalid table name")

// Entry is one row of a namespace.
type Entry struct {
	Key   string
	Value string
}

// DB wraps the sqlite handle. Writers are serialized through a single mutex on
// top of sqlite's own locking so read-modify-write callers (statistics) stay
// consistent even under multi-process contention on the file.
type DB struct {
	mu     sync.Mutex
	db     *sql.DB
	known  map[string]bool
	knownM sync.Mutex
}

// Open creates the database file (and its directory) if needed and applies the
// embedded schema migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store migrations: %w", err)
	}

	s := &DB{db: db, known: make(map[string]bool, len(coreTables))}
	for _, t := range coreTables {
		s.known[t] = true
	}
	return s, nil
}

// Close releases the underlying sqlite handle.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) ensureTable(table string) error {
	if !tableNameRe.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}

	s.knownM.Lock()
	defer s.knownM.Unlock()
	if s.known[table] {
		return nil
	}
	if _, err := s.db.Exec(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value TEXT)", table)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	s.known[table] = true
	return nil
}

// Store inserts or replaces a row.
func (s *DB) Store(table, key, value string) error {
	if err := s.ensureTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (key, value) VALUES (?, ?)", table), key, value)
	if err != nil {
		return fmt.Errorf("store %s/%s: %w", table, key, err)
	}
	return nil
}

// Update rewrites an existing row, inserting when it is missing. Kept as a
// distinct operation so callers read like the contract they implement.
func (s *DB) Update(table, key, value string) error {
	return s.Store(table, key, value)
}

// Retrieve returns the value for a key. A miss and a transient read error look
// identical to callers: empty value, ok=false.
func (s *DB) Retrieve(table, key string) (string, bool) {
	if err := s.ensureTable(table); err != nil {
		return "", false
	}
	var value string
	err := s.db.QueryRow(fmt.Sprintf(
		"SELECT value FROM %s WHERE key = ?", table), key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("[store] retrieve %s/%s: %v", table, key, err)
		}
		return "", false
	}
	return value, true
}

// RetrieveAll returns every row of a namespace in insertion (rowid) order.
func (s *DB) RetrieveAll(table string) []Entry {
	if err := s.ensureTable(table); err != nil {
		return nil
	}
	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT key, value FROM %s ORDER BY rowid", table))
	if err != nil {
		log.Printf("[store] retrieve all %s: %v", table, err)
		return nil
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			log.Printf("[store] scan %s: %v", table, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// Delete removes a row. Deleting a missing row is not an error.
func (s *DB) Delete(table, key string) error {
	if err := s.ensureTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(fmt.Sprintf(
		"DELETE FROM %s WHERE key = ?", table), key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	return nil
}

// Mutate runs fn over the current value of a key and writes the result back
// while holding the writer lock. It is the read-modify-write primitive behind
// the statistics counters.
func (s *DB) Mutate(table, key string, fn func(current string, ok bool) string) error {
	if err := s.ensureTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current string
	err := s.db.QueryRow(fmt.Sprintf(
		"SELECT value FROM %s WHERE key = ?", table), key).Scan(&current)
	ok := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mutate read %s/%s: %w", table, key, err)
	}

	next := fn(current, ok)
	if _, err := s.db.Exec(fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (key, value) VALUES (?, ?)", table), key, next); err != nil {
		return fmt.Errorf("mutate write %s/%s: %w", table, key, err)
	}
	return nil
}
