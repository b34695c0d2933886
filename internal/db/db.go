package db

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DB manages a write connection and a read-only pool.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex // serializes writes

	clockMu sync.RWMutex
	now     func() time.Time
	loc     *time.Location
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	params.Set("_cache_size", "-16000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open creates or opens a SQLite database at the given path.
// It configures WAL mode and returns a DB with separate
// writer and reader connections.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	db := &DB{
		writer: writer, reader: reader,
		now: time.Now, loc: time.Local,
	}

	if err := db.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

func (db *DB) init() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.Exec(schemaSQL)
	return err
}

// Close closes both writer and reader connections.
func (db *DB) Close() error {
	return errors.Join(db.writer.Close(), db.reader.Close())
}

// SetClock replaces the time source used for start and stop
// timestamps. Nil restores time.Now.
func (db *DB) SetClock(now func() time.Time) {
	db.clockMu.Lock()
	defer db.clockMu.Unlock()
	if now == nil {
		now = time.Now
	}
	db.now = now
}

// SetLocation sets the time zone whose day, week and month
// boundaries define the named stats ranges. Nil restores
// time.Local.
func (db *DB) SetLocation(loc *time.Location) {
	db.clockMu.Lock()
	defer db.clockMu.Unlock()
	if loc == nil {
		loc = time.Local
	}
	db.loc = loc
}

// Now returns the current time from the DB's clock.
func (db *DB) Now() time.Time {
	return db.clock()
}

func (db *DB) clock() time.Time {
	db.clockMu.RLock()
	defer db.clockMu.RUnlock()
	return db.now()
}

// localNow returns the current time in the stats location.
func (db *DB) localNow() time.Time {
	db.clockMu.RLock()
	defer db.clockMu.RUnlock()
	return db.now().In(db.loc)
}

// Update executes fn within a write lock and transaction.
// The transaction is committed if fn returns nil, rolled back
// otherwise.
func (db *DB) Update(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Reader returns the read-only connection pool.
func (db *DB) Reader() *sql.DB {
	return db.reader
}
