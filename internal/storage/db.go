// Package storage persists call history and the known-peer cache. SQLite
// (modernc, pure Go) is the default; MySQL is supported for deployments
// that share one history database between peers.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"
)

var log = logging.Logger("storage")

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

var (
	ErrUnknownDriver = errors.New("storage: unknown driver")
	ErrNotFound      = errors.New("storage: not found")
)

var schema = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS call_history (
			id               TEXT PRIMARY KEY,
			caller           TEXT NOT NULL,
			receiver         TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'pending',
			started_at       INTEGER NOT NULL,
			ended_at         INTEGER,
			duration_seconds INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS call_history_started ON call_history (started_at)`,
		`CREATE TABLE IF NOT EXISTS known_peers (
			peer_id   TEXT PRIMARY KEY,
			name      TEXT NOT NULL DEFAULT '',
			last_seen INTEGER NOT NULL
		)`,
	},
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS call_history (
			id               VARCHAR(36) PRIMARY KEY,
			caller           VARCHAR(128) NOT NULL,
			receiver         VARCHAR(128) NOT NULL,
			status           VARCHAR(16) NOT NULL DEFAULT 'pending',
			started_at       BIGINT NOT NULL,
			ended_at         BIGINT NULL,
			duration_seconds INT NULL,
			INDEX call_history_started (started_at)
		)`,
		`CREATE TABLE IF NOT EXISTS known_peers (
			peer_id   VARCHAR(128) PRIMARY KEY,
			name      VARCHAR(255) NOT NULL DEFAULT '',
			last_seen BIGINT NOT NULL
		)`,
	},
}

// DB wraps the history database.
type DB struct {
	db     *sql.DB
	driver string
	mu     sync.RWMutex
}

// Open opens or creates the database. For sqlite dsn is a file path; its
// directory is created if needed. For mysql dsn is a go-sql-driver DSN.
func Open(driver, dsn string) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		// WAL + busy timeout so the history worker and the HTTP API can
		// read and write concurrently.
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	case DriverMySQL:
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("mysql ping: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	for _, stmt := range schema[driver] {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	log.Infof("STORAGE: %s database ready", driver)
	return &DB{db: db, driver: driver}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Driver returns the driver name the database was opened with.
func (d *DB) Driver() string {
	return d.driver
}

func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.ExecContext(ctx, query, args...)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db.QueryContext(ctx, query, args...)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
