package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// FileName is the coordination database file name inside the data directory.
const FileName = "reconflow.db"

// DB wraps the shared SQLite connection used for pipeline coordination.
type DB struct {
	// conn is the underlying SQL database connection.
	conn *sql.DB

	// path is the path to the SQLite database file.
	path string
}

// Options configures how the coordination database is opened.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging. Recommended: the orchestrator
	// polls job state while workers write it, and WAL keeps readers from
	// blocking writers.
	EnableWAL bool

	// BusyTimeout is how long a statement waits on a locked database
	// before failing. Multiple worker processes share the file, so a
	// non-zero timeout absorbs short write bursts.
	BusyTimeout time.Duration
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
		BusyTimeout:       5 * time.Second,
	}
}

// Open opens or creates the coordination database in dir.
// If CreateIfNotExists is false and the database doesn't exist, an error is
// returned; this is how read-only commands (status inspection) avoid
// creating empty state.
func Open(dir string, opts Options) (*DB, error) {
	path := filepath.Join(dir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("coordination database not found at %s", path)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite connection string: mode=rw prevents creating new
	// files, mode=rwc allows creation.
	dsn := path + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = path + "?mode=rwc"
	}
	if opts.BusyTimeout > 0 {
		dsn += fmt.Sprintf("&_pragma=busy_timeout(%d)", opts.BusyTimeout.Milliseconds())
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY churn inside one process.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{conn: conn, path: path}

	if opts.EnableWAL {
		if _, err := conn.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	return db, nil
}

// Conn exposes the underlying connection for the jobstore and stream
// packages to build their schemas on.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path. Workers launched as separate
// processes receive this path and open their own connection to it.
func (db *DB) Path() string {
	return db.path
}

// Ping verifies the backend is reachable and writable. The orchestrator
// calls this before accepting any work so a misconfigured data directory
// fails fast and loudly instead of producing silent timeouts later.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("coordination database unreachable: %w", err)
	}
	// A ping succeeds on a read-only file; probe writability explicitly.
	if _, err := db.conn.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS self_check (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("coordination database not writable: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// ParseTimestamp attempts to parse a timestamp string using multiple
// formats. SQLite may return timestamps in different formats depending on
// configuration. If parsing fails with all formats, returns zero time.
func ParseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
