package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// DefaultBusyTimeout is used when Config.BusyTimeout is zero (seconds).
	DefaultBusyTimeout = 5

	openTimeout = 5 * time.Second
)

// WAL mode keeps these next to the database file.
var sidecarSuffixes = []string{"-wal", "-shm"}

// ErrForeignDatabase is returned when the file carries another
// application's id.
var ErrForeignDatabase = errors.New("database: file belongs to another application")

// DB is an open SQLite journal file.
type DB struct {
	*sql.DB
	path string
}

// Config describes the journal file.
type Config struct {
	Path string

	// WALMode lets readers (sqlite3 CLI, backups) run beside the writer.
	WALMode bool

	// BusyTimeout in seconds. Default: 5.
	BusyTimeout int

	// ApplicationID is stamped into a new file and checked on every open.
	// Zero skips the check.
	ApplicationID int32
}

func (c Config) dsn() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	// See: https://github.com/mattn/go-sqlite3#connection-string
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", c.Path, busy*int(time.Second/time.Millisecond))
	if c.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return dsn
}

// Open prepares the file with owner-only permissions, connects with a
// single-writer pool and verifies the application id.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("opening database: empty path")
	}
	if err := prepareFile(cfg.Path); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if cfg.ApplicationID != 0 {
		if err := db.claim(ctx, cfg.ApplicationID); err != nil {
			sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, err
		}
	}
	if cfg.WALMode {
		restrictSidecars(cfg.Path)
	}
	return db, nil
}

// prepareFile creates the directory and an empty file, then narrows the
// file mode. SQLite would otherwise create the file with the process umask.
func prepareFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, filePermissions)
	if err != nil {
		return fmt.Errorf("creating database file: %w", err)
	}
	f.Close() //nolint:errcheck // Read-only handle
	if err := os.Chmod(path, filePermissions); err != nil {
		return fmt.Errorf("restricting database file: %w", err)
	}
	return nil
}

func restrictSidecars(path string) {
	for _, suffix := range sidecarSuffixes {
		_ = os.Chmod(path+suffix, filePermissions) //nolint:errcheck // Absent until the first write
	}
}

// claim stamps id into a fresh file or checks it against an existing one.
func (db *DB) claim(ctx context.Context, id int32) error {
	current, err := db.ApplicationID(ctx)
	if err != nil {
		return err
	}
	switch current {
	case id:
		return nil
	case 0:
		// PRAGMA arguments cannot be bound; id is an int32.
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA application_id = %d", id)); err != nil {
			return fmt.Errorf("writing application id: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: id %#x, want %#x", ErrForeignDatabase, current, id)
	}
}

// ApplicationID reports the id stored in the file header.
func (db *DB) ApplicationID(ctx context.Context) (int32, error) {
	var id int32
	if err := db.QueryRowContext(ctx, "PRAGMA application_id").Scan(&id); err != nil {
		return 0, fmt.Errorf("reading application id: %w", err)
	}
	return id, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs SQLite's quick integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database health check failed: %s", result)
	}
	return nil
}
