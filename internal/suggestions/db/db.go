package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// checkpointEvery bounds WAL growth while the daemon runs.
const checkpointEvery = 5 * time.Minute

// Options configures Open.
type Options struct {
	Logger   *slog.Logger
	Path     string
	ReadOnly bool
}

// DB is an opened database file. Writable handles checkpoint the WAL in the
// background until Close.
type DB struct {
	sql      *sql.DB
	path     string
	logger   *slog.Logger
	readOnly bool

	stop context.CancelFunc
	wg   sync.WaitGroup

	once     sync.Once
	closeErr error
}

// Open opens the database at opts.Path, creating the file and its directory
// when needed. Writable handles are migrated to SchemaVersion.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	sqlDB, err := connect(ctx, dsn(opts.Path, opts.ReadOnly), !opts.ReadOnly)
	if err != nil {
		return nil, err
	}

	d := &DB{sql: sqlDB, path: opts.Path, logger: opts.Logger, readOnly: opts.ReadOnly, stop: func() {}}
	if !opts.ReadOnly {
		var bg context.Context
		bg, d.stop = context.WithCancel(context.Background())
		d.wg.Add(1)
		go d.checkpointLoop(bg)
	}
	return d, nil
}

// OpenMemory returns a migrated private in-memory database.
func OpenMemory(ctx context.Context) (*sql.DB, error) {
	return connect(ctx, "file::memory:?_pragma=foreign_keys(1)", true)
}

// dsn builds a modernc.org/sqlite DSN; pragmas use its _pragma=name(value)
// form.
func dsn(path string, readOnly bool) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	if readOnly {
		q.Set("mode", "ro")
	}
	return "file:" + path + "?" + q.Encode()
}

func connect(ctx context.Context, dsn string, migrate bool) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database exists only on its connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if migrate {
		if err := RunMigrations(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	return sqlDB, nil
}

// DB returns the underlying handle.
func (d *DB) DB() *sql.DB { return d.sql }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Version returns the applied schema version.
func (d *DB) Version(ctx context.Context) (int, error) {
	return CurrentVersion(ctx, d.sql)
}

// Validate checks that every table and index exists.
func (d *DB) Validate(ctx context.Context) error {
	return ValidateSchema(ctx, d.sql)
}

// Close stops checkpointing, truncates the WAL and closes the handle. Later
// calls return the first result.
func (d *DB) Close() error {
	d.once.Do(func() {
		d.stop()
		d.wg.Wait()
		if !d.readOnly {
			d.checkpoint(context.Background())
		}
		d.closeErr = d.sql.Close()
	})
	return d.closeErr
}

func (d *DB) checkpointLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(checkpointEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkpoint(ctx)
		}
	}
}

func (d *DB) checkpoint(ctx context.Context) {
	if _, err := d.sql.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil && ctx.Err() == nil {
		d.logger.Warn("WAL checkpoint failed", "path", d.path, "error", err)
	}
}
