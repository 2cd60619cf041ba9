package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSchemaVersionTooNew is returned when the database was migrated by a
// newer binary.
var ErrSchemaVersionTooNew = errors.New("database schema version is newer than supported; upgrade prizm")

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []Migration{
	{Version: 1, Name: "initial schema", SQL: schemaV1},
}

// Migrations returns the known migrations in version order.
func Migrations() []Migration {
	return append([]Migration(nil), migrations...)
}

// CurrentVersion reports the highest applied migration, or 0 for a fresh
// database.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("inspect schema: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	var version int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// RunMigrations brings db up to SchemaVersion. Each migration commits in its
// own transaction together with its schema_migrations row.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("%w (database v%d, binary v%d)", ErrSchemaVersionTooNew, current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_ts) VALUES (?, ?)`,
		m.Version, time.Now().UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidateSchema reports every table and index of the current schema that
// is missing from db.
func ValidateSchema(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT type, name FROM sqlite_master WHERE type IN ('table', 'index')`)
	if err != nil {
		return fmt.Errorf("list schema objects: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var kind, name string
		if err := rows.Scan(&kind, &name); err != nil {
			return fmt.Errorf("list schema objects: %w", err)
		}
		present[kind+":"+name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list schema objects: %w", err)
	}

	var missing []string
	for _, name := range AllTables {
		if !present["table:"+name] {
			missing = append(missing, "table "+name)
		}
	}
	for _, name := range AllIndexes {
		if !present["index:"+name] {
			missing = append(missing, "index "+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing %s", strings.Join(missing, ", "))
	}
	return nil
}
