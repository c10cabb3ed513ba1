// Package migrate applies embedded SQL migrations to Postgres. Each
// *.sql file runs at most once; applied file names are tracked in the
// schema_migrations table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

const (
	createTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	isAppliedSQL   = `SELECT 1 FROM schema_migrations WHERE name = $1`
	recordSQL      = `INSERT INTO schema_migrations (name) VALUES ($1)`
	acquireLockSQL = `SELECT pg_advisory_lock($1)`
	releaseLockSQL = `SELECT pg_advisory_unlock($1)`
)

// migrationLockKey is "kore_mig" read as a big-endian int64. Instances
// racing to migrate the same database queue up on it.
const migrationLockKey int64 = 0x6b6f72655f6d6967

// Section markers follow the sql-migrate file convention.
const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Apply runs the pending *.sql files from migrationFS in lexical order.
// The whole run holds a cluster-wide advisory lock, so concurrent boots
// serialize instead of tripping over half-applied schema.
func Apply(ctx context.Context, db *sql.DB, migrationFS fs.FS) error {
	if db == nil {
		return errors.New("sql db is required")
	}

	files, err := listMigrations(migrationFS)
	if err != nil {
		return err
	}

	// The advisory lock is session-scoped, so the run pins one
	// connection from open to close.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, acquireLockSQL, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), releaseLockSQL, migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		applied, err := isApplied(ctx, conn, file)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := UpSection(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		if err := applyOne(ctx, conn, file, upSQL); err != nil {
			return err
		}
	}

	return nil
}

// applyOne executes one migration and records it in the same
// transaction, so a failed statement leaves no trace of the file.
// Postgres aborts an open transaction after any error; there is no
// tolerating statements that fail mid-file.
func applyOne(ctx context.Context, conn *sql.Conn, name, upSQL string) error {
	txn, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	defer func() { _ = txn.Rollback() }()

	if _, err := txn.ExecContext(ctx, upSQL); err != nil {
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if _, err := txn.ExecContext(ctx, recordSQL, name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

// UpSection returns the SQL between the Up and Down markers. Content
// without markers is returned whole.
func UpSection(content string) string {
	upIdx := strings.Index(content, upMarker)
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx+len(upMarker):]
	if downIdx := strings.Index(rest, downMarker); downIdx != -1 {
		return rest[:downIdx]
	}
	return rest
}

func listMigrations(migrationFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func isApplied(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	var one int
	err := conn.QueryRowContext(ctx, isAppliedSQL, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
