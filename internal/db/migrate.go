package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockKey serialises concurrent Migrate calls across processes on
// Postgres. SQLite already holds a single writer.
const migrationLockKey = 0x5645524953 // "VERIS"

type migration struct {
	version int
	name    string
	sql     string
}

// Migrate applies every embedded migration that has not been recorded in
// schema_migrations yet, each in its own transaction. The schema sticks to
// types both SQLite and Postgres accept.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_ms BIGINT NOT NULL
);`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	ms, err := loadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	for _, m := range ms {
		if err := apply(ctx, db, d, m); err != nil {
			return err
		}
	}
	return nil
}

// Applied lists recorded migration versions in ascending order.
func Applied(ctx context.Context, db *sql.DB) ([]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version;")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// apply runs one migration. The applied check happens inside the
// transaction, after the lock, so two processes racing on a fresh Postgres
// database apply it once.
func apply(ctx context.Context, db *sql.DB, d Dialect, m migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if d == Postgres {
		if _, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}
	}

	var n int
	if err = tx.QueryRowContext(ctx,
		d.Rebind("SELECT COUNT(*) FROM schema_migrations WHERE version = ?;"), m.version,
	).Scan(&n); err != nil {
		return fmt.Errorf("check migration %d: %w", m.version, err)
	}
	if n > 0 {
		return tx.Rollback()
	}

	if _, err = tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.name, err)
	}
	if _, err = tx.ExecContext(ctx,
		d.Rebind("INSERT INTO schema_migrations(version, applied_at_ms) VALUES(?, ?);"),
		m.version, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", m.name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return nil
}

func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var ms []migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		v, err := parseVersion(e.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, e.Name(), v)
		}
		seen[v] = e.Name()

		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		ms = append(ms, migration{version: v, name: e.Name(), sql: string(b)})
	}

	slices.SortFunc(ms, func(a, b migration) int { return a.version - b.version })
	return ms, nil
}

// parseVersion reads the numeric prefix: 0001_init.sql -> 1.
func parseVersion(filename string) (int, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok || prefix == "" {
		return 0, fmt.Errorf("bad migration filename: %s", filename)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("bad migration version %s", filename)
	}
	return v, nil
}
