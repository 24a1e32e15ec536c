package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string // "sqlite" | "postgres"
	Path   string // sqlite file, e.g. "./data/veriseal.db"
	URL    string // postgres DSN
	Env    string // "dev" | "prod"
}

// Handle bundles an open pool with the dialect it speaks.
type Handle struct {
	DB      *sql.DB
	Dialect Dialect
}

func Open(ctx context.Context, cfg Config) (*Handle, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}

	var (
		conn    *sql.DB
		dialect Dialect
		err     error
	)

	switch cfg.Driver {
	case DriverSQLite:
		conn, err = openSQLite(cfg.Path)
		dialect = SQLite
	case DriverPostgres:
		conn, err = openPostgres(cfg.URL)
		dialect = Postgres
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	// Validate connection early.
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, conn, dialect); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Handle{DB: conn, Dialect: dialect}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/veriseal.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	// modernc.org/sqlite DSN with per-connection PRAGMAs.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open sqlite: %w", err)
	}

	// SQLite allows one writer; keep a single connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	return conn, nil
}

func openPostgres(url string) (*sql.DB, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	conn, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("sql.Open postgres: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(30 * time.Minute)
	return conn, nil
}

// Lanes is the number of writer lanes a driver can use in parallel.
func (h *Handle) Lanes() int {
	if h.Dialect == Postgres {
		return 8
	}
	return 1
}
