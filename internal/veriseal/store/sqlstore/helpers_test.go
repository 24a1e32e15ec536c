package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/veriseal/server/internal/db"
	"github.com/veriseal/server/internal/veriseal/shipment"
	"github.com/veriseal/server/internal/veriseal/store/sqlstore"
)

var created = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// openTestDB returns an in-memory SQLite connection with the production
// PRAGMAs and schema. It is closed when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Subtest names contain slashes, which the file: URI would treat as a path.
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf(
		"file:pkg_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}
	if err := db.Migrate(context.Background(), conn, db.SQLite); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestStore wires a PackageStore over a fresh database and a
// single-lane writer.
func newTestStore(t *testing.T) *sqlstore.PackageStore {
	t.Helper()

	conn := openTestDB(t)
	w := db.NewWorker(conn, 1)
	t.Cleanup(w.Close)
	return sqlstore.NewPackageStore(conn, db.SQLite, w)
}

func seedPackage(t *testing.T, s *sqlstore.PackageStore, token, id, device string) {
	t.Helper()
	err := s.CreatePackage(context.Background(), shipment.Package{
		ID:                   id,
		Token:                token,
		VerificationCodeHash: []byte("$2a$10$hash"),
		DeviceID:             device,
		SenderID:             "sender-1",
		Status:               shipment.StatusCreated,
		Metadata:             shipment.Metadata{OrderID: "ORD-1", ReceiverPhone: "+919876543210"},
		CreatedAt:            created,
	})
	if err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}
}
