package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/veriseal/server/internal/db"
	"github.com/veriseal/server/internal/veriseal/service"
	"github.com/veriseal/server/internal/veriseal/shipment"
	"github.com/veriseal/server/internal/veriseal/store"
	"github.com/veriseal/server/internal/veriseal/store/memory"
	"github.com/veriseal/server/internal/veriseal/store/sqlstore"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fixture struct {
	store  store.PackageStore
	clock  *clock
	deps   service.Deps
	svc    *service.PackageService
	ledger *service.TamperLedger
	gate   *service.VerificationGate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, memory.NewPackageStore())
}

// newSQLFixture runs the services over a migrated in-memory SQLite database
// and a single-lane writer, as the sqlite driver is deployed.
func newSQLFixture(t *testing.T) *fixture {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", name)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(context.Background(), conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	w := db.NewWorker(conn, 1)
	t.Cleanup(w.Close)
	return newFixtureOn(t, sqlstore.NewPackageStore(conn, db.SQLite, w))
}

func newFixtureOn(t *testing.T, st store.PackageStore) *fixture {
	t.Helper()

	f := &fixture{store: st, clock: &clock{t: base}}
	f.deps = service.Deps{
		Store:  f.store,
		Logger: silentLogger(),
		Now:    f.clock.Now,
	}
	f.svc = service.NewPackageService(f.deps, service.PackageConfig{BcryptCost: bcrypt.MinCost})
	f.ledger = service.NewTamperLedger(f.deps)

	gate, err := service.NewVerificationGate(f.deps, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewVerificationGate: %v", err)
	}
	f.gate = gate
	return f
}

func (f *fixture) create(t *testing.T, device string) service.CreateResult {
	t.Helper()
	res, err := f.svc.CreatePackage(context.Background(), service.CreateRequest{
		SenderID: "sender-1",
		DeviceID: device,
		Metadata: shipment.Metadata{OrderID: "ORD-1", PackageType: "electronics", ReceiverPhone: "+919876543210"},
	})
	if err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}
	return res
}

func (f *fixture) scan(t *testing.T, token, cp string, at time.Time, d shipment.Decision) service.ScanResult {
	t.Helper()
	res, err := f.svc.ScanCheckpoint(context.Background(), service.ScanRequest{
		Token:        token,
		CheckpointID: cp,
		ScannedBy:    "op-1",
		ScannedAt:    at,
		Decision:     d,
	})
	if err != nil {
		t.Fatalf("ScanCheckpoint %s: %v", cp, err)
	}
	return res
}
