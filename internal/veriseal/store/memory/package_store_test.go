package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/veriseal/server/internal/veriseal/shipment"
	"github.com/veriseal/server/internal/veriseal/store"
	"github.com/veriseal/server/internal/veriseal/store/memory"
)

var created = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func seedPackage(t *testing.T, s *memory.PackageStore, token, id, device string) {
	t.Helper()
	err := s.CreatePackage(context.Background(), shipment.Package{
		ID:        id,
		Token:     token,
		DeviceID:  device,
		SenderID:  "sender-1",
		Status:    shipment.StatusCreated,
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}
}

func TestCreatePackage_Duplicates(t *testing.T) {
	s := memory.NewPackageStore()
	seedPackage(t, s, "tok-1", "PKG-1", "D1")

	err := s.CreatePackage(context.Background(), shipment.Package{ID: "PKG-2", Token: "tok-1"})
	if !errors.Is(err, shipment.ErrDuplicateToken) {
		t.Errorf("expected ErrDuplicateToken, got %v", err)
	}
	err = s.CreatePackage(context.Background(), shipment.Package{ID: "PKG-1", Token: "tok-2"})
	if !errors.Is(err, shipment.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestFind_NotFound(t *testing.T) {
	s := memory.NewPackageStore()
	if _, err := s.FindByToken(context.Background(), "nope"); !errors.Is(err, shipment.ErrNotFound) {
		t.Errorf("FindByToken: expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindByID(context.Background(), "nope"); !errors.Is(err, shipment.ErrNotFound) {
		t.Errorf("FindByID: expected ErrNotFound, got %v", err)
	}
}

func TestAppendTamperEvent_DeviceMismatch(t *testing.T) {
	s := memory.NewPackageStore()
	seedPackage(t, s, "tok-1", "PKG-1", "D1")
	ctx := context.Background()

	err := s.AppendTamperEvent(ctx, "tok-1", shipment.TamperEvent{Kind: "shock", ReportingDeviceID: "D2"})
	if !errors.Is(err, shipment.ErrDeviceMismatch) {
		t.Fatalf("expected ErrDeviceMismatch, got %v", err)
	}

	p, _ := s.FindByToken(ctx, "tok-1")
	if p.IsTampered {
		t.Error("rejected report must not set is_tampered")
	}
	if p.Revision != 0 {
		t.Errorf("expected revision 0, got %d", p.Revision)
	}
}

func TestAppendTamperEvent_SetsFlagAndBumpsRevision(t *testing.T) {
	s := memory.NewPackageStore()
	seedPackage(t, s, "tok-1", "PKG-1", "D1")
	ctx := context.Background()

	err := s.AppendTamperEvent(ctx, "tok-1", shipment.TamperEvent{
		Kind:              "shock",
		DetectedAt:        created.Add(time.Minute),
		ReportingDeviceID: "D1",
		SensorPayload:     shipment.Blob(`{"g":9.1}`),
	})
	if err != nil {
		t.Fatalf("AppendTamperEvent: %v", err)
	}

	j, err := s.Journey(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Journey: %v", err)
	}
	if !j.Package.IsTampered {
		t.Error("expected is_tampered=true")
	}
	if j.Package.Revision != 1 {
		t.Errorf("expected revision 1, got %d", j.Package.Revision)
	}
	if len(j.Tampers) != 1 || string(j.Tampers[0].SensorPayload) != `{"g":9.1}` {
		t.Errorf("unexpected tamper log: %+v", j.Tampers)
	}
}

func TestCommitCheckpoint_CAS(t *testing.T) {
	s := memory.NewPackageStore()
	seedPackage(t, s, "tok-1", "PKG-1", "D1")
	ctx := context.Background()

	tr := shipment.Transition{
		Token:            "tok-1",
		ExpectedStatus:   shipment.StatusCreated,
		ExpectedRevision: 0,
		Entry: shipment.CheckpointEntry{
			CheckpointID: "CP001",
			ScannedAt:    created.Add(time.Hour),
			Decision:     shipment.DecisionProceed,
			TamperCheck:  shipment.TamperCheckPassed,
		},
		NewStatus: shipment.StatusInTransit,
	}
	if err := s.CommitCheckpoint(ctx, tr); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// Same expectations again: the revision has moved on.
	tr.Entry.ScannedAt = created.Add(2 * time.Hour)
	if err := s.CommitCheckpoint(ctx, tr); !errors.Is(err, shipment.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	p, _ := s.FindByToken(ctx, "tok-1")
	if p.Status != shipment.StatusInTransit || p.CurrentCheckpointID != "CP001" || p.Revision != 1 {
		t.Errorf("unexpected package after commit: %+v", p)
	}
}

func TestAppendCheckpoint_RejectsOutOfOrder(t *testing.T) {
	s := memory.NewPackageStore()
	seedPackage(t, s, "tok-1", "PKG-1", "D1")
	ctx := context.Background()

	e := shipment.CheckpointEntry{CheckpointID: "CP001", ScannedAt: created.Add(time.Hour), Decision: shipment.DecisionProceed}
	if err := s.AppendCheckpoint(ctx, "tok-1", e); err != nil {
		t.Fatalf("append: %v", err)
	}
	e.ScannedAt = created.Add(30 * time.Minute)
	if err := s.AppendCheckpoint(ctx, "tok-1", e); !errors.Is(err, shipment.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestSetStatus_CAS(t *testing.T) {
	s := memory.NewPackageStore()
	seedPackage(t, s, "tok-1", "PKG-1", "D1")
	ctx := context.Background()

	if err := s.SetStatus(ctx, "tok-1", shipment.StatusInTransit, shipment.StatusDelivered); !errors.Is(err, shipment.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.SetStatus(ctx, "tok-1", shipment.StatusCreated, shipment.StatusReturningToSender); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
}

func TestMarkAuthenticated_Idempotent(t *testing.T) {
	s := memory.NewPackageStore()
	seedPackage(t, s, "tok-1", "PKG-1", "D1")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.MarkAuthenticated(ctx, "tok-1"); err != nil {
			t.Fatalf("MarkAuthenticated #%d: %v", i+1, err)
		}
	}
	p, _ := s.FindByToken(ctx, "tok-1")
	if !p.Authenticated {
		t.Error("expected authenticated=true")
	}
}

func TestListPackages_FilterBySender(t *testing.T) {
	s := memory.NewPackageStore()
	ctx := context.Background()
	seedPackage(t, s, "tok-1", "PKG-1", "D1")
	if err := s.CreatePackage(ctx, shipment.Package{ID: "PKG-2", Token: "tok-2", SenderID: "sender-2", CreatedAt: created}); err != nil {
		t.Fatalf("create: %v", err)
	}

	pkgs, err := s.ListPackages(ctx, store.ListFilter{SenderID: "sender-2"})
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if len(pkgs) != 1 || pkgs[0].ID != "PKG-2" {
		t.Errorf("unexpected packages: %+v", pkgs)
	}
}

func TestJourney_ReturnsCopies(t *testing.T) {
	s := memory.NewPackageStore()
	seedPackage(t, s, "tok-1", "PKG-1", "D1")
	ctx := context.Background()

	_ = s.AppendCheckpoint(ctx, "tok-1", shipment.CheckpointEntry{
		CheckpointID:   "CP001",
		ScannedAt:      created.Add(time.Hour),
		Decision:       shipment.DecisionProceed,
		SensorSnapshot: shipment.Blob(`{"t":4}`),
	})

	j, _ := s.Journey(ctx, "tok-1")
	j.Checkpoints[0].SensorSnapshot[0] = 'X'

	again, _ := s.Journey(ctx, "tok-1")
	if string(again.Checkpoints[0].SensorSnapshot) != `{"t":4}` {
		t.Errorf("stored snapshot was mutated through a returned journey: %s", again.Checkpoints[0].SensorSnapshot)
	}
}

func TestDifferentPackagesDoNotBlock(t *testing.T) {
	s := memory.NewPackageStore()
	ctx := context.Background()
	seedPackage(t, s, "tok-a", "PKG-A", "DA")
	seedPackage(t, s, "tok-b", "PKG-B", "DB")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.AppendTamperEvent(ctx, "tok-a", shipment.TamperEvent{Kind: "shock", ReportingDeviceID: "DA", DetectedAt: created.Add(time.Duration(i) * time.Second)})
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = s.AppendTamperEvent(ctx, "tok-b", shipment.TamperEvent{Kind: "shock", ReportingDeviceID: "DB", DetectedAt: created.Add(time.Duration(i) * time.Second)})
		}(i)
	}
	wg.Wait()

	for _, tok := range []string{"tok-a", "tok-b"} {
		j, _ := s.Journey(ctx, tok)
		if len(j.Tampers) != 50 || j.Package.Revision != 50 {
			t.Errorf("%s: expected 50 events and revision 50, got %d / %d", tok, len(j.Tampers), j.Package.Revision)
		}
	}
}
