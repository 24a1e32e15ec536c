package service_test

import (
	"context"
	"testing"

	"github.com/veriseal/server/internal/veriseal/service"
	"github.com/veriseal/server/internal/veriseal/shipment"
)

func TestSeedDev(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := service.SeedDev(ctx, f.svc, f.ledger, "demo-sender")
	if err != nil {
		t.Fatalf("SeedDev: %v", err)
	}
	if n != len(service.DemoPackages()) {
		t.Fatalf("expected %d packages, got %d", len(service.DemoPackages()), n)
	}

	want := map[string]shipment.Status{
		"demo_token_electronics_001": shipment.StatusInTransit,
		"demo_token_jewelry_002":     shipment.StatusDelivered,
		"demo_token_tampered_003":    shipment.StatusReturningToSender,
		"demo_token_fashion_004":     shipment.StatusCreated,
		"demo_token_gaming_005":      shipment.StatusInTransit,
	}
	for tok, status := range want {
		p, err := f.store.FindByToken(ctx, tok)
		if err != nil {
			t.Fatalf("%s: %v", tok, err)
		}
		if p.Status != status {
			t.Errorf("%s: expected %s, got %s", tok, status, p.Status)
		}
	}

	// Fixed PINs unlock the demo journeys.
	view, err := f.gate.Verify(ctx, "demo_token_tampered_003", "789012")
	if err != nil {
		t.Fatalf("Verify demo package: %v", err)
	}
	if !view.IsTampered || view.CheckpointCount != 2 {
		t.Errorf("unexpected tampered demo view: %+v", view)
	}

	again, err := service.SeedDev(ctx, f.svc, f.ledger, "demo-sender")
	if err != nil {
		t.Fatalf("second SeedDev: %v", err)
	}
	if again != 0 {
		t.Errorf("expected re-seed to create nothing, got %d", again)
	}
}
