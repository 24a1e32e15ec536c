package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veriseal/server/internal/veriseal/shipment"
)

// DemoPackage is one scripted demo scenario.
type DemoPackage struct {
	Token    string
	Code     string
	DeviceID string
	Metadata shipment.Metadata
	// Route is scanned in order with "proceed", one hour apart.
	Route []string
	// TamperAfter injects a shock report after that many scans; -1 for none.
	TamperAfter int
}

func DemoPackages() []DemoPackage {
	return []DemoPackage{
		{
			Token: "demo_token_electronics_001", Code: "123456", DeviceID: "ESP32-DEMO-001",
			Metadata:    shipment.Metadata{OrderID: "ORD-1001", PackageType: "electronics", ReceiverPhone: "+919876543210", Notes: "Laptop, handle with care"},
			Route:       []string{"CP001", "CP002", "CP003"},
			TamperAfter: -1,
		},
		{
			Token: "demo_token_jewelry_002", Code: "654321", DeviceID: "ESP32-DEMO-002",
			Metadata:    shipment.Metadata{OrderID: "ORD-1002", PackageType: "jewelry", ReceiverPhone: "+919812345678"},
			Route:       []string{"CP001", "CP003", "CP005", "CP006"},
			TamperAfter: -1,
		},
		{
			Token: "demo_token_tampered_003", Code: "789012", DeviceID: "ESP32-DEMO-003",
			Metadata:    shipment.Metadata{OrderID: "ORD-1003", PackageType: "electronics", ReceiverPhone: "+919900112233"},
			Route:       []string{"CP001", "CP002"},
			TamperAfter: 1,
		},
		{
			Token: "demo_token_fashion_004", Code: "456789", DeviceID: "ESP32-DEMO-004",
			Metadata:    shipment.Metadata{OrderID: "ORD-1004", PackageType: "fashion", ReceiverPhone: "+919955667788"},
			TamperAfter: -1,
		},
		{
			Token: "demo_token_gaming_005", Code: "321654", DeviceID: "ESP32-DEMO-005",
			Metadata:    shipment.Metadata{OrderID: "ORD-1005", PackageType: "gaming", ReceiverPhone: "+919944332211"},
			Route:       []string{"CP001", "CP003", "CP004", "CP005"},
			TamperAfter: -1,
		},
	}
}

// SeedDev creates the demo packages and plays their journeys. Packages
// whose token already exists are left alone, so it is safe to re-run.
func SeedDev(ctx context.Context, svc *PackageService, ledger *TamperLedger, senderID string) (int, error) {
	start := svc.d.now().Add(-48 * time.Hour)
	created := 0

	for _, demo := range DemoPackages() {
		if _, err := svc.d.Store.FindByToken(ctx, demo.Token); err == nil {
			continue
		} else if !errors.Is(err, shipment.ErrNotFound) {
			return created, err
		}

		res, err := svc.create(ctx, CreateRequest{
			SenderID: senderID,
			DeviceID: demo.DeviceID,
			Metadata: demo.Metadata,
		}, demo.Token, demo.Code, start)
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", demo.Token, err)
		}
		created++

		at := start
		for i, cp := range demo.Route {
			if i == demo.TamperAfter {
				_, err := ledger.ReportTamper(ctx, demo.Token, demo.DeviceID, TamperReport{
					Kind:          "shock",
					DetectedAt:    at.Add(30 * time.Minute),
					SensorPayload: shipment.Blob(`{"violation_type":"shock","shock_g":9.4,"current_temp":24.1}`),
				})
				if err != nil {
					return created, fmt.Errorf("seed %s tamper: %w", demo.Token, err)
				}
			}

			at = at.Add(time.Hour)
			_, err := svc.ScanCheckpoint(ctx, ScanRequest{
				Token:          demo.Token,
				CheckpointID:   cp,
				ScannedBy:      "demo-operator",
				DeviceID:       demo.DeviceID,
				ScannedAt:      at,
				Decision:       shipment.DecisionProceed,
				SensorSnapshot: shipment.Blob(fmt.Sprintf(`{"temperature":%.1f,"humidity":45,"battery_level":%d}`, 22.5+float64(i), 95-5*i)),
			})
			if err != nil {
				return created, fmt.Errorf("seed %s scan %s: %w", res.Package.ID, cp, err)
			}
		}
	}
	return created, nil
}
