package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/veriseal/server/internal/veriseal/service"
	"github.com/veriseal/server/internal/veriseal/shipment"
)

func TestReportTamper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.create(t, "D1")

	ev, err := f.ledger.ReportTamper(ctx, res.Package.Token, "D1", service.TamperReport{
		Kind:          " Seal-Broken ",
		DetectedAt:    base.Add(time.Minute),
		SensorPayload: shipment.Blob(`{"seal_intact":false}`),
	})
	if err != nil {
		t.Fatalf("ReportTamper: %v", err)
	}
	if ev.Kind != "seal-broken" || ev.EventID == "" {
		t.Errorf("unexpected event: %+v", ev)
	}

	p, _ := f.store.FindByToken(ctx, res.Package.Token)
	if !p.IsTampered {
		t.Error("expected is_tampered=true")
	}
	if p.Status != shipment.StatusCreated {
		t.Errorf("tamper report must not change status, got %s", p.Status)
	}
}

func TestReportTamper_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.create(t, "D1").Package.Token

	cases := []struct {
		name   string
		token  string
		device string
		kind   string
		want   error
	}{
		{"unknown token", "nope", "D1", "shock", shipment.ErrNotFound},
		{"wrong device", tok, "D2", "shock", shipment.ErrDeviceMismatch},
		{"no device", tok, "", "shock", shipment.ErrDeviceMismatch},
		{"empty kind", tok, "D1", "", shipment.ErrInvalidTamperKind},
		{"junk kind", tok, "D1", "drop table;", shipment.ErrInvalidTamperKind},
	}
	for _, tc := range cases {
		_, err := f.ledger.ReportTamper(ctx, tc.token, tc.device, service.TamperReport{Kind: tc.kind, DetectedAt: base})
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	j, _ := f.store.Journey(ctx, tok)
	if len(j.Tampers) != 0 || j.Package.IsTampered {
		t.Errorf("rejected reports must leave no trace: %+v", j)
	}
}

func TestEventsInWindow(t *testing.T) {
	events := []shipment.TamperEvent{
		{Kind: "a", DetectedAt: base},
		{Kind: "b", DetectedAt: base.Add(time.Minute)},
		{Kind: "c", DetectedAt: base.Add(2 * time.Minute)},
	}
	got := service.EventsInWindow(events, base, base.Add(time.Minute))
	if len(got) != 1 || got[0].Kind != "b" {
		t.Errorf("expected only b, got %+v", got)
	}
}

// IsTampered never goes back to false, whatever mix of operations follows.
func TestIsTamperedIsMonotonic(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 40
	properties := gopter.NewProperties(params)

	properties.Property("is_tampered is monotonic", prop.ForAll(
		func(ops []int) bool {
			f := newFixture(t)
			ctx := context.Background()
			tok := f.create(t, "D1").Package.Token

			seen := false
			at := base
			for _, op := range ops {
				at = at.Add(time.Minute)
				switch op {
				case 0:
					_, _ = f.ledger.ReportTamper(ctx, tok, "D1", service.TamperReport{Kind: "shock", DetectedAt: at})
				case 1:
					_, _ = f.ledger.ReportTamper(ctx, tok, "D9", service.TamperReport{Kind: "shock", DetectedAt: at})
				case 2:
					_, _ = f.svc.ScanCheckpoint(ctx, service.ScanRequest{Token: tok, CheckpointID: "CP002", ScannedAt: at, Decision: shipment.DecisionProceed})
				case 3:
					_, _ = f.svc.ScanCheckpoint(ctx, service.ScanRequest{Token: tok, CheckpointID: "CP003", ScannedAt: at, Decision: shipment.DecisionReturn})
				case 4:
					_, _ = f.svc.CompleteReturn(ctx, tok, "s")
				}

				p, err := f.store.FindByToken(ctx, tok)
				if err != nil {
					return false
				}
				if seen && !p.IsTampered {
					return false
				}
				seen = p.IsTampered
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 4)),
	))

	properties.TestingRun(t)
}

func tamperAt(at time.Time) service.TamperReport {
	return service.TamperReport{Kind: "shock", DetectedAt: at}
}
