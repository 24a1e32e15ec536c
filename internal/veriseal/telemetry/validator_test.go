package telemetry_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/veriseal/server/internal/veriseal/shipment"
	"github.com/veriseal/server/internal/veriseal/telemetry"
)

func newValidator(t *testing.T) *telemetry.Validator {
	t.Helper()
	v, err := telemetry.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidateSnapshot(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		payload string
		ok      bool
	}{
		{"empty is allowed", ``, true},
		{"typical reading", `{"temperature":22.5,"humidity":45,"battery_level":87}`, true},
		{"unknown fields pass through", `{"temperature":4,"gps_fix":"none"}`, true},
		{"humidity out of range", `{"humidity":140}`, false},
		{"wrong type", `{"temperature":"hot"}`, false},
		{"bad timestamp", `{"read_at":"yesterday"}`, false},
		{"not an object", `[1,2,3]`, false},
		{"malformed json", `{"temperature":`, false},
		{"trailing data", `{"temperature":1} {}`, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateSnapshot(shipment.Blob(tc.payload))
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, telemetry.ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestValidateTamperPayload(t *testing.T) {
	v := newValidator(t)

	if err := v.ValidateTamperPayload(shipment.Blob(`{"violation_type":"shock","shock_g":9.4}`)); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}
	if err := v.ValidateTamperPayload(shipment.Blob(`{"violation_type":""}`)); !errors.Is(err, telemetry.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for empty violation_type, got %v", err)
	}
}

func TestValidate_RejectsOversizedPayload(t *testing.T) {
	v := newValidator(t)

	big := `{"note":"` + strings.Repeat("x", telemetry.MaxPayloadBytes) + `"}`
	if err := v.ValidateSnapshot(shipment.Blob(big)); !errors.Is(err, telemetry.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
