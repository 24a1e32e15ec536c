// Package telemetry owns the shape of device sensor payloads. The
// lifecycle engine stores them as opaque blobs; they are checked here at
// the transport boundary.
package telemetry

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/veriseal/server/internal/veriseal/shipment"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var ErrInvalidPayload = errors.New("invalid sensor payload")

// MaxPayloadBytes bounds a single snapshot or tamper payload.
const MaxPayloadBytes = 16 << 10

const schemaBase = "https://veriseal.local/schemas/"

type Validator struct {
	snapshot *jsonschema.Schema
	tamper   *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true

	for _, name := range []string{"snapshot.schema.json", "tamper.schema.json"} {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("telemetry schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("telemetry schema %s load failed: %w", name, err)
		}
	}

	snap, err := c.Compile(schemaBase + "snapshot.schema.json")
	if err != nil {
		return nil, fmt.Errorf("telemetry snapshot schema compile failed: %w", err)
	}
	tamper, err := c.Compile(schemaBase + "tamper.schema.json")
	if err != nil {
		return nil, fmt.Errorf("telemetry tamper schema compile failed: %w", err)
	}
	return &Validator{snapshot: snap, tamper: tamper}, nil
}

// MustNewValidator is NewValidator for callers that treat a broken
// embedded schema as a programming error.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateSnapshot checks a checkpoint sensor snapshot. An empty blob is
// allowed: snapshots are optional.
func (v *Validator) ValidateSnapshot(b shipment.Blob) error {
	return validate(v.snapshot, b)
}

// ValidateTamperPayload checks the sensor data attached to a tamper report.
func (v *Validator) ValidateTamperPayload(b shipment.Blob) error {
	return validate(v.tamper, b)
}

func validate(s *jsonschema.Schema, b shipment.Blob) error {
	if len(b) == 0 {
		return nil
	}
	if len(b) > MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidPayload, len(b), MaxPayloadBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidPayload)
	}

	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
