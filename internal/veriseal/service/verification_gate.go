package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"

	"github.com/veriseal/server/internal/veriseal/shipment"
)

// JourneyView is the read-only projection a verified receiver gets.
type JourneyView struct {
	PackageID           string            `json:"package_id"`
	Status              shipment.Status   `json:"status"`
	IsTampered          bool              `json:"is_tampered"`
	CurrentCheckpointID string            `json:"current_checkpoint_id,omitempty"`
	Metadata            shipment.Metadata `json:"metadata"`
	CreatedAt           time.Time         `json:"created_at"`
	Checkpoints         []CheckpointView  `json:"checkpoints"`
	Tampers             []TamperView      `json:"tamper_events"`
	CheckpointCount     int               `json:"checkpoint_count"`
	TamperCount         int               `json:"tamper_count"`
}

type CheckpointView struct {
	CheckpointID     string               `json:"checkpoint_id"`
	Name             string               `json:"name,omitempty"`
	Location         string               `json:"location,omitempty"`
	ScannedBy        string               `json:"scanned_by,omitempty"`
	ScannedAt        time.Time            `json:"scanned_at"`
	Decision         shipment.Decision    `json:"decision"`
	OperatorDecision shipment.Decision    `json:"operator_decision"`
	TamperCheck      shipment.TamperCheck `json:"tamper_check"`
	SensorSnapshot   shipment.Blob        `json:"sensor_snapshot,omitempty"`
	Notes            string               `json:"notes,omitempty"`
}

type TamperView struct {
	Kind          string        `json:"kind"`
	DetectedAt    time.Time     `json:"detected_at"`
	SensorPayload shipment.Blob `json:"sensor_payload,omitempty"`
}

// VerificationGate reveals a package's journey to whoever holds both its
// token and its verification code.
type VerificationGate struct {
	d Deps
	// dummy is compared against when the token is unknown so a miss costs
	// the same as a wrong code.
	dummy []byte
}

func NewVerificationGate(d Deps, bcryptCost int) (*VerificationGate, error) {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("000000"), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("verification gate: %w", err)
	}
	return &VerificationGate{d: d.withDefaults(), dummy: dummy}, nil
}

func (g *VerificationGate) Verify(ctx context.Context, token, code string) (JourneyView, error) {
	ctx, span := g.d.tracer().Start(ctx, "VerificationGate.Verify")
	defer span.End()

	view, result, err := g.verify(ctx, token, code)
	g.d.Metrics.Verifications.WithLabelValues(result).Inc()
	if err != nil {
		span.SetStatus(codes.Error, result)
		return JourneyView{}, err
	}
	return view, nil
}

func (g *VerificationGate) verify(ctx context.Context, token, code string) (JourneyView, string, error) {
	token = strings.TrimSpace(token)
	code = strings.TrimSpace(code)

	p, err := g.d.Store.FindByToken(ctx, token)
	if errors.Is(err, shipment.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(g.dummy, []byte(code))
		return JourneyView{}, "not_found", shipment.ErrNotFound
	}
	if err != nil {
		return JourneyView{}, "error", err
	}

	if err := bcrypt.CompareHashAndPassword(p.VerificationCodeHash, []byte(code)); err != nil || !ValidCode(code) {
		return JourneyView{}, "invalid_code", shipment.ErrInvalidCode
	}

	if err := g.d.Store.MarkAuthenticated(ctx, token); err != nil {
		return JourneyView{}, "error", err
	}
	j, err := g.d.Store.Journey(ctx, token)
	if err != nil {
		return JourneyView{}, "error", err
	}
	return g.view(j), "ok", nil
}

func (g *VerificationGate) view(j shipment.Journey) JourneyView {
	p := j.Package
	v := JourneyView{
		PackageID:           p.ID,
		Status:              p.Status,
		IsTampered:          p.IsTampered,
		CurrentCheckpointID: p.CurrentCheckpointID,
		Metadata:            p.Metadata,
		CreatedAt:           p.CreatedAt,
		Checkpoints:         make([]CheckpointView, 0, len(j.Checkpoints)),
		Tampers:             make([]TamperView, 0, len(j.Tampers)),
		CheckpointCount:     len(j.Checkpoints),
		TamperCount:         len(j.Tampers),
	}
	for _, e := range j.Checkpoints {
		cv := CheckpointView{
			CheckpointID:     e.CheckpointID,
			ScannedBy:        e.ScannedBy,
			ScannedAt:        e.ScannedAt,
			Decision:         e.Decision,
			OperatorDecision: e.OperatorDecision,
			TamperCheck:      e.TamperCheck,
			SensorSnapshot:   e.SensorSnapshot,
			Notes:            e.Notes,
		}
		if cp, ok := g.d.Registry.Lookup(e.CheckpointID); ok {
			cv.Name = cp.Name
			cv.Location = cp.Location
		}
		v.Checkpoints = append(v.Checkpoints, cv)
	}
	for _, ev := range j.Tampers {
		v.Tampers = append(v.Tampers, TamperView{
			Kind:          ev.Kind,
			DetectedAt:    ev.DetectedAt,
			SensorPayload: ev.SensorPayload,
		})
	}
	return v
}
