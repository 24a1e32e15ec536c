package store

import (
	"context"

	"github.com/veriseal/server/internal/veriseal/shipment"
)

// ListFilter narrows ListPackages. Zero value lists everything.
type ListFilter struct {
	SenderID string
	Limit    int
}

// PackageStore is everything the engine needs from persistence.
//
// Every mutating call is all-or-nothing: on error (including context
// cancellation) nothing was applied and the call may be retried.
type PackageStore interface {
	CreatePackage(ctx context.Context, pkg shipment.Package) error
	FindByToken(ctx context.Context, token string) (shipment.Package, error)
	FindByID(ctx context.Context, id string) (shipment.Package, error)
	ListPackages(ctx context.Context, f ListFilter) ([]shipment.Package, error)
	Journey(ctx context.Context, token string) (shipment.Journey, error)

	// AppendCheckpoint appends without touching status. It still enforces
	// the append-only ordering rules.
	AppendCheckpoint(ctx context.Context, token string, entry shipment.CheckpointEntry) error
	// AppendTamperEvent appends, sets IsTampered and bumps Revision.
	AppendTamperEvent(ctx context.Context, token string, ev shipment.TamperEvent) error
	// SetStatus is a compare-and-set on the status alone.
	SetStatus(ctx context.Context, token string, expected, next shipment.Status) error
	// CommitCheckpoint appends the entry and sets the status in one unit,
	// guarded by the expected status and revision.
	CommitCheckpoint(ctx context.Context, tr shipment.Transition) error
	MarkAuthenticated(ctx context.Context, token string) error
}
