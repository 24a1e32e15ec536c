package shipment

import "time"

// Metadata is descriptive sender-supplied data. None of it affects the
// lifecycle.
type Metadata struct {
	OrderID       string `json:"order_id,omitempty"`
	PackageType   string `json:"package_type,omitempty"`
	ReceiverPhone string `json:"receiver_phone,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// Package is one physical shipment.
//
// Token, ID, VerificationCodeHash and DeviceID never change after
// creation. IsTampered only ever goes from false to true. Revision is
// bumped by every checkpoint or tamper append and guards CommitCheckpoint.
type Package struct {
	ID                   string
	Token                string
	VerificationCodeHash []byte
	DeviceID             string
	SenderID             string
	Status               Status
	CurrentCheckpointID  string
	IsTampered           bool
	Authenticated        bool
	Revision             int64
	Metadata             Metadata
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CheckpointEntry is one immutable scan record.
type CheckpointEntry struct {
	EntryID          string
	CheckpointID     string
	ScannedBy        string
	ScannedAt        time.Time
	Decision         Decision
	OperatorDecision Decision
	TamperCheck      TamperCheck
	SensorSnapshot   Blob
	Notes            string
}

// TamperEvent is one device-originated tamper report.
type TamperEvent struct {
	EventID           string
	DetectedAt        time.Time
	Kind              string
	SensorPayload     Blob
	ReportingDeviceID string
	ReceivedAt        time.Time
}

// Journey is the full ordered record for one package.
type Journey struct {
	Package     Package
	Checkpoints []CheckpointEntry
	Tampers     []TamperEvent
}

// Transition is the unit CommitCheckpoint applies atomically: append Entry
// and move the package to NewStatus, provided it is still at
// ExpectedStatus and ExpectedRevision.
type Transition struct {
	Token            string
	ExpectedStatus   Status
	ExpectedRevision int64
	Entry            CheckpointEntry
	NewStatus        Status
}
