package types

import "encoding/json"

type ScanRequest struct {
	Token          string          `json:"token"`
	CheckpointID   string          `json:"checkpoint_id"`
	ScannedBy      string          `json:"scanned_by,omitempty"`
	DeviceID       string          `json:"device_id,omitempty"`
	ScannedAt      string          `json:"scanned_at,omitempty"` // optional RFC3339; server time when absent
	Decision       string          `json:"decision"`
	SensorSnapshot json.RawMessage `json:"sensor_snapshot,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

type ScanResponse struct {
	OK               bool   `json:"ok"`
	PackageID        string `json:"package_id"`
	CheckpointID     string `json:"checkpoint_id"`
	Decision         string `json:"decision"`
	OperatorDecision string `json:"operator_decision"`
	TamperCheck      string `json:"tamper_check"`
	Status           string `json:"status"`
	TamperEvents     int    `json:"tamper_events_in_window"`
	ScannedAt        string `json:"scanned_at"`
	ServerTime       string `json:"server_time"`
}
