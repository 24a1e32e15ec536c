package types

import "encoding/json"

type TamperRequest struct {
	Token         string          `json:"token"`
	DeviceID      string          `json:"device_id"`
	Kind          string          `json:"kind"`
	DetectedAt    string          `json:"detected_at,omitempty"` // optional RFC3339
	SensorPayload json.RawMessage `json:"sensor_payload,omitempty"`
}

type TamperResponse struct {
	OK         bool   `json:"ok"`
	EventID    string `json:"event_id"`
	Kind       string `json:"kind"`
	DetectedAt string `json:"detected_at"`
	ServerTime string `json:"server_time"`
}
