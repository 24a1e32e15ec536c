package types

import "github.com/veriseal/server/internal/veriseal/audit"

// AuditLogResponse lists audit entries newest first. Verified covers the
// whole window read from the log, before any package filter is applied.
type AuditLogResponse struct {
	Entries     []audit.Entry `json:"entries"`
	Count       int           `json:"count"`
	Verified    bool          `json:"verified"`
	VerifyError string        `json:"verify_error,omitempty"`
}
