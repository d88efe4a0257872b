// Package models - audit_log.go defines the AuditLog model for recording mutating
// API calls: actor, action, affected resource, client IP, and metadata.
package models

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID            string                 `json:"id"`
	PrincipalKind *string                `json:"principal_kind"` // nil for anonymous calls such as login
	PrincipalID   *int64                 `json:"principal_id"`
	Action        string                 `json:"action"`        // "device.approved", "entry.denied"
	ResourceType  *string                `json:"resource_type"` // "device", "entry", "guard"
	ResourceID    *string                `json:"resource_id"`
	Metadata      map[string]interface{} `json:"metadata"` // JSONB
	IPAddress     *string                `json:"ip_address"`
	CreatedAt     time.Time              `json:"created_at"`
}
