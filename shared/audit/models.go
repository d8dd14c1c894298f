package audit

import (
	"encoding/json"
)

// AuditLogRequest is the payload accepted by the audit service
type AuditLogRequest struct {
	TraceID *string `json:"traceId,omitempty"`

	// Timestamp is RFC3339 in UTC
	Timestamp string `json:"timestamp"`

	EventType   *string `json:"eventType,omitempty"`   // MEMBER_MANAGEMENT, ACCOUNT_MANAGEMENT
	EventAction *string `json:"eventAction,omitempty"` // CREATE, READ, UPDATE, DELETE
	Status      string  `json:"status"`                // SUCCESS, FAILURE

	ActorType string `json:"actorType"` // ADMIN, STAFF, MEMBER, SYSTEM
	ActorID   string `json:"actorId"`

	// TenantID is the church the event belongs to
	TenantID   string  `json:"tenantId,omitempty"`
	TargetType string  `json:"targetType"` // MEMBERS, RELATIONSHIPS, USERS
	TargetID   *string `json:"targetId,omitempty"`

	// Metadata must not contain PII such as contact details or notes
	RequestMetadata    json.RawMessage `json:"requestMetadata,omitempty"`
	ResponseMetadata   json.RawMessage `json:"responseMetadata,omitempty"`
	AdditionalMetadata json.RawMessage `json:"additionalMetadata,omitempty"`
}

// Audit log status constants
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Event types
const (
	EventTypeMemberManagement  = "MEMBER_MANAGEMENT"
	EventTypeAccountManagement = "ACCOUNT_MANAGEMENT"
	EventTypeAccessDenied      = "ACCESS_DENIED"
)
