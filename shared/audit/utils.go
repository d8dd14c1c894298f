package audit

import (
	"encoding/json"
	"log/slog"
	"time"
)

// MarshalMetadata marshals metadata to json.RawMessage. It returns nil for
// nil metadata and "{}" when marshaling fails.
func MarshalMetadata(metadata map[string]interface{}) json.RawMessage {
	if metadata == nil {
		return nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		slog.Error("Failed to marshal metadata for audit", "error", err)
		return json.RawMessage("{}")
	}
	return json.RawMessage(bytes)
}

// CurrentTimestamp returns current UTC time in RFC3339 format.
func CurrentTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NewEvent fills the fields every audit event carries
func NewEvent(eventType, action, status, actorType, actorID, tenantID, targetType, targetID string) *AuditLogRequest {
	event := &AuditLogRequest{
		Timestamp:  CurrentTimestamp(),
		EventType:  &eventType,
		Status:     status,
		ActorType:  actorType,
		ActorID:    actorID,
		TenantID:   tenantID,
		TargetType: targetType,
	}
	if action != "" {
		event.EventAction = &action
	}
	if targetID != "" {
		event.TargetID = &targetID
	}
	return event
}
