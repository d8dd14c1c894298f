package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Auditor logs audit events without blocking the caller. Implementations
// degrade to a no-op when the audit service is unavailable.
type Auditor interface {
	LogEvent(ctx context.Context, event *AuditLogRequest)
	IsEnabled() bool
}

var (
	globalAuditor Auditor
	globalMu      sync.RWMutex
)

// InitializeGlobalAudit installs the auditor used by LogAuditEvent
func InitializeGlobalAudit(client Auditor) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalAuditor = client
}

// LogAuditEvent logs an event through the global auditor
func LogAuditEvent(ctx context.Context, event *AuditLogRequest) {
	globalMu.RLock()
	a := globalAuditor
	globalMu.RUnlock()

	if a == nil {
		slog.Warn("Audit is not initialized; audit event not logged")
		return
	}
	if !a.IsEnabled() {
		return
	}
	a.LogEvent(ctx, event)
}

// ResetGlobalAudit clears the global auditor. Tests only.
func ResetGlobalAudit() {
	InitializeGlobalAudit(nil)
}
