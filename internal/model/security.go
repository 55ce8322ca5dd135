package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SecurityContext is the authenticated identity attached to every operation.
// The tenant always derives from the validated token, never from the caller.
type SecurityContext struct {
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasPermission reports whether the context grants perm. The wildcard "*"
// grants everything.
func (sc *SecurityContext) HasPermission(perm string) bool {
	for _, p := range sc.Permissions {
		if p == "*" || p == perm {
			return true
		}
	}
	return false
}

// ScopedID prefixes a raw resource id with the context's tenant.
func (sc *SecurityContext) ScopedID(rawID string) string {
	return sc.TenantID + ":" + rawID
}

// OwnsResource reports whether a resource id belongs to this tenant.
// Unscoped ids (no tenant prefix) are treated as owned.
func (sc *SecurityContext) OwnsResource(resourceID string) bool {
	tenant, _, ok := strings.Cut(resourceID, ":")
	if !ok {
		return true
	}
	return tenant == sc.TenantID
}

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	AuditAuthenticationFailure AuditEventType = "authentication_failure"
	AuditAuthorizationFailure  AuditEventType = "authorization_failure"
	AuditSecurityViolation     AuditEventType = "security_violation"
	AuditResourceCreate        AuditEventType = "resource_create"
	AuditResourceRead          AuditEventType = "resource_read"
	AuditResourceUpdate        AuditEventType = "resource_update"
	AuditResourceDelete        AuditEventType = "resource_delete"
	AuditResourceQuery         AuditEventType = "resource_query"
)

// AuditResult is the recorded outcome of an audited operation.
type AuditResult string

const (
	AuditSuccess AuditResult = "success"
	AuditFailure AuditResult = "failure"
	AuditBlocked AuditResult = "blocked"
)

// AuditEvent is one security audit log entry.
type AuditEvent struct {
	ID           uuid.UUID      `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	EventType    AuditEventType `json:"event_type"`
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id"`
	SessionID    string         `json:"session_id,omitempty"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Result       AuditResult    `json:"result"`
	ErrorMessage string         `json:"error_message,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
}

// RateLimitWindow is one identity's fixed-window counter state.
type RateLimitWindow struct {
	Count     int       `json:"count"`
	ResetTime time.Time `json:"reset_time"`
}
