package model

import "time"

// ComponentStatus is a health classification for one component or the system.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// WorseStatus returns the worse of two statuses. System health is the
// worst-of across components.
func WorseStatus(a, b ComponentStatus) ComponentStatus {
	rank := func(s ComponentStatus) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// HealthCheck is one component's probe result.
type HealthCheck struct {
	Component      string          `json:"component"`
	Status         ComponentStatus `json:"status"`
	Message        string          `json:"message,omitempty"`
	ResponseTimeMs float64         `json:"response_time_ms"`
	CheckedAt      time.Time       `json:"checked_at"`
	Details        map[string]any  `json:"details,omitempty"`
}

// SystemMetrics is one periodic resource snapshot.
type SystemMetrics struct {
	GoroutineCount int       `json:"goroutine_count"`
	HeapAllocBytes uint64    `json:"heap_alloc_bytes"`
	HeapSysBytes   uint64    `json:"heap_sys_bytes"`
	GCPauseMs      float64   `json:"gc_pause_ms"`
	NumGC          uint32    `json:"num_gc"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	CollectedAt    time.Time `json:"collected_at"`
}

// AlertSeverity classifies health alerts.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// HealthAlert is one raised (and possibly resolved) alert.
type HealthAlert struct {
	ID         string        `json:"id"`
	Component  string        `json:"component"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	RaisedAt   time.Time     `json:"raised_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// Resolved reports whether the alert has been resolved.
func (a HealthAlert) Resolved() bool { return a.ResolvedAt != nil }
