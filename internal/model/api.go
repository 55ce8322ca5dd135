package model

import (
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope. Error carries the flat
// message for callers that only read a string; Detail carries the code.
type APIError struct {
	Error  string       `json:"error"`
	Status int          `json:"status"`
	Detail ErrorDetail  `json:"detail"`
	Meta   ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SubmitTaskRequest is the request body for POST /observer/tasks.
type SubmitTaskRequest struct {
	Description string         `json:"description"`
	SpecPath    string         `json:"spec_path,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SubmitTaskResult is the response for POST /observer/tasks.
type SubmitTaskResult struct {
	TaskID   string `json:"task_id"`
	Accepted bool   `json:"accepted"`
}

// Task is a unit of adjudication work tracked by the observer surface.
type Task struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenant_id"`
	Description string              `json:"description"`
	Status      string              `json:"status"` // pending | running | completed | failed
	Result      *VerificationResult `json:"result,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// ObserverStatusSummary is the response for GET /observer/status.
type ObserverStatusSummary struct {
	Status        ComponentStatus `json:"status"`
	Running       bool            `json:"running"`
	QueueDepth    int             `json:"queue_depth"`
	ActiveTasks   int             `json:"active_tasks"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Version       string          `json:"version"`
}

// ObserverMetricsSnapshot is the response for GET /observer/metrics.
type ObserverMetricsSnapshot struct {
	System       SystemMetrics    `json:"system"`
	Components   []HealthCheck    `json:"components"`
	Verification map[string]int64 `json:"verification"`
	ActiveAlerts []HealthAlert    `json:"active_alerts,omitempty"`
	CollectedAt  time.Time        `json:"collected_at"`
}

// ObserverProgressSummary is the response for GET /observer/progress.
type ObserverProgressSummary struct {
	TasksSubmitted   int64 `json:"tasks_submitted"`
	TasksCompleted   int64 `json:"tasks_completed"`
	TasksFailed      int64 `json:"tasks_failed"`
	ReasoningSteps   int64 `json:"reasoning_steps"`
	ObservationCount int64 `json:"observation_count"`
}

// ObserverEvent is one entry in the observer event log.
type ObserverEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"` // debug | info | warn | error
	TaskID    string         `json:"task_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// EventListResult is the paged response for GET /observer/logs.
type EventListResult struct {
	Events     []ObserverEvent `json:"events"`
	NextCursor string          `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

// ChainOfThoughtEntry is one recorded reasoning step.
type ChainOfThoughtEntry struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Step      int       `json:"step"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChainOfThoughtListResult is the paged response for CoT endpoints.
type ChainOfThoughtListResult struct {
	Entries    []ChainOfThoughtEntry `json:"entries"`
	NextCursor string                `json:"next_cursor,omitempty"`
	HasMore    bool                  `json:"has_more"`
}

// ArbiterControlResult is the response for POST /observer/arbiter/start|stop.
type ArbiterControlResult struct {
	Running bool   `json:"running"`
	Message string `json:"message,omitempty"`
}

// CommandRequest is the request body for POST /observer/commands.
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandResult is the response for POST /observer/commands.
type CommandResult struct {
	Accepted bool   `json:"accepted"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ObservationRequest is the request body for POST /observer/observations.
type ObservationRequest struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
	Author  string `json:"author,omitempty"`
}

// ObservationResult is the response for POST /observer/observations.
type ObservationResult struct {
	ID       string `json:"id"`
	Recorded bool   `json:"recorded"`
}
