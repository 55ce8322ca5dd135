package saitei

import "time"

// Verdict is the outcome of adjudicating one claim.
type Verdict string

const (
	VerdictVerifiedTrue     Verdict = "verified_true"
	VerdictVerifiedFalse    Verdict = "verified_false"
	VerdictPartiallyTrue    Verdict = "partially_true"
	VerdictContradictory    Verdict = "contradictory"
	VerdictInsufficientData Verdict = "insufficient_data"
	VerdictUnverified       Verdict = "unverified"
	VerdictError            Verdict = "error"
)

// Priority orders verification work and extends cache lifetime for
// critical results.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Request is the public form of one verification request.
// It is a curated view of the internal request type for use in extension
// interfaces, with no internal package imports, so it is safe to use from
// outside the module.
type Request struct {
	ID         string
	Content    string
	Source     string
	Context    string
	Priority   Priority
	Strategies []string
	TimeoutMs  int64
	Metadata   map[string]any
}

// Outcome is one strategy's judgement of a request.
type Outcome struct {
	Strategy         string
	Verdict          Verdict
	Confidence       float64
	Reasoning        string
	ProcessingTimeMs int64
	EvidenceCount    int
}

// Evidence is one supporting or contradicting reference.
type Evidence struct {
	Source      string
	Description string
	Confidence  float64
	Supports    bool
}

// Result is the aggregated answer for one request.
type Result struct {
	RequestID             string
	Verdict               Verdict
	Confidence            float64
	Reasoning             []string
	SupportingEvidence    []Evidence
	ContradictoryEvidence []Evidence
	Outcomes              []Outcome
	ProcessingTimeMs      int64
	Error                 string
	CompletedAt           time.Time
}

// Reference is one external search result used as cross-reference evidence.
type Reference struct {
	URL        string
	Title      string
	Snippet    string
	Quality    float64
	Supports   bool
	Confidence float64
}

// Event is one observer event delivered to registered hooks and the SSE
// stream.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      string
	Severity  string
	TaskID    string
	Message   string
	Fields    map[string]any
}

// AgentKey is one credential registered for the POST /auth/token exchange.
type AgentKey struct {
	AgentID     string
	TenantID    string
	APIKey      string
	Roles       []string
	Permissions []string
}
