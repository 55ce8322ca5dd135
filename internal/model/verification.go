// Package model holds the shared domain types: verification requests and
// results, security contexts and audit events, web navigation records, and
// the health plane's report shapes. Types here carry no behavior beyond
// derivations on their own fields.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"
)

// Verdict is the outcome of a verification, per strategy and overall.
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

// StrategyKind identifies a verification method.
type StrategyKind string

const (
	StrategyFactChecking          StrategyKind = "fact_checking"
	StrategySourceCredibility     StrategyKind = "source_credibility"
	StrategyCrossReference        StrategyKind = "cross_reference"
	StrategyConsistencyCheck      StrategyKind = "consistency_check"
	StrategyLogicalValidation     StrategyKind = "logical_validation"
	StrategyStatisticalValidation StrategyKind = "statistical_validation"
)

// StrategyPriority is the fixed ordering used for method selection and for
// breaking aggregation ties.
var StrategyPriority = []StrategyKind{
	StrategyFactChecking,
	StrategySourceCredibility,
	StrategyCrossReference,
	StrategyConsistencyCheck,
	StrategyLogicalValidation,
	StrategyStatisticalValidation,
}

// StrategyRank returns the position of k in StrategyPriority; unknown kinds
// sort last.
func StrategyRank(k StrategyKind) int {
	for i, s := range StrategyPriority {
		if s == k {
			return i
		}
	}
	return len(StrategyPriority)
}

// Priority is the request urgency class.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PriorityRank orders priorities; higher is more urgent.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// MaxClaimLength bounds VerificationRequest.Content.
const MaxClaimLength = 10_000

// VerificationRequest is the immutable input to the engine. It is created by
// the caller and consumed once.
type VerificationRequest struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Source     string         `json:"source,omitempty"`
	Context    string         `json:"context,omitempty"`
	Priority   Priority       `json:"priority,omitempty"`
	Strategies []StrategyKind `json:"strategies,omitempty"`
	TimeoutMs  int64          `json:"timeout_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Fingerprint derives the cache key: content, source, context, and the
// sorted requested strategy kinds. Requests that differ only in id, priority,
// or metadata share a fingerprint.
func (r VerificationRequest) Fingerprint() string {
	kinds := make([]string, len(r.Strategies))
	for i, k := range r.Strategies {
		kinds[i] = string(k)
	}
	slices.Sort(kinds)

	h := sha256.New()
	h.Write([]byte(r.Content))
	h.Write([]byte{0})
	h.Write([]byte(r.Source))
	h.Write([]byte{0})
	h.Write([]byte(r.Context))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(kinds, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// StrategyOutcome is one method's self-reported result.
// ProcessingTimeMs is always ≥ 1 so a ran-but-instant outcome is
// distinguishable from one that never ran.
type StrategyOutcome struct {
	Strategy         StrategyKind `json:"strategy"`
	Verdict          Verdict      `json:"verdict"`
	Confidence       float64      `json:"confidence"`
	Reasoning        string       `json:"reasoning"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	EvidenceCount    int          `json:"evidence_count"`
}

// Evidence is one supporting or contradicting reference.
type Evidence struct {
	Source      string  `json:"source"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Supports    bool    `json:"supports"`
}

// VerificationResult is the aggregated answer for one request.
// Invariant: Verdict == VerdictError implies Confidence == 0.
type VerificationResult struct {
	RequestID             string            `json:"request_id"`
	Verdict               Verdict           `json:"verdict"`
	Confidence            float64           `json:"confidence"`
	Reasoning             []string          `json:"reasoning"`
	SupportingEvidence    []Evidence        `json:"supporting_evidence,omitempty"`
	ContradictoryEvidence []Evidence        `json:"contradictory_evidence,omitempty"`
	StrategyOutcomes      []StrategyOutcome `json:"strategy_outcomes"`
	ProcessingTimeMs      int64             `json:"processing_time_ms"`
	Error                 string            `json:"error,omitempty"`
	CompletedAt           time.Time         `json:"completed_at"`
}

// StrategyHealth is one strategy's rolling liveness report.
type StrategyHealth struct {
	Available      bool    `json:"available"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	ErrorRate      float64 `json:"error_rate"`
}
