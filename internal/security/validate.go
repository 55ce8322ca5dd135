package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation limits for agent registry inputs.
const (
	MaxAgentIDLen        = 100
	MaxAgentNameLen      = 200
	MaxTaskTypes         = 20
	MaxLanguages         = 50
	MaxSpecializations   = 20
	MaxLatencyMs         = 300_000
	MaxTokensUsed        = 1_000_000
	MaxUtilizationPct    = 100
)

// ValidationResult is the outcome of an input validator.
type ValidationResult struct {
	Valid     bool
	Errors    []string
	Sanitized map[string]any
}

func (v *ValidationResult) addError(format string, args ...any) {
	v.Valid = false
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

var (
	idSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

	modelFamilies = map[string]bool{
		"gpt": true, "claude": true, "gemini": true, "llama": true,
		"mistral": true, "qwen": true, "deepseek": true, "other": true,
	}
	taskTypes = map[string]bool{
		"code_generation": true, "code_review": true, "refactoring": true,
		"testing": true, "documentation": true, "debugging": true,
		"analysis": true, "verification": true, "planning": true,
	}
	languages = map[string]bool{
		"go": true, "python": true, "typescript": true, "javascript": true,
		"rust": true, "java": true, "c": true, "cpp": true, "csharp": true,
		"ruby": true, "kotlin": true, "swift": true, "sql": true, "shell": true,
	}
	specializations = map[string]bool{
		"frontend": true, "backend": true, "infra": true, "security": true,
		"data": true, "ml": true, "mobile": true, "embedded": true,
	}
)

// AgentData is the registry payload validated by ValidateAgentData.
type AgentData struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	ModelFamily     string   `json:"model_family"`
	TaskTypes       []string `json:"task_types,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	Specializations []string `json:"specializations,omitempty"`
}

// ValidateAgentData checks an agent registration payload. The sanitized map
// carries the id with disallowed characters stripped.
func ValidateAgentData(d AgentData) ValidationResult {
	res := ValidationResult{Valid: true, Sanitized: map[string]any{}}

	id := strings.TrimSpace(d.ID)
	if id == "" {
		res.addError("id must not be empty")
	} else if len(id) > MaxAgentIDLen {
		res.addError("id exceeds %d characters", MaxAgentIDLen)
	} else {
		res.Sanitized["id"] = idSanitizer.ReplaceAllString(id, "")
	}

	name := strings.TrimSpace(d.Name)
	if name == "" {
		res.addError("name must not be empty")
	} else if len(name) > MaxAgentNameLen {
		res.addError("name exceeds %d characters", MaxAgentNameLen)
	}

	if d.ModelFamily != "" && !modelFamilies[strings.ToLower(d.ModelFamily)] {
		res.addError("model_family %q is not recognized", d.ModelFamily)
	}

	validateEnumList(&res, "task_types", d.TaskTypes, taskTypes, MaxTaskTypes)
	validateEnumList(&res, "languages", d.Languages, languages, MaxLanguages)
	validateEnumList(&res, "specializations", d.Specializations, specializations, MaxSpecializations)

	return res
}

func validateEnumList(res *ValidationResult, field string, values []string, allowed map[string]bool, limit int) {
	if len(values) > limit {
		res.addError("%s exceeds %d entries", field, limit)
		return
	}
	for _, v := range values {
		if !allowed[strings.ToLower(v)] {
			res.addError("%s contains unknown value %q", field, v)
		}
	}
}

// PerformanceMetrics is the payload validated by ValidatePerformanceMetrics.
type PerformanceMetrics struct {
	QualityScore float64 `json:"quality_score"`
	LatencyMs    float64 `json:"latency_ms"`
	TokensUsed   float64 `json:"tokens_used"`
}

// ValidatePerformanceMetrics range-checks a performance report.
func ValidatePerformanceMetrics(m PerformanceMetrics) ValidationResult {
	res := ValidationResult{Valid: true}

	if m.QualityScore < 0 || m.QualityScore > 1 {
		res.addError("quality_score must be in [0,1], got %v", m.QualityScore)
	}
	if m.LatencyMs < 0 || m.LatencyMs > MaxLatencyMs {
		res.addError("latency_ms must be in [0,%d], got %v", MaxLatencyMs, m.LatencyMs)
	}
	if m.TokensUsed < 0 || m.TokensUsed > MaxTokensUsed {
		res.addError("tokens_used must be in [0,%d], got %v", MaxTokensUsed, m.TokensUsed)
	}
	return res
}

// QueryConstraints is the payload validated by ValidateQuery.
type QueryConstraints struct {
	MaxUtilization float64 `json:"max_utilization"`
	MinSuccessRate float64 `json:"min_success_rate"`
}

// ValidateQuery range-checks agent selection query constraints.
func ValidateQuery(q QueryConstraints) ValidationResult {
	res := ValidationResult{Valid: true}

	if q.MaxUtilization < 0 || q.MaxUtilization > MaxUtilizationPct {
		res.addError("max_utilization must be in [0,%d], got %v", MaxUtilizationPct, q.MaxUtilization)
	}
	if q.MinSuccessRate < 0 || q.MinSuccessRate > 1 {
		res.addError("min_success_rate must be in [0,1], got %v", q.MinSuccessRate)
	}
	return res
}
