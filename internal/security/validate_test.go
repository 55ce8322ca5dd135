package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAgentDataAccepts(t *testing.T) {
	res := ValidateAgentData(AgentData{
		ID:              "agent-42",
		Name:            "Review bot",
		ModelFamily:     "claude",
		TaskTypes:       []string{"code_review", "verification"},
		Languages:       []string{"go", "python"},
		Specializations: []string{"backend"},
	})
	require.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "agent-42", res.Sanitized["id"])
}

func TestValidateAgentDataSanitizesID(t *testing.T) {
	res := ValidateAgentData(AgentData{ID: "agent 42;drop", Name: "x"})
	require.True(t, res.Valid)
	assert.Equal(t, "agent42drop", res.Sanitized["id"])
}

func TestValidateAgentDataRejects(t *testing.T) {
	tests := []struct {
		name string
		data AgentData
		want string
	}{
		{"empty id", AgentData{Name: "x"}, "id must not be empty"},
		{"long id", AgentData{ID: strings.Repeat("a", MaxAgentIDLen+1), Name: "x"}, "id exceeds"},
		{"empty name", AgentData{ID: "a"}, "name must not be empty"},
		{"long name", AgentData{ID: "a", Name: strings.Repeat("n", MaxAgentNameLen+1)}, "name exceeds"},
		{"bad family", AgentData{ID: "a", Name: "x", ModelFamily: "skynet"}, "model_family"},
		{"bad task type", AgentData{ID: "a", Name: "x", TaskTypes: []string{"world_domination"}}, "task_types"},
		{"bad language", AgentData{ID: "a", Name: "x", Languages: []string{"cobol"}}, "languages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateAgentData(tt.data)
			require.False(t, res.Valid)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, res.Errors[0], tt.want)
		})
	}
}

func TestValidateAgentDataEnumListCap(t *testing.T) {
	many := make([]string, MaxTaskTypes+1)
	for i := range many {
		many[i] = "testing"
	}
	res := ValidateAgentData(AgentData{ID: "a", Name: "x", TaskTypes: many})
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "task_types exceeds")
}

func TestValidatePerformanceMetrics(t *testing.T) {
	res := ValidatePerformanceMetrics(PerformanceMetrics{QualityScore: 0.8, LatencyMs: 1200, TokensUsed: 4000})
	assert.True(t, res.Valid)

	res = ValidatePerformanceMetrics(PerformanceMetrics{QualityScore: 1.1})
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "quality_score")

	res = ValidatePerformanceMetrics(PerformanceMetrics{LatencyMs: MaxLatencyMs + 1})
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "latency_ms")

	res = ValidatePerformanceMetrics(PerformanceMetrics{TokensUsed: MaxTokensUsed + 1})
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "tokens_used")
}

func TestValidateQuery(t *testing.T) {
	assert.True(t, ValidateQuery(QueryConstraints{MaxUtilization: 80, MinSuccessRate: 0.9}).Valid)

	res := ValidateQuery(QueryConstraints{MaxUtilization: 101})
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "max_utilization")

	res = ValidateQuery(QueryConstraints{MinSuccessRate: -0.1})
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "min_success_rate")
}
