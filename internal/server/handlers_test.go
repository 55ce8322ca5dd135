package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/saitei/internal/arbiter"
	"github.com/ashita-ai/saitei/internal/audit"
	"github.com/ashita-ai/saitei/internal/health"
	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/ratelimit"
	"github.com/ashita-ai/saitei/internal/security"
	"github.com/ashita-ai/saitei/internal/strategy"
	"github.com/ashita-ai/saitei/internal/verify"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// stubStrategy always returns a fixed verdict.
type stubStrategy struct {
	kind    model.StrategyKind
	verdict model.Verdict
	conf    float64
}

func (s *stubStrategy) Kind() model.StrategyKind { return s.kind }
func (s *stubStrategy) IsAvailable() bool        { return true }
func (s *stubStrategy) Health() model.StrategyHealth {
	return model.StrategyHealth{Available: true}
}

func (s *stubStrategy) Verify(context.Context, model.VerificationRequest) (model.StrategyOutcome, error) {
	return model.StrategyOutcome{
		Strategy:         s.kind,
		Verdict:          s.verdict,
		Confidence:       s.conf,
		Reasoning:        "stub",
		ProcessingTimeMs: 1,
	}, nil
}

type testServer struct {
	handler  http.Handler
	tokens   *security.TokenManager
	envelope *security.Envelope
	arb      *arbiter.Arbiter
	events   *arbiter.EventLog
	auditLog *audit.Log
	broker   *Broker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tokens, err := security.NewTokenManager("", "", time.Hour)
	require.NoError(t, err)

	auditLog := audit.New(testLogger(), 1000, 90, nil)
	window := ratelimit.NewWindowLimiter(time.Minute, 1000)
	t.Cleanup(func() { _ = window.Close() })
	envelope := security.NewEnvelope(testLogger(), tokens, auditLog, window, false)

	cache := verify.NewCache(testLogger(), time.Hour)
	engine := verify.NewEngine(testLogger(), []strategy.Strategy{
		&stubStrategy{kind: model.StrategyFactChecking, verdict: model.VerdictVerifiedTrue, conf: 0.9},
		&stubStrategy{kind: model.StrategyConsistencyCheck, verdict: model.VerdictVerifiedTrue, conf: 0.8},
	}, cache, 10, time.Second, 2*time.Second)

	events := arbiter.NewEventLog(0)
	thoughts := arbiter.NewThoughts(0)
	arb := arbiter.New(arbiter.Deps{
		Logger:   testLogger(),
		Engine:   engine,
		Events:   events,
		Thoughts: thoughts,
		Workers:  1,
	})
	t.Cleanup(func() { arb.Stop() })

	monitor := health.NewMonitor(testLogger(), time.Hour, time.Hour, health.Thresholds{}, 0)

	broker := NewBroker(testLogger())
	events.OnAppend(broker.Publish)

	keys := NewKeyRegistry()
	require.NoError(t, keys.Register("sk-test-key", KeyIdentity{
		AgentID:     "agent-1",
		TenantID:    "acme",
		Roles:       []string{"agent"},
		Permissions: []string{"*"},
	}))

	handlers := NewHandlers(HandlersDeps{
		Envelope:            envelope,
		Tokens:              tokens,
		Arbiter:             arb,
		Events:              events,
		Thoughts:            thoughts,
		Engine:              engine,
		Monitor:             monitor,
		AuditLog:            auditLog,
		Commands:            security.NewCommandPolicy([]string{"status", "pause", "resume", "flush-caches"}, 0, 0),
		Keys:                keys,
		Broker:              broker,
		Logger:              testLogger(),
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})

	srv := New(Config{
		Handlers: handlers,
		Envelope: envelope,
		Limiter:  ratelimit.NoopLimiter{},
		Logger:   testLogger(),
		Port:     0,
	})

	return &testServer{
		handler:  srv.Handler(),
		tokens:   tokens,
		envelope: envelope,
		arb:      arb,
		events:   events,
		auditLog: auditLog,
		broker:   broker,
	}
}

func (ts *testServer) token(t *testing.T, tenant, user string, permissions []string) string {
	t.Helper()
	token, _, err := ts.tokens.IssueToken(tenant, user, []string{"agent"}, permissions)
	require.NoError(t, err)
	return token
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// data unwraps the {data, meta} envelope into target.
func data(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func TestMissingTokenRejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/observer/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.ErrCodeUnauthorized, body.Detail.Code)
	assert.NotEmpty(t, body.Meta.RequestID)
}

func TestInvalidTokenRejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/observer/status", "definitely-not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Exactly one authentication failure was audited.
	failures := ts.auditLog.Recent(audit.Query{EventType: model.AuditAuthenticationFailure})
	assert.Len(t, failures, 1)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"*"})

	rec := ts.request(t, http.MethodGet, "/observer/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status model.ObserverStatusSummary
	data(t, rec, &status)
	assert.False(t, status.Running)
	assert.Equal(t, "test", status.Version)
}

func TestStatusRequiresPermission(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"task:create"})

	rec := ts.request(t, http.MethodGet, "/observer/status", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitTaskLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"*"})

	rec := ts.request(t, http.MethodPost, "/observer/arbiter/start", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodPost, "/observer/tasks", token, model.SubmitTaskRequest{
		Description: "The Earth orbits the Sun",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted model.SubmitTaskResult
	data(t, rec, &submitted)
	assert.True(t, submitted.Accepted)
	assert.True(t, strings.HasPrefix(submitted.TaskID, "acme:"))

	// The worker completes the task shortly.
	var task model.Task
	require.Eventually(t, func() bool {
		rec := ts.request(t, http.MethodGet, "/observer/tasks/"+submitted.TaskID, token, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var envelope struct {
			Data model.Task `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			return false
		}
		task = envelope.Data
		return task.Status == "completed"
	}, 3*time.Second, 20*time.Millisecond)

	require.NotNil(t, task.Result)
	assert.Equal(t, model.VerdictVerifiedTrue, task.Result.Verdict)

	// Chain of thought was recorded for the task.
	rec = ts.request(t, http.MethodGet, "/observer/tasks/"+submitted.TaskID+"/cot", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cot model.ChainOfThoughtListResult
	data(t, rec, &cot)
	assert.NotEmpty(t, cot.Entries)
}

func TestGetTaskCrossTenantDenied(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"*"})

	rec := ts.request(t, http.MethodGet, "/observer/tasks/globex:some-task", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	violations := ts.auditLog.Recent(audit.Query{EventType: model.AuditSecurityViolation})
	require.Len(t, violations, 1)
	assert.Equal(t, "Cross-tenant access attempt", violations[0].Details["reason"])
}

func TestGetTaskNotFound(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"*"})

	rec := ts.request(t, http.MethodGet, "/observer/tasks/acme:missing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommandAllowlisted(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"*"})

	rec := ts.request(t, http.MethodPost, "/observer/commands", token, model.CommandRequest{Command: "status"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.CommandResult
	data(t, rec, &result)
	assert.True(t, result.Accepted)
	assert.Contains(t, result.Output, "running=")
}

func TestCommandPolicyViolationAudited(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"*"})

	rec := ts.request(t, http.MethodPost, "/observer/commands", token, model.CommandRequest{Command: "rm -rf /"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.CommandResult
	data(t, rec, &result)
	assert.False(t, result.Accepted)
	assert.NotEmpty(t, result.Error)

	violations := ts.auditLog.Recent(audit.Query{EventType: model.AuditSecurityViolation})
	require.Len(t, violations, 1)
	assert.Equal(t, model.AuditBlocked, violations[0].Result)
}

func TestObservationDefaultsAuthor(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"*"})

	rec := ts.request(t, http.MethodPost, "/observer/observations", token, model.ObservationRequest{
		Message: "looks wrong to me",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(t, http.MethodGet, "/observer/logs?type=observation", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list model.EventListResult
	data(t, rec, &list)
	require.Len(t, list.Events, 1)
	assert.Equal(t, "alice", list.Events[0].Fields["author"])
}

func TestLogsPaging(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"*"})

	for i := 0; i < 5; i++ {
		ts.events.Append("test-event", arbiter.SeverityInfo, "", fmt.Sprintf("event %d", i), nil)
	}

	rec := ts.request(t, http.MethodGet, "/observer/logs?limit=3", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page model.EventListResult
	data(t, rec, &page)
	require.Len(t, page.Events, 3)
	assert.True(t, page.HasMore)

	rec = ts.request(t, http.MethodGet, "/observer/logs?limit=3&cursor="+page.NextCursor, token, nil)
	var rest model.EventListResult
	data(t, rec, &rest)
	assert.Len(t, rest.Events, 2)
	assert.False(t, rest.HasMore)
}

func TestAuthTokenExchange(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
		AgentID: "agent-1",
		APIKey:  "sk-test-key",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.AuthTokenResponse
	data(t, rec, &resp)
	require.NotEmpty(t, resp.Token)

	// The minted token carries the registered tenant and permissions.
	status := ts.request(t, http.MethodGet, "/observer/status", resp.Token, nil)
	assert.Equal(t, http.StatusOK, status.Code)
}

func TestAuthTokenExchangeBadKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
		AgentID: "agent-1",
		APIKey:  "sk-wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	failures := ts.auditLog.Recent(audit.Query{EventType: model.AuditAuthenticationFailure})
	assert.Len(t, failures, 1)
}

func TestHealthIsAnonymous(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownBodyFieldRejected(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"*"})

	rec := ts.request(t, http.MethodPost, "/observer/tasks", token,
		map[string]any{"description": "x", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStreamDeliversEvents(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "acme", "alice", []string{"*"})

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/observer/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the subscription to land before publishing.
	require.Eventually(t, func() bool { return ts.broker.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond)

	ts.events.Append("task-completed", arbiter.SeverityInfo, "acme:t1", "verified_true", nil)

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data:") {
			dataLine = line
			break
		}
	}
	require.NoError(t, scanner.Err())
	assert.Contains(t, eventLine, "task-completed")

	var event model.ObserverEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &event))
	assert.Equal(t, "acme:t1", event.TaskID)
	assert.Equal(t, "verified_true", event.Message)
}
