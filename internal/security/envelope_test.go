package security

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/saitei/internal/audit"
	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/ratelimit"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newTestEnvelope(t *testing.T, maxRequests int) (*Envelope, *TokenManager, *audit.Log) {
	t.Helper()
	tokens, err := NewTokenManager("", "", time.Hour)
	require.NoError(t, err)

	auditLog := audit.New(testLogger(), 1000, 90, nil)
	limiter := ratelimit.NewWindowLimiter(time.Minute, maxRequests)
	t.Cleanup(func() { _ = limiter.Close() })

	return NewEnvelope(testLogger(), tokens, auditLog, limiter, false), tokens, auditLog
}

func authedContext(t *testing.T, e *Envelope, tokens *TokenManager, tenant, user string, permissions []string) *model.SecurityContext {
	t.Helper()
	token, _, err := tokens.IssueToken(tenant, user, []string{"agent"}, permissions)
	require.NoError(t, err)
	sc, err := e.Authenticate(context.Background(), token, "10.0.0.1", "test-agent")
	require.NoError(t, err)
	return sc
}

func TestAuthenticateValidJWT(t *testing.T) {
	e, tokens, _ := newTestEnvelope(t, 100)

	sc := authedContext(t, e, tokens, "acme", "alice", []string{"*"})

	assert.Equal(t, "acme", sc.TenantID)
	assert.Equal(t, "alice", sc.UserID)
	assert.NotEmpty(t, sc.SessionID)
	assert.Equal(t, "10.0.0.1", sc.IPAddress)
	assert.False(t, sc.CreatedAt.IsZero())
}

func TestAuthenticateFailureAuditedOnce(t *testing.T) {
	e, _, auditLog := newTestEnvelope(t, 100)

	_, err := e.Authenticate(context.Background(), "not-a-valid-token", "10.0.0.9", "curl")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrInvalidToken))

	failures := auditLog.Recent(audit.Query{EventType: model.AuditAuthenticationFailure})
	require.Len(t, failures, 1)
	assert.Equal(t, "10.0.0.9", failures[0].IPAddress)
}

func TestAuthenticateShortTokenRejected(t *testing.T) {
	e, _, _ := newTestEnvelope(t, 100)

	_, err := e.Authenticate(context.Background(), "abc", "10.0.0.1", "")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrInvalidToken))
}

func TestDevTokensOnlyInDevMode(t *testing.T) {
	tokens, err := NewTokenManager("", "", time.Hour)
	require.NoError(t, err)
	auditLog := audit.New(testLogger(), 100, 90, nil)

	prod := NewEnvelope(testLogger(), tokens, auditLog, nil, false)
	_, err = prod.Authenticate(context.Background(), "acme:alice:admin", "", "")
	require.Error(t, err)

	dev := NewEnvelope(testLogger(), tokens, auditLog, nil, true)
	sc, err := dev.Authenticate(context.Background(), "acme:alice:admin", "", "")
	require.NoError(t, err)
	assert.Equal(t, "acme", sc.TenantID)
	assert.Equal(t, "alice", sc.UserID)
	assert.Equal(t, []string{"admin"}, sc.Roles)
	assert.True(t, sc.HasPermission("task:create"))
}

func TestAuthorizeCrossTenantDenied(t *testing.T) {
	e, tokens, auditLog := newTestEnvelope(t, 100)
	sc := authedContext(t, e, tokens, "acme", "alice", []string{"*"})

	err := e.Authorize(context.Background(), sc, "read", "task", "globex:task-1")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrCrossTenantAccess))

	violations := auditLog.Recent(audit.Query{EventType: model.AuditSecurityViolation})
	require.Len(t, violations, 1)
	assert.Equal(t, "Cross-tenant access attempt", violations[0].Details["reason"])
	assert.Equal(t, "globex", violations[0].Details["resource_tenant"])
}

func TestAuthorizeOwnTenantAllowed(t *testing.T) {
	e, tokens, _ := newTestEnvelope(t, 100)
	sc := authedContext(t, e, tokens, "acme", "alice", []string{"*"})

	require.NoError(t, e.Authorize(context.Background(), sc, "read", "task", "acme:task-1"))
}

func TestAuthorizeMissingPermission(t *testing.T) {
	e, tokens, _ := newTestEnvelope(t, 100)
	sc := authedContext(t, e, tokens, "acme", "alice", []string{"task:read"})

	require.NoError(t, e.Authorize(context.Background(), sc, "read", "task", ""))

	err := e.Authorize(context.Background(), sc, "create", "task", "")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrUnauthorized))
}

func TestAuthorizeBlockedUser(t *testing.T) {
	e, tokens, _ := newTestEnvelope(t, 100)
	sc := authedContext(t, e, tokens, "acme", "mallory", []string{"*"})

	e.BlockUser("mallory")
	err := e.Authorize(context.Background(), sc, "read", "task", "")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrUnauthorized))

	e.UnblockUser("mallory")
	require.NoError(t, e.Authorize(context.Background(), sc, "read", "task", ""))
}

func TestAuthorizeRateLimitExceeded(t *testing.T) {
	e, tokens, _ := newTestEnvelope(t, 2)
	sc := authedContext(t, e, tokens, "acme", "alice", []string{"*"})

	require.NoError(t, e.Authorize(context.Background(), sc, "read", "task", ""))
	require.NoError(t, e.Authorize(context.Background(), sc, "read", "task", ""))

	err := e.Authorize(context.Background(), sc, "read", "task", "")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrRateLimitExceeded))
}

func TestRateLimitIsPerOperationAndIdentity(t *testing.T) {
	e, tokens, _ := newTestEnvelope(t, 1)
	alice := authedContext(t, e, tokens, "acme", "alice", []string{"*"})
	bob := authedContext(t, e, tokens, "acme", "bob", []string{"*"})

	assert.True(t, e.CheckRateLimit(context.Background(), alice, "read"))
	assert.False(t, e.CheckRateLimit(context.Background(), alice, "read"))

	// A different operation and a different identity have their own windows.
	assert.True(t, e.CheckRateLimit(context.Background(), alice, "create"))
	assert.True(t, e.CheckRateLimit(context.Background(), bob, "read"))
}

func TestTokenRoundTrip(t *testing.T) {
	tokens, err := NewTokenManager("", "", time.Hour)
	require.NoError(t, err)

	signed, exp, err := tokens.IssueToken("acme", "alice", []string{"agent"}, []string{"task:read"})
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := tokens.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.TenantID)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, []string{"task:read"}, claims.Permissions)
}

func TestTokenFromDifferentKeyRejected(t *testing.T) {
	issuer, err := NewTokenManager("", "", time.Hour)
	require.NoError(t, err)
	verifier, err := NewTokenManager("", "", time.Hour)
	require.NoError(t, err)

	signed, _, err := issuer.IssueToken("acme", "alice", nil, nil)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(signed)
	require.Error(t, err)
}

func TestCommandPolicy(t *testing.T) {
	p := NewCommandPolicy([]string{"status", "flush-caches"}, 0, 0)

	assert.NoError(t, p.Validate("status"))
	assert.NoError(t, p.Validate("flush-caches"))
	assert.Error(t, p.Validate("rm -rf /"))
	assert.Error(t, p.Validate("status; rm"))
	assert.Error(t, p.Validate("status $(whoami)"))
	assert.Error(t, p.Validate("status `id`"))
	assert.Error(t, p.Validate(""))
}

func TestAPIKeyHashing(t *testing.T) {
	hash, err := HashAPIKey("sk-test-12345")
	require.NoError(t, err)
	assert.NotContains(t, hash, "sk-test-12345")

	ok, err := VerifyAPIKey("sk-test-12345", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyAPIKey("sk-wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}
