package security

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/saitei/internal/audit"
	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/ratelimit"
)

// minTokenLength is the shortest token Authenticate will even inspect.
// Anything shorter is rejected before parsing.
const minTokenLength = 8

const (
	defaultTenant = "default-tenant"
	anonymousUser = "anonymous"
)

// Envelope wraps every public operation with the security pipeline:
// authenticate -> authorize -> rate-limit -> validate -> execute -> audit.
// Any failure short-circuits to a failure audit event and a typed error.
type Envelope struct {
	logger   *slog.Logger
	tokens   *TokenManager
	auditLog *audit.Log
	limiter  *ratelimit.WindowLimiter

	devTokens bool

	mu      sync.RWMutex
	blocked map[string]struct{} // blocked user ids
}

// NewEnvelope assembles the security envelope. limiter enforces the
// per-identity fixed window; auditLog receives every decision.
func NewEnvelope(logger *slog.Logger, tokens *TokenManager, auditLog *audit.Log, limiter *ratelimit.WindowLimiter, devTokens bool) *Envelope {
	return &Envelope{
		logger:    logger,
		tokens:    tokens,
		auditLog:  auditLog,
		limiter:   limiter,
		devTokens: devTokens,
		blocked:   make(map[string]struct{}),
	}
}

// BlockUser adds a user id to the deny list.
func (e *Envelope) BlockUser(userID string) {
	e.mu.Lock()
	e.blocked[userID] = struct{}{}
	e.mu.Unlock()
}

// UnblockUser removes a user id from the deny list.
func (e *Envelope) UnblockUser(userID string) {
	e.mu.Lock()
	delete(e.blocked, userID)
	e.mu.Unlock()
}

func (e *Envelope) isBlocked(userID string) bool {
	e.mu.RLock()
	_, ok := e.blocked[userID]
	e.mu.RUnlock()
	return ok
}

// Authenticate validates a bearer token and returns a fresh SecurityContext.
// The tenant always comes from the token; no caller-supplied tenant ever
// overrides it. Failures are audited as authentication_failure exactly once.
func (e *Envelope) Authenticate(ctx context.Context, token, ipAddress, userAgent string) (*model.SecurityContext, error) {
	if len(token) < minTokenLength {
		e.auditLog.Append(ctx, model.AuditEvent{
			EventType:    model.AuditAuthenticationFailure,
			TenantID:     defaultTenant,
			UserID:       anonymousUser,
			Action:       "authenticate",
			Result:       model.AuditFailure,
			ErrorMessage: "token missing or too short",
			IPAddress:    ipAddress,
			UserAgent:    userAgent,
		})
		return nil, model.NewError(model.ErrInvalidToken, "token missing or too short")
	}

	sc, err := e.parseToken(token)
	if err != nil {
		e.auditLog.Append(ctx, model.AuditEvent{
			EventType:    model.AuditAuthenticationFailure,
			TenantID:     defaultTenant,
			UserID:       anonymousUser,
			Action:       "authenticate",
			Result:       model.AuditFailure,
			ErrorMessage: err.Error(),
			IPAddress:    ipAddress,
			UserAgent:    userAgent,
		})
		return nil, model.WrapError(model.ErrInvalidToken, err, "token validation failed")
	}

	sc.SessionID = uuid.New().String()
	sc.IPAddress = ipAddress
	sc.UserAgent = userAgent
	sc.CreatedAt = time.Now().UTC()
	return sc, nil
}

// parseToken tries JWT validation first and, in development mode only,
// falls back to the colon-delimited "tenant:user:role,role" form.
func (e *Envelope) parseToken(token string) (*model.SecurityContext, error) {
	claims, jwtErr := e.tokens.ValidateToken(token)
	if jwtErr == nil {
		tenant := claims.TenantID
		if tenant == "" {
			tenant = defaultTenant
		}
		user := claims.UserID
		if user == "" {
			user = anonymousUser
		}
		return &model.SecurityContext{
			TenantID:    tenant,
			UserID:      user,
			Roles:       claims.Roles,
			Permissions: claims.Permissions,
		}, nil
	}

	if !e.devTokens {
		return nil, jwtErr
	}

	// Development token: "tenant:user:role,role". Missing fields default.
	parts := strings.SplitN(token, ":", 3)
	sc := &model.SecurityContext{TenantID: defaultTenant, UserID: anonymousUser}
	if len(parts) > 0 && parts[0] != "" {
		sc.TenantID = parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		sc.UserID = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		sc.Roles = strings.Split(parts[2], ",")
		// Dev tokens grant the wildcard so local setups need no grant table.
		sc.Permissions = []string{"*"}
	}
	return sc, nil
}

// Authorize checks whether sc may perform action on the given resource.
// resourceID may be tenant-scoped ("{tenant}:{raw}"); a mismatched prefix is
// a cross-tenant attempt and is audited as a security violation.
func (e *Envelope) Authorize(ctx context.Context, sc *model.SecurityContext, action, resourceType, resourceID string) error {
	if e.isBlocked(sc.UserID) {
		e.auditFailure(ctx, sc, model.AuditAuthorizationFailure, action, resourceType, resourceID, "user is blocked", nil)
		return model.NewError(model.ErrUnauthorized, "user %q is blocked", sc.UserID)
	}

	if resourceID != "" && !sc.OwnsResource(resourceID) {
		e.auditFailure(ctx, sc, model.AuditSecurityViolation, action, resourceType, resourceID,
			"cross-tenant access denied",
			map[string]any{"reason": "Cross-tenant access attempt", "resource_tenant": tenantOf(resourceID)})
		return model.NewError(model.ErrCrossTenantAccess, "resource %q belongs to another tenant", resourceID)
	}

	if !e.CheckRateLimit(ctx, sc, action) {
		e.auditFailure(ctx, sc, model.AuditAuthorizationFailure, action, resourceType, resourceID, "rate limit exceeded", nil)
		return model.NewError(model.ErrRateLimitExceeded, "rate limit exceeded for %s:%s", sc.TenantID, sc.UserID)
	}

	perm := resourceType + ":" + action
	if !sc.HasPermission(perm) {
		e.auditFailure(ctx, sc, model.AuditAuthorizationFailure, action, resourceType, resourceID,
			"missing permission "+perm, nil)
		return model.NewError(model.ErrUnauthorized, "missing permission %q", perm)
	}

	return nil
}

// CheckRateLimit enforces the fixed window keyed by tenant:user:operation.
func (e *Envelope) CheckRateLimit(ctx context.Context, sc *model.SecurityContext, operation string) bool {
	if e.limiter == nil {
		return true
	}
	key := sc.TenantID + ":" + sc.UserID + ":" + operation
	ok, err := e.limiter.Allow(ctx, key)
	if err != nil {
		// Fail open on limiter malfunction.
		e.logger.Warn("security: rate limiter error, failing open", "key", key, "error", err)
		return true
	}
	return ok
}

// Audit records a successful (or caller-reported) resource operation.
func (e *Envelope) Audit(ctx context.Context, sc *model.SecurityContext, eventType model.AuditEventType, action, resource string, result model.AuditResult, details map[string]any) {
	e.auditLog.Append(ctx, model.AuditEvent{
		EventType: eventType,
		TenantID:  sc.TenantID,
		UserID:    sc.UserID,
		SessionID: sc.SessionID,
		Action:    action,
		Resource:  resource,
		Details:   details,
		Result:    result,
		IPAddress: sc.IPAddress,
		UserAgent: sc.UserAgent,
	})
}

func (e *Envelope) auditFailure(ctx context.Context, sc *model.SecurityContext, eventType model.AuditEventType, action, resourceType, resourceID, msg string, details map[string]any) {
	e.auditLog.Append(ctx, model.AuditEvent{
		EventType:    eventType,
		TenantID:     sc.TenantID,
		UserID:       sc.UserID,
		SessionID:    sc.SessionID,
		Action:       action,
		Resource:     resourceType + "/" + resourceID,
		Details:      details,
		Result:       model.AuditFailure,
		ErrorMessage: msg,
		IPAddress:    sc.IPAddress,
		UserAgent:    sc.UserAgent,
	})
}

func tenantOf(resourceID string) string {
	if t, _, ok := strings.Cut(resourceID, ":"); ok {
		return t
	}
	return ""
}
