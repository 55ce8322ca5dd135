package server

import (
	"net/http"

	"github.com/ashita-ai/saitei/internal/model"
)

// HandleAuthToken handles POST /auth/token: exchanges an agent id plus API
// key for a signed JWT carrying the agent's tenant, roles, and permissions.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.AgentID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent_id and api_key are required")
		return
	}

	identity, ok := h.keys.Verify(req.AgentID, req.APIKey)
	if !ok {
		h.auditLog.Append(r.Context(), model.AuditEvent{
			EventType:    model.AuditAuthenticationFailure,
			TenantID:     "default-tenant",
			UserID:       req.AgentID,
			Action:       "token_exchange",
			Result:       model.AuditFailure,
			ErrorMessage: "invalid credentials",
			IPAddress:    clientIP(r),
			UserAgent:    r.UserAgent(),
		})
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.tokens.IssueToken(identity.TenantID, identity.AgentID, identity.Roles, identity.Permissions)
	if err != nil {
		h.logger.Error("auth: issue token", "agent_id", req.AgentID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}
