package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
)

// WriteAuditEvent appends one audit event. The table is append-only; this
// satisfies the audit.Sink interface so every in-memory append is mirrored.
func (db *DB) WriteAuditEvent(ctx context.Context, e model.AuditEvent) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("storage: marshal audit details: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO audit_events (
		     id, occurred_at, event_type, tenant_id, user_id, session_id,
		     action, resource, details, result, error_message, ip_address, user_agent
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Timestamp, e.EventType, e.TenantID, e.UserID, e.SessionID,
		e.Action, e.Resource, detailsJSON, e.Result, e.ErrorMessage, e.IPAddress, e.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit event: %w", err)
	}
	return nil
}

// RecentAuditEvents returns up to limit events for a tenant, newest first.
// An empty tenantID returns events across all tenants.
func (db *DB) RecentAuditEvents(ctx context.Context, tenantID string, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, occurred_at, event_type, tenant_id, user_id, session_id,
		        action, resource, details, result, error_message, ip_address, user_agent
		   FROM audit_events
		  WHERE ($1 = '' OR tenant_id = $1)
		  ORDER BY occurred_at DESC
		  LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query audit events: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		var detailsJSON []byte
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.EventType, &e.TenantID, &e.UserID, &e.SessionID,
			&e.Action, &e.Resource, &detailsJSON, &e.Result, &e.ErrorMessage, &e.IPAddress, &e.UserAgent,
		); err != nil {
			return nil, fmt.Errorf("storage: scan audit event: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				return nil, fmt.Errorf("storage: unmarshal audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteAuditEventsBefore removes events older than cutoff and reports the
// number deleted. Called from the retention sweep.
func (db *DB) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM audit_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: delete audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
