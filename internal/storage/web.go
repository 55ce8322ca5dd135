package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/saitei/internal/model"
)

// UpsertWebContent writes one extracted page keyed by normalized URL.
func (db *DB) UpsertWebContent(ctx context.Context, url string, content model.WebContent, ttl time.Duration) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("storage: marshal web content: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO web_content (
		     url, content_hash, title, status_code, content_type, size_bytes,
		     content, expires_at
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, now() + $8)
		 ON CONFLICT (url) DO UPDATE SET
		     content_hash = EXCLUDED.content_hash,
		     title = EXCLUDED.title,
		     status_code = EXCLUDED.status_code,
		     content_type = EXCLUDED.content_type,
		     size_bytes = EXCLUDED.size_bytes,
		     content = EXCLUDED.content,
		     expires_at = EXCLUDED.expires_at`,
		url, content.ContentHash, content.Title, content.StatusCode,
		content.ContentType, content.SizeBytes, contentJSON, ttl,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert web content: %w", err)
	}
	return nil
}

// GetWebContent loads one unexpired page and bumps its hit counters.
func (db *DB) GetWebContent(ctx context.Context, url string) (model.WebContent, error) {
	var contentJSON []byte
	err := db.pool.QueryRow(ctx,
		`UPDATE web_content
		    SET hit_count = hit_count + 1, last_accessed = now()
		  WHERE url = $1 AND expires_at > now()
		  RETURNING content`,
		url,
	).Scan(&contentJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WebContent{}, ErrNotFound
	}
	if err != nil {
		return model.WebContent{}, fmt.Errorf("storage: get web content: %w", err)
	}

	var content model.WebContent
	if err := json.Unmarshal(contentJSON, &content); err != nil {
		return model.WebContent{}, fmt.Errorf("storage: unmarshal web content: %w", err)
	}
	return content, nil
}

// DeleteExpiredWebContent removes pages past their expiry.
func (db *DB) DeleteExpiredWebContent(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM web_content WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired web content: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertTraversal records one completed traversal run.
func (db *DB) InsertTraversal(ctx context.Context, result model.TraversalResult) (uuid.UUID, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: marshal traversal result: %w", err)
	}

	id := uuid.New()
	_, err = db.pool.Exec(ctx,
		`INSERT INTO web_traversals (
		     id, start_url, pages_visited, pages_skipped, pages_failed,
		     traversal_ms, result, completed_at
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		id, result.StartURL, result.Stats.PagesVisited, result.Stats.PagesSkipped,
		result.Stats.PagesFailed, result.TraversalTimeMs, resultJSON, result.CompletedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: insert traversal: %w", err)
	}
	return id, nil
}

// UpsertDomainRateLimit mirrors one domain's limiter state.
func (db *DB) UpsertDomainRateLimit(ctx context.Context, s model.DomainRateLimit) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO web_rate_limits (
		     domain, status, request_count, window_reset_at, backoff_ms, last_request_at
		 )
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (domain) DO UPDATE SET
		     status = EXCLUDED.status,
		     request_count = EXCLUDED.request_count,
		     window_reset_at = EXCLUDED.window_reset_at,
		     backoff_ms = EXCLUDED.backoff_ms,
		     last_request_at = EXCLUDED.last_request_at`,
		s.Domain, s.Status, s.RequestCount, s.WindowResetAt,
		s.CurrentBackoff.Milliseconds(), s.LastRequestAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert domain rate limit: %w", err)
	}
	return nil
}
