package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/saitei/internal/model"
)

// VerificationCacheEntry is the durable form of one engine cache entry.
type VerificationCacheEntry struct {
	Fingerprint  string
	Result       model.VerificationResult
	AccessCount  int64
	LastAccessed time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// UpsertVerificationCacheEntry writes a cache entry, replacing any previous
// row for the same fingerprint.
func (db *DB) UpsertVerificationCacheEntry(ctx context.Context, e VerificationCacheEntry) error {
	resultJSON, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("storage: marshal verification result: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO verification_cache (
		     fingerprint, request_id, verdict, confidence, result,
		     access_count, last_accessed, created_at, expires_at
		 )
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		     request_id = EXCLUDED.request_id,
		     verdict = EXCLUDED.verdict,
		     confidence = EXCLUDED.confidence,
		     result = EXCLUDED.result,
		     access_count = EXCLUDED.access_count,
		     last_accessed = EXCLUDED.last_accessed,
		     expires_at = EXCLUDED.expires_at`,
		e.Fingerprint, e.Result.RequestID, e.Result.Verdict, e.Result.Confidence, resultJSON,
		e.AccessCount, e.LastAccessed, e.CreatedAt, e.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert verification cache entry: %w", err)
	}
	return nil
}

// GetVerificationCacheEntry loads one unexpired entry and bumps its access
// counters. Expired or absent fingerprints return ErrNotFound.
func (db *DB) GetVerificationCacheEntry(ctx context.Context, fingerprint string) (VerificationCacheEntry, error) {
	var e VerificationCacheEntry
	var resultJSON []byte

	err := db.pool.QueryRow(ctx,
		`UPDATE verification_cache
		    SET access_count = access_count + 1, last_accessed = now()
		  WHERE fingerprint = $1 AND expires_at > now()
		  RETURNING fingerprint, result, access_count, last_accessed, created_at, expires_at`,
		fingerprint,
	).Scan(&e.Fingerprint, &resultJSON, &e.AccessCount, &e.LastAccessed, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return VerificationCacheEntry{}, ErrNotFound
	}
	if err != nil {
		return VerificationCacheEntry{}, fmt.Errorf("storage: get verification cache entry: %w", err)
	}

	if err := json.Unmarshal(resultJSON, &e.Result); err != nil {
		return VerificationCacheEntry{}, fmt.Errorf("storage: unmarshal verification result: %w", err)
	}
	return e, nil
}

// DeleteExpiredVerificationEntries removes rows past their expiry and
// reports the number deleted.
func (db *DB) DeleteExpiredVerificationEntries(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM verification_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired verification entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
