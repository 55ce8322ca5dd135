package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/saitei/internal/model"
)

// InsertHealthMetric records one periodic metrics snapshot together with the
// overall system status at collection time.
func (db *DB) InsertHealthMetric(ctx context.Context, status model.ComponentStatus, m model.SystemMetrics) error {
	metricsJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("storage: marshal health metrics: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO system_health_metrics (
		     id, status, goroutine_count, heap_alloc_bytes, metrics, collected_at
		 )
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		uuid.New(), status, m.GoroutineCount, m.HeapAllocBytes, metricsJSON, m.CollectedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert health metric: %w", err)
	}
	return nil
}

// RecentHealthMetrics returns the latest limit snapshots, newest first.
func (db *DB) RecentHealthMetrics(ctx context.Context, limit int) ([]model.SystemMetrics, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT metrics FROM system_health_metrics ORDER BY collected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query health metrics: %w", err)
	}
	defer rows.Close()

	var out []model.SystemMetrics
	for rows.Next() {
		var metricsJSON []byte
		if err := rows.Scan(&metricsJSON); err != nil {
			return nil, fmt.Errorf("storage: scan health metric: %w", err)
		}
		var m model.SystemMetrics
		if err := json.Unmarshal(metricsJSON, &m); err != nil {
			return nil, fmt.Errorf("storage: unmarshal health metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
