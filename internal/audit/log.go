// Package audit provides the bounded, append-only security audit log.
//
// The log is process-wide in-memory state with an explicit lifecycle:
// events are appended under a single writer lock, the ring is truncated
// from the front when maxEvents is exceeded, and a retention sweep drops
// events older than the configured retention. An optional Sink mirrors
// every event to durable storage; sink failures never fail the append.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/saitei/internal/model"
)

// Sink receives a copy of every appended event, e.g. for Postgres persistence.
// Implementations must not block for long; errors are logged and dropped.
type Sink interface {
	WriteAuditEvent(ctx context.Context, e model.AuditEvent) error
}

// ViolationFunc is invoked for every security-violation event so the health
// plane can surface it as an alert. Must not block.
type ViolationFunc func(e model.AuditEvent)

// Log is the bounded in-memory audit event store.
type Log struct {
	logger      *slog.Logger
	maxEvents   int
	retention   time.Duration
	sink        Sink
	onViolation ViolationFunc

	mu     sync.RWMutex
	events []model.AuditEvent

	// now is swappable for tests.
	now func() time.Time
}

// New creates an audit log bounded to maxEvents entries with the given
// retention. sink may be nil.
func New(logger *slog.Logger, maxEvents, retentionDays int, sink Sink) *Log {
	return &Log{
		logger:    logger,
		maxEvents: maxEvents,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		sink:      sink,
		now:       time.Now,
	}
}

// OnViolation registers the security-violation callback. Call before serving.
func (l *Log) OnViolation(fn ViolationFunc) { l.onViolation = fn }

// Append records an event, stamping ID and Timestamp when absent.
// Enforces the maxEvents bound by truncating the oldest entries.
func (l *Log) Append(ctx context.Context, e model.AuditEvent) model.AuditEvent {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	l.mu.Lock()
	l.events = append(l.events, e)
	if over := len(l.events) - l.maxEvents; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
	l.mu.Unlock()

	if e.EventType == model.AuditSecurityViolation && l.onViolation != nil {
		l.onViolation(e)
	}

	if l.sink != nil {
		if err := l.sink.WriteAuditEvent(ctx, e); err != nil {
			l.logger.Warn("audit: sink write failed", "event_id", e.ID, "error", err)
		}
	}
	return e
}

// Query filters for Recent.
type Query struct {
	TenantID  string
	UserID    string
	EventType model.AuditEventType
	Since     time.Time
	Limit     int
}

// Recent returns events matching q, sorted by timestamp descending.
// A zero Limit returns everything that matches.
func (l *Log) Recent(q Query) []model.AuditEvent {
	l.mu.RLock()
	out := make([]model.AuditEvent, 0, len(l.events))
	for _, e := range l.events {
		if q.TenantID != "" && e.TenantID != q.TenantID {
			continue
		}
		if q.UserID != "" && e.UserID != q.UserID {
			continue
		}
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, e)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Cleanup drops events older than the retention period and returns the
// number removed. Intended to be called from a periodic sweep.
func (l *Log) Cleanup() int {
	cutoff := l.now().Add(-l.retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[:0]
	for _, e := range l.events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(l.events) - len(kept)
	l.events = kept
	return removed
}

// Run sweeps expired events on interval until ctx is cancelled.
func (l *Log) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Cleanup(); n > 0 {
				l.logger.Info("audit: retention sweep", "removed", n)
			}
		}
	}
}
