package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/saitei/internal/model"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// recordingSink captures writes and optionally fails them.
type recordingSink struct {
	events []model.AuditEvent
	err    error
}

func (s *recordingSink) WriteAuditEvent(_ context.Context, e model.AuditEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func TestAppendStampsIDAndTimestamp(t *testing.T) {
	l := New(testLogger(), 10, 90, nil)

	e := l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditResourceRead,
		TenantID:  "acme",
		UserID:    "alice",
		Action:    "read",
		Result:    model.AuditSuccess,
	})

	assert.NotZero(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, 1, l.Len())
}

func TestAppendEnforcesBound(t *testing.T) {
	l := New(testLogger(), 5, 90, nil)

	for i := 0; i < 8; i++ {
		l.Append(context.Background(), model.AuditEvent{
			EventType: model.AuditResourceRead,
			TenantID:  "acme",
			UserID:    fmt.Sprintf("user-%d", i),
			Action:    "read",
			Result:    model.AuditSuccess,
		})
	}

	assert.Equal(t, 5, l.Len())

	// Oldest entries were dropped, newest survive.
	events := l.Recent(Query{TenantID: "acme"})
	require.Len(t, events, 5)
	assert.Equal(t, "user-7", events[0].UserID)
}

func TestRecentFilters(t *testing.T) {
	l := New(testLogger(), 100, 90, nil)

	l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditResourceRead, TenantID: "acme", UserID: "alice",
		Action: "read", Result: model.AuditSuccess,
	})
	l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditAuthenticationFailure, TenantID: "acme", UserID: "mallory",
		Action: "authenticate", Result: model.AuditFailure,
	})
	l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditResourceRead, TenantID: "globex", UserID: "bob",
		Action: "read", Result: model.AuditSuccess,
	})

	assert.Len(t, l.Recent(Query{TenantID: "acme"}), 2)
	assert.Len(t, l.Recent(Query{UserID: "bob"}), 1)
	assert.Len(t, l.Recent(Query{EventType: model.AuditAuthenticationFailure}), 1)
	assert.Len(t, l.Recent(Query{TenantID: "acme", Limit: 1}), 1)
}

func TestSinkReceivesEveryAppend(t *testing.T) {
	sink := &recordingSink{}
	l := New(testLogger(), 10, 90, sink)

	l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditResourceCreate, TenantID: "acme", UserID: "alice",
		Action: "create", Result: model.AuditSuccess,
	})
	l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditResourceRead, TenantID: "acme", UserID: "alice",
		Action: "read", Result: model.AuditSuccess,
	})

	require.Len(t, sink.events, 2)
	assert.NotZero(t, sink.events[0].ID)
}

func TestSinkFailureDoesNotFailAppend(t *testing.T) {
	sink := &recordingSink{err: errors.New("connection refused")}
	l := New(testLogger(), 10, 90, sink)

	l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditResourceRead, TenantID: "acme", UserID: "alice",
		Action: "read", Result: model.AuditSuccess,
	})

	assert.Equal(t, 1, l.Len())
}

func TestOnViolationFiresForSecurityViolationsOnly(t *testing.T) {
	l := New(testLogger(), 10, 90, nil)

	var got []model.AuditEvent
	l.OnViolation(func(e model.AuditEvent) { got = append(got, e) })

	l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditResourceRead, TenantID: "acme", UserID: "alice",
		Action: "read", Result: model.AuditSuccess,
	})
	l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditSecurityViolation, TenantID: "acme", UserID: "mallory",
		Action: "read", Result: model.AuditFailure,
	})

	require.Len(t, got, 1)
	assert.Equal(t, "mallory", got[0].UserID)
}

func TestCleanupDropsExpiredEvents(t *testing.T) {
	l := New(testLogger(), 100, 90, nil)

	base := time.Now().UTC()
	l.now = func() time.Time { return base }

	l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditResourceRead, TenantID: "acme", UserID: "old",
		Action: "read", Result: model.AuditSuccess,
		Timestamp: base.Add(-91 * 24 * time.Hour),
	})
	l.Append(context.Background(), model.AuditEvent{
		EventType: model.AuditResourceRead, TenantID: "acme", UserID: "fresh",
		Action: "read", Result: model.AuditSuccess,
	})

	removed := l.Cleanup()
	assert.Equal(t, 1, removed)

	events := l.Recent(Query{})
	require.Len(t, events, 1)
	assert.Equal(t, "fresh", events[0].UserID)
}
