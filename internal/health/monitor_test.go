package health

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/saitei/internal/model"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newTestMonitor() *Monitor {
	return NewMonitor(testLogger(), time.Minute, time.Minute, Thresholds{
		MemoryPercent:    85,
		ErrorRatePercent: 10,
		ResponseTimeMs:   5000,
		MaxAlerts:        10,
	}, 0)
}

func fixedProbe(status model.ComponentStatus, msg string) Probe {
	return func(context.Context) model.HealthCheck {
		return model.HealthCheck{Status: status, Message: msg}
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) record(event string, _ any) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestStatusIsWorstOfComponents(t *testing.T) {
	m := newTestMonitor()
	m.Register("database", fixedProbe(model.StatusHealthy, "ok"))
	m.Register("cache", fixedProbe(model.StatusDegraded, "slow"))
	m.Register("queue", fixedProbe(model.StatusHealthy, "ok"))

	m.RunChecks(context.Background())

	status, checks := m.Status()
	assert.Equal(t, model.StatusDegraded, status)
	assert.Len(t, checks, 3)
}

func TestUnhealthyComponentRaisesAndResolvesAlert(t *testing.T) {
	m := newTestMonitor()
	rec := &eventRecorder{}
	m.OnEvent(rec.record)

	down := true
	m.Register("database", func(context.Context) model.HealthCheck {
		if down {
			return model.HealthCheck{Status: model.StatusUnhealthy, Message: "connection refused"}
		}
		return model.HealthCheck{Status: model.StatusHealthy, Message: "ok"}
	})

	m.RunChecks(context.Background())
	require.Len(t, m.ActiveAlerts(), 1)
	assert.Equal(t, "database", m.ActiveAlerts()[0].Component)
	assert.Equal(t, model.SeverityCritical, m.ActiveAlerts()[0].Severity)

	// A second failing check does not duplicate the alert.
	m.RunChecks(context.Background())
	assert.Len(t, m.ActiveAlerts(), 1)

	down = false
	m.RunChecks(context.Background())
	assert.Empty(t, m.ActiveAlerts())

	names := rec.names()
	assert.Contains(t, names, EventAlertCreated)
	assert.Contains(t, names, EventAlertResolved)
	assert.Contains(t, names, EventHealthChecksCompleted)
}

func TestAlertListIsBounded(t *testing.T) {
	m := NewMonitor(testLogger(), time.Minute, time.Minute, Thresholds{MaxAlerts: 3}, 0)
	for i := 0; i < 10; i++ {
		m.raiseAlert(string(rune('a'+i)), model.SeverityWarning, "x")
	}
	m.mu.RLock()
	total := len(m.alerts)
	m.mu.RUnlock()
	assert.LessOrEqual(t, total, 3)
}

func TestCollectMetricsPopulatesSnapshot(t *testing.T) {
	m := newTestMonitor()
	rec := &eventRecorder{}
	m.OnEvent(rec.record)

	m.CollectMetrics()

	metrics := m.Metrics()
	assert.Greater(t, metrics.GoroutineCount, 0)
	assert.Greater(t, metrics.HeapAllocBytes, uint64(0))
	assert.False(t, metrics.CollectedAt.IsZero())
	assert.Contains(t, rec.names(), EventMetricsCollected)
}

func TestProbeDefaultsAreStamped(t *testing.T) {
	m := newTestMonitor()
	m.Register("bare", func(context.Context) model.HealthCheck {
		return model.HealthCheck{Status: model.StatusHealthy}
	})

	m.RunChecks(context.Background())
	_, checks := m.Status()
	require.Len(t, checks, 1)
	assert.Equal(t, "bare", checks[0].Component)
	assert.False(t, checks[0].CheckedAt.IsZero())
}

func TestWorseStatus(t *testing.T) {
	assert.Equal(t, model.StatusUnhealthy, model.WorseStatus(model.StatusDegraded, model.StatusUnhealthy))
	assert.Equal(t, model.StatusDegraded, model.WorseStatus(model.StatusHealthy, model.StatusDegraded))
	assert.Equal(t, model.StatusHealthy, model.WorseStatus(model.StatusHealthy, model.StatusHealthy))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m := NewMonitor(testLogger(), 10*time.Millisecond, 10*time.Millisecond, Thresholds{}, 0)
	m.Register("c", fixedProbe(model.StatusHealthy, "ok"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on cancel")
	}
}
