// Package health implements the periodic health and metrics plane: component
// probes on one ticker, resource metrics on another, threshold alerts with an
// explicit resolve step, and named events for external subscribers. The
// monitor observes components through probe callbacks and performs no I/O of
// its own.
package health

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/saitei/internal/model"
)

// Probe checks one component. Probes must be fast and must not panic.
type Probe func(ctx context.Context) model.HealthCheck

// Event names emitted to subscribers.
const (
	EventHealthChecksCompleted = "health-checks-completed"
	EventAlertCreated          = "alert-created"
	EventAlertResolved         = "alert-resolved"
	EventMetricsCollected      = "metrics-collected"
)

// EventFunc receives monitor events. Handlers must not block.
type EventFunc func(event string, payload any)

// Thresholds are the alerting limits.
type Thresholds struct {
	MemoryPercent    float64
	ErrorRatePercent float64
	ResponseTimeMs   int64
	MaxAlerts        int
}

// Monitor runs the health-check and metrics tickers.
type Monitor struct {
	logger     *slog.Logger
	thresholds Thresholds

	checkInterval   time.Duration
	metricsInterval time.Duration

	mu       sync.RWMutex
	probes   map[string]Probe
	checks   map[string]model.HealthCheck
	alerts   []model.HealthAlert
	metrics  model.SystemMetrics
	onEvent  EventFunc
	started  time.Time
	memLimit uint64 // heap-sys bytes treated as 100% for the memory alert
}

// NewMonitor creates the monitor. memLimitBytes of 0 disables memory alerts.
func NewMonitor(logger *slog.Logger, checkInterval, metricsInterval time.Duration, thresholds Thresholds, memLimitBytes uint64) *Monitor {
	if thresholds.MaxAlerts <= 0 {
		thresholds.MaxAlerts = 100
	}
	return &Monitor{
		logger:          logger,
		thresholds:      thresholds,
		checkInterval:   checkInterval,
		metricsInterval: metricsInterval,
		probes:          make(map[string]Probe),
		checks:          make(map[string]model.HealthCheck),
		started:         time.Now(),
		memLimit:        memLimitBytes,
	}
}

// Register adds a component probe. The monitor holds only the callback, never
// the component itself, so registration cannot prevent component teardown.
func (m *Monitor) Register(component string, probe Probe) {
	m.mu.Lock()
	m.probes[component] = probe
	m.mu.Unlock()
}

// OnEvent registers the event subscriber. Call before Run.
func (m *Monitor) OnEvent(fn EventFunc) {
	m.mu.Lock()
	m.onEvent = fn
	m.mu.Unlock()
}

// Run drives both tickers until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	checkTicker := time.NewTicker(m.checkInterval)
	metricsTicker := time.NewTicker(m.metricsInterval)
	defer checkTicker.Stop()
	defer metricsTicker.Stop()

	// Prime both planes so the first status query has data.
	m.RunChecks(ctx)
	m.CollectMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkTicker.C:
			m.RunChecks(ctx)
		case <-metricsTicker.C:
			m.CollectMetrics()
		}
	}
}

// RunChecks fans out to every registered probe and stores the results.
func (m *Monitor) RunChecks(ctx context.Context) {
	m.mu.RLock()
	probes := make(map[string]Probe, len(m.probes))
	for name, p := range m.probes {
		probes[name] = p
	}
	m.mu.RUnlock()

	results := make(map[string]model.HealthCheck, len(probes))
	for name, probe := range probes {
		start := time.Now()
		check := probe(ctx)
		if check.Component == "" {
			check.Component = name
		}
		if check.ResponseTimeMs == 0 {
			check.ResponseTimeMs = float64(time.Since(start).Milliseconds())
		}
		if check.CheckedAt.IsZero() {
			check.CheckedAt = time.Now().UTC()
		}
		results[name] = check

		if check.Status == model.StatusUnhealthy {
			m.raiseAlert(check.Component, model.SeverityCritical, check.Message)
		} else {
			m.resolveAlerts(check.Component)
		}
		if int64(check.ResponseTimeMs) > m.thresholds.ResponseTimeMs && m.thresholds.ResponseTimeMs > 0 {
			m.raiseAlert(check.Component, model.SeverityWarning, "slow health probe")
		}
	}

	m.mu.Lock()
	for name, check := range results {
		m.checks[name] = check
	}
	m.mu.Unlock()

	m.emit(EventHealthChecksCompleted, results)
}

// CollectMetrics snapshots runtime resource usage and evaluates thresholds.
func (m *Monitor) CollectMetrics() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	metrics := model.SystemMetrics{
		GoroutineCount: runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		HeapSysBytes:   ms.HeapSys,
		GCPauseMs:      float64(ms.PauseNs[(ms.NumGC+255)%256]) / 1e6,
		NumGC:          ms.NumGC,
		UptimeSeconds:  int64(time.Since(m.started).Seconds()),
		CollectedAt:    time.Now().UTC(),
	}

	m.mu.Lock()
	m.metrics = metrics
	m.mu.Unlock()

	if m.memLimit > 0 {
		usedPct := float64(ms.HeapAlloc) / float64(m.memLimit) * 100
		if usedPct > m.thresholds.MemoryPercent {
			m.raiseAlert("memory", model.SeverityWarning, "heap usage over threshold")
		} else {
			m.resolveAlerts("memory")
		}
	}

	m.emit(EventMetricsCollected, metrics)
}

// raiseAlert creates an alert unless an unresolved one for the same
// component is already active. The alert list is bounded: resolved alerts
// are dropped first, then the oldest.
func (m *Monitor) raiseAlert(component string, severity model.AlertSeverity, message string) {
	m.mu.Lock()
	for _, a := range m.alerts {
		if a.Component == component && !a.Resolved() {
			m.mu.Unlock()
			return
		}
	}

	alert := model.HealthAlert{
		ID:        uuid.New().String(),
		Component: component,
		Severity:  severity,
		Message:   message,
		RaisedAt:  time.Now().UTC(),
	}
	m.alerts = append(m.alerts, alert)

	if len(m.alerts) > m.thresholds.MaxAlerts {
		kept := m.alerts[:0]
		for _, a := range m.alerts {
			if !a.Resolved() {
				kept = append(kept, a)
			}
		}
		if over := len(kept) - m.thresholds.MaxAlerts; over > 0 {
			kept = kept[over:]
		}
		m.alerts = append([]model.HealthAlert(nil), kept...)
	}
	m.mu.Unlock()

	m.emit(EventAlertCreated, alert)
}

// resolveAlerts marks every unresolved alert for component as resolved.
func (m *Monitor) resolveAlerts(component string) {
	now := time.Now().UTC()
	var resolved []model.HealthAlert

	m.mu.Lock()
	for i := range m.alerts {
		if m.alerts[i].Component == component && !m.alerts[i].Resolved() {
			m.alerts[i].ResolvedAt = &now
			resolved = append(resolved, m.alerts[i])
		}
	}
	m.mu.Unlock()

	for _, a := range resolved {
		m.emit(EventAlertResolved, a)
	}
}

// Status returns the worst-of component status and the latest checks.
func (m *Monitor) Status() (model.ComponentStatus, []model.HealthCheck) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := model.StatusHealthy
	checks := make([]model.HealthCheck, 0, len(m.checks))
	for _, c := range m.checks {
		status = model.WorseStatus(status, c.Status)
		checks = append(checks, c)
	}
	return status, checks
}

// Metrics returns the latest resource snapshot.
func (m *Monitor) Metrics() model.SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// ActiveAlerts returns the unresolved alerts.
func (m *Monitor) ActiveAlerts() []model.HealthAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.HealthAlert
	for _, a := range m.alerts {
		if !a.Resolved() {
			out = append(out, a)
		}
	}
	return out
}

// Uptime reports time since monitor construction.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.started)
}

func (m *Monitor) emit(event string, payload any) {
	m.mu.RLock()
	fn := m.onEvent
	m.mu.RUnlock()
	if fn != nil {
		fn(event, payload)
	}
}
