// Package arbiter implements the adjudication loop behind the observer
// surface: a bounded task queue drained by workers that run verification,
// a bounded event log with cursor paging, and a chain-of-thought record
// per task. All state is in-memory with explicit bounds; the HTTP layer
// and the SSE broker consume it read-only.
package arbiter

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/saitei/internal/model"
)

// Event types emitted to the log and the stream.
const (
	EventTaskSubmitted  = "task-submitted"
	EventTaskStarted    = "task-started"
	EventTaskCompleted  = "task-completed"
	EventTaskFailed     = "task-failed"
	EventObservation    = "observation"
	EventCommand        = "command"
	EventArbiterStarted = "arbiter-started"
	EventArbiterStopped = "arbiter-stopped"
)

// Severity levels, from least to most severe.
const (
	SeverityDebug = "debug"
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// AppendFunc receives every appended event, e.g. for SSE fan-out.
// Must not block.
type AppendFunc func(e model.ObserverEvent)

type storedEvent struct {
	seq   int64
	event model.ObserverEvent
}

// EventLog is the bounded, append-only observer event store. Each event
// carries a monotonic sequence number; cursors are sequence numbers, so a
// page token stays valid across truncation (truncated events are simply
// absent from the next page).
type EventLog struct {
	maxEvents int

	mu       sync.RWMutex
	events   []storedEvent
	seq      int64
	onAppend AppendFunc

	// now is swappable for tests.
	now func() time.Time
}

// NewEventLog creates an event log bounded to maxEvents entries.
func NewEventLog(maxEvents int) *EventLog {
	if maxEvents <= 0 {
		maxEvents = 10_000
	}
	return &EventLog{maxEvents: maxEvents, now: time.Now}
}

// OnAppend registers the fan-out callback. Call before serving.
func (l *EventLog) OnAppend(fn AppendFunc) { l.onAppend = fn }

// Append records an event, stamping ID and Timestamp when absent.
func (l *EventLog) Append(eventType, severity, taskID, message string, fields map[string]any) model.ObserverEvent {
	e := model.ObserverEvent{
		ID:        uuid.New().String(),
		Timestamp: l.now().UTC(),
		Type:      eventType,
		Severity:  severity,
		TaskID:    taskID,
		Message:   message,
		Fields:    fields,
	}

	l.mu.Lock()
	l.seq++
	l.events = append(l.events, storedEvent{seq: l.seq, event: e})
	if over := len(l.events) - l.maxEvents; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
	fn := l.onAppend
	l.mu.Unlock()

	if fn != nil {
		fn(e)
	}
	return e
}

// EventQuery filters and pages the event log. Cursor is the sequence number
// of the last event already seen; zero (or an unparseable cursor) starts
// from the beginning.
type EventQuery struct {
	Cursor   string
	Limit    int
	Severity string
	Type     string
	TaskID   string
	Since    time.Time
	Until    time.Time
}

func (q EventQuery) matches(e model.ObserverEvent) bool {
	if q.Severity != "" && e.Severity != q.Severity {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.TaskID != "" && e.TaskID != q.TaskID {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// List returns the page of events after q.Cursor, oldest first.
func (l *EventLog) List(q EventQuery) model.EventListResult {
	after, _ := strconv.ParseInt(q.Cursor, 10, 64)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	result := model.EventListResult{Events: []model.ObserverEvent{}}
	var lastSeq int64
	for _, se := range l.events {
		if se.seq <= after || !q.matches(se.event) {
			continue
		}
		if len(result.Events) == limit {
			result.HasMore = true
			break
		}
		result.Events = append(result.Events, se.event)
		lastSeq = se.seq
	}
	if lastSeq > 0 {
		result.NextCursor = strconv.FormatInt(lastSeq, 10)
	}
	return result
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
