package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/saitei/internal/arbiter"
	"github.com/ashita-ai/saitei/internal/audit"
	"github.com/ashita-ai/saitei/internal/health"
	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/security"
	"github.com/ashita-ai/saitei/internal/storage"
	"github.com/ashita-ai/saitei/internal/verify"
	"github.com/ashita-ai/saitei/internal/webnav"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	envelope  *security.Envelope
	tokens    *security.TokenManager
	arb       *arbiter.Arbiter
	events    *arbiter.EventLog
	thoughts  *arbiter.Thoughts
	engine    *verify.Engine
	monitor   *health.Monitor
	navigator *webnav.Navigator
	auditLog  *audit.Log
	commands  *security.CommandPolicy
	keys      *KeyRegistry
	broker    *Broker
	db        *storage.DB
	logger    *slog.Logger

	startedAt time.Time
	version   string
	maxBody   int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Navigator, DB, Broker.
type HandlersDeps struct {
	Envelope  *security.Envelope
	Tokens    *security.TokenManager
	Arbiter   *arbiter.Arbiter
	Events    *arbiter.EventLog
	Thoughts  *arbiter.Thoughts
	Engine    *verify.Engine
	Monitor   *health.Monitor
	Navigator *webnav.Navigator
	AuditLog  *audit.Log
	Commands  *security.CommandPolicy
	Keys      *KeyRegistry
	Broker    *Broker
	DB        *storage.DB
	Logger    *slog.Logger

	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		envelope:  d.Envelope,
		tokens:    d.Tokens,
		arb:       d.Arbiter,
		events:    d.Events,
		thoughts:  d.Thoughts,
		engine:    d.Engine,
		monitor:   d.Monitor,
		navigator: d.Navigator,
		auditLog:  d.AuditLog,
		commands:  d.Commands,
		keys:      d.Keys,
		broker:    d.Broker,
		db:        d.DB,
		logger:    d.Logger,
		startedAt: time.Now(),
		version:   d.Version,
		maxBody:   d.MaxRequestBodyBytes,
	}
}

// authorize runs the envelope's authorize step and writes the HTTP error on
// denial. Returns the security context, or nil if the request was rejected.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request, action, resourceType, resourceID string) *model.SecurityContext {
	sc := SecurityContextFromContext(r.Context())
	if sc == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no security context")
		return nil
	}
	if err := h.envelope.Authorize(r.Context(), sc, action, resourceType, resourceID); err != nil {
		writeTypedError(w, r, err)
		return nil
	}
	return sc
}

// HandleStatus handles GET /observer/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.authorize(w, r, "read", "observer", "") == nil {
		return
	}

	status, _ := h.monitor.Status()
	running, queueDepth, activeTasks := h.arb.Status()

	writeJSON(w, r, http.StatusOK, model.ObserverStatusSummary{
		Status:        status,
		Running:       running,
		QueueDepth:    queueDepth,
		ActiveTasks:   activeTasks,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Version:       h.version,
	})
}

// HandleMetrics handles GET /observer/metrics.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.authorize(w, r, "read", "observer", "") == nil {
		return
	}

	_, checks := h.monitor.Status()
	stats := h.engine.Stats()

	writeJSON(w, r, http.StatusOK, model.ObserverMetricsSnapshot{
		System:     h.monitor.Metrics(),
		Components: checks,
		Verification: map[string]int64{
			"requests_total": stats.RequestsTotal,
			"cache_hits":     stats.CacheHits,
			"rate_limited":   stats.RateLimited,
			"errors_total":   stats.ErrorsTotal,
			"cache_entries":  int64(stats.Cache.Size),
		},
		ActiveAlerts: h.monitor.ActiveAlerts(),
		CollectedAt:  time.Now().UTC(),
	})
}

// HandleProgress handles GET /observer/progress.
func (h *Handlers) HandleProgress(w http.ResponseWriter, r *http.Request) {
	if h.authorize(w, r, "read", "observer", "") == nil {
		return
	}
	writeJSON(w, r, http.StatusOK, h.arb.Progress())
}

// HandleDiagnostics handles GET /observer/diagnostics. The payload is an
// intentionally opaque grab bag for operators.
func (h *Handlers) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	sc := h.authorize(w, r, "read", "observer", "")
	if sc == nil {
		return
	}

	diag := map[string]any{
		"engine":           h.engine.Stats(),
		"strategies":       h.engine.Health(),
		"audit_events":     h.auditLog.Len(),
		"event_log":        h.events.Len(),
		"sse_subscribers":  h.broker.SubscriberCount(),
		"persistence":      h.db != nil,
		"recent_audit":     h.auditLog.Recent(audit.Query{TenantID: sc.TenantID, Limit: 20}),
		"uptime_seconds":   int64(time.Since(h.startedAt).Seconds()),
	}
	if h.navigator != nil {
		diag["web_cache"] = h.navigator.CacheStats()
	}
	writeJSON(w, r, http.StatusOK, diag)
}

// HandleLogs handles GET /observer/logs.
func (h *Handlers) HandleLogs(w http.ResponseWriter, r *http.Request) {
	if h.authorize(w, r, "query", "events", "") == nil {
		return
	}

	q := r.URL.Query()
	query := arbiter.EventQuery{
		Cursor:   q.Get("cursor"),
		Limit:    intParam(q.Get("limit")),
		Severity: q.Get("severity"),
		Type:     q.Get("type"),
		TaskID:   q.Get("taskId"),
		Since:    timeParam(q.Get("sinceTs")),
		Until:    timeParam(q.Get("untilTs")),
	}
	writeJSON(w, r, http.StatusOK, h.events.List(query))
}

// HandleCoT handles GET /observer/cot.
func (h *Handlers) HandleCoT(w http.ResponseWriter, r *http.Request) {
	if h.authorize(w, r, "query", "cot", "") == nil {
		return
	}

	q := r.URL.Query()
	writeJSON(w, r, http.StatusOK, h.thoughts.List(arbiter.ThoughtQuery{
		Cursor: q.Get("cursor"),
		Limit:  intParam(q.Get("limit")),
		TaskID: q.Get("taskId"),
		Since:  timeParam(q.Get("since")),
	}))
}

// HandleGetTask handles GET /observer/tasks/{task_id}. A cross-tenant id is
// denied before the lookup, so denial never leaks task existence.
func (h *Handlers) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	sc := h.authorize(w, r, "read", "task", taskID)
	if sc == nil {
		return
	}

	task, ok := h.arb.Task(taskID)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "task not found")
		return
	}
	h.envelope.Audit(r.Context(), sc, model.AuditResourceRead, "read", "task/"+taskID, model.AuditSuccess, nil)
	writeJSON(w, r, http.StatusOK, task)
}

// HandleTaskCoT handles GET /observer/tasks/{task_id}/cot.
func (h *Handlers) HandleTaskCoT(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if h.authorize(w, r, "read", "task", taskID) == nil {
		return
	}

	if _, ok := h.arb.Task(taskID); !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "task not found")
		return
	}

	q := r.URL.Query()
	writeJSON(w, r, http.StatusOK, h.thoughts.List(arbiter.ThoughtQuery{
		Cursor: q.Get("cursor"),
		Limit:  intParam(q.Get("limit")),
		TaskID: taskID,
		Since:  timeParam(q.Get("since")),
	}))
}

// HandleSubmitTask handles POST /observer/tasks.
func (h *Handlers) HandleSubmitTask(w http.ResponseWriter, r *http.Request) {
	sc := h.authorize(w, r, "create", "task", "")
	if sc == nil {
		return
	}

	var req model.SubmitTaskRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	result, err := h.arb.Submit(sc.TenantID, req)
	if err != nil {
		writeTypedError(w, r, err)
		return
	}

	h.envelope.Audit(r.Context(), sc, model.AuditResourceCreate, "create", "task/"+result.TaskID, model.AuditSuccess, nil)
	writeJSON(w, r, http.StatusAccepted, result)
}

// HandleArbiterControl handles POST /observer/arbiter/start and /stop.
func (h *Handlers) HandleArbiterControl(w http.ResponseWriter, r *http.Request) {
	sc := h.authorize(w, r, "execute", "arbiter", "")
	if sc == nil {
		return
	}

	action := r.PathValue("action")
	var result model.ArbiterControlResult
	switch action {
	case "start":
		result = h.arb.Start()
	case "stop":
		result = h.arb.Stop()
	default:
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown arbiter action")
		return
	}

	h.envelope.Audit(r.Context(), sc, model.AuditResourceUpdate, action, "arbiter", model.AuditSuccess, nil)
	writeJSON(w, r, http.StatusOK, result)
}

// HandleCommand handles POST /observer/commands. The command line must pass
// the security policy (allowlist + argument screening) before it reaches
// the arbiter; a rejected command is audited as a security violation.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	sc := h.authorize(w, r, "execute", "command", "")
	if sc == nil {
		return
	}

	var req model.CommandRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := h.commands.Validate(req.Command); err != nil {
		h.envelope.Audit(r.Context(), sc, model.AuditSecurityViolation, "execute", "command",
			model.AuditBlocked, map[string]any{"reason": err.Error()})
		writeJSON(w, r, http.StatusOK, model.CommandResult{Accepted: false, Error: err.Error()})
		return
	}

	name := strings.Fields(req.Command)[0]
	result := h.arb.Command(name)
	h.envelope.Audit(r.Context(), sc, model.AuditResourceUpdate, "execute", "command/"+name, model.AuditSuccess, nil)
	writeJSON(w, r, http.StatusOK, result)
}

// HandleObservation handles POST /observer/observations.
func (h *Handlers) HandleObservation(w http.ResponseWriter, r *http.Request) {
	sc := h.authorize(w, r, "create", "observation", "")
	if sc == nil {
		return
	}

	var req model.ObservationRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Author == "" {
		req.Author = sc.UserID
	}

	result, err := h.arb.Observe(req)
	if err != nil {
		writeTypedError(w, r, err)
		return
	}

	h.envelope.Audit(r.Context(), sc, model.AuditResourceCreate, "create", "observation/"+result.ID, model.AuditSuccess, nil)
	writeJSON(w, r, http.StatusCreated, result)
}

// HandleEventStream handles GET /observer/events/stream (SSE).
func (h *Handlers) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	if h.authorize(w, r, "read", "events", "") == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	q := r.URL.Query()
	filter := StreamFilter{
		TaskID:   q.Get("taskId"),
		Type:     q.Get("type"),
		Severity: q.Get("severity"),
		Verbose:  q.Get("verbose") == "true",
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe(filter)
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health (anonymous liveness).
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, _ := h.monitor.Status()
	httpStatus := http.StatusOK
	if status == model.StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	payload := map[string]any{
		"status":  status,
		"version": h.version,
	}
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			payload["database"] = "disconnected"
		} else {
			payload["database"] = "connected"
		}
	}
	writeJSON(w, r, httpStatus, payload)
}

func intParam(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// timeParam accepts unix milliseconds or RFC 3339.
func timeParam(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
