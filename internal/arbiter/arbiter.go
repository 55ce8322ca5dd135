package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/verify"
)

// Deps holds the arbiter's collaborators. FlushCaches may be nil.
type Deps struct {
	Logger   *slog.Logger
	Engine   *verify.Engine
	Events   *EventLog
	Thoughts *Thoughts

	Workers   int
	QueueSize int

	// FlushCaches drops expired cache entries across the process and
	// returns how many were removed. Wired by the embedding application.
	FlushCaches func() int
}

// Arbiter drains the task queue through the verification engine, recording
// chain-of-thought steps and lifecycle events as it goes. Tasks are
// tenant-scoped; the HTTP layer enforces ownership before lookups.
type Arbiter struct {
	logger   *slog.Logger
	engine   *verify.Engine
	events   *EventLog
	thoughts *Thoughts
	workers  int
	flush    func() int

	mu      sync.Mutex
	tasks   map[string]*model.Task
	queue   chan string
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	active       atomic.Int32
	submitted    atomic.Int64
	completed    atomic.Int64
	failed       atomic.Int64
	observations atomic.Int64
}

// New creates the arbiter. Call Start to begin draining the queue.
func New(deps Deps) *Arbiter {
	if deps.Workers <= 0 {
		deps.Workers = 2
	}
	if deps.QueueSize <= 0 {
		deps.QueueSize = 64
	}
	return &Arbiter{
		logger:   deps.Logger,
		engine:   deps.Engine,
		events:   deps.Events,
		thoughts: deps.Thoughts,
		workers:  deps.Workers,
		flush:    deps.FlushCaches,
		tasks:    make(map[string]*model.Task),
		queue:    make(chan string, deps.QueueSize),
	}
}

// Start launches the worker pool. Idempotent: starting a running arbiter
// is a no-op reported in the result message.
func (a *Arbiter) Start() model.ArbiterControlResult {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return model.ArbiterControlResult{Running: true, Message: "arbiter already running"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.running = true
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.worker(ctx)
	}
	a.mu.Unlock()

	a.events.Append(EventArbiterStarted, SeverityInfo, "", "arbiter started", map[string]any{"workers": a.workers})
	a.logger.Info("arbiter: started", "workers", a.workers)
	return model.ArbiterControlResult{Running: true, Message: "arbiter started"}
}

// Stop cancels the workers and waits for in-flight tasks to drain.
// Queued tasks stay pending and run on the next Start.
func (a *Arbiter) Stop() model.ArbiterControlResult {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return model.ArbiterControlResult{Running: false, Message: "arbiter not running"}
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()

	a.events.Append(EventArbiterStopped, SeverityInfo, "", "arbiter stopped", nil)
	a.logger.Info("arbiter: stopped")
	return model.ArbiterControlResult{Running: false, Message: "arbiter stopped"}
}

// Submit validates and enqueues a task owned by tenantID. A full queue
// fails fast rather than blocking the caller.
func (a *Arbiter) Submit(tenantID string, req model.SubmitTaskRequest) (model.SubmitTaskResult, error) {
	if req.Description == "" {
		return model.SubmitTaskResult{}, model.NewError(model.ErrInvalidInput, "description must not be empty")
	}
	if len(req.Description) > model.MaxClaimLength {
		return model.SubmitTaskResult{}, model.NewError(model.ErrInvalidInput, "description exceeds %d characters", model.MaxClaimLength)
	}

	id := uuid.New().String()
	if tenantID != "" {
		id = tenantID + ":" + id
	}
	now := time.Now().UTC()
	task := &model.Task{
		ID:          id,
		TenantID:    tenantID,
		Description: req.Description,
		Status:      "pending",
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	a.mu.Lock()
	a.tasks[id] = task
	a.mu.Unlock()

	select {
	case a.queue <- id:
	default:
		a.mu.Lock()
		delete(a.tasks, id)
		a.mu.Unlock()
		return model.SubmitTaskResult{}, model.NewError(model.ErrRateLimitExceeded, "task queue is full")
	}

	a.submitted.Add(1)
	a.events.Append(EventTaskSubmitted, SeverityInfo, id, "task submitted", map[string]any{"tenant_id": tenantID})
	return model.SubmitTaskResult{TaskID: id, Accepted: true}, nil
}

// Task returns a copy of the task record.
func (a *Arbiter) Task(id string) (model.Task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return *t, true
}

// Status reports the queue and worker state.
func (a *Arbiter) Status() (running bool, queueDepth, activeTasks int) {
	a.mu.Lock()
	running = a.running
	a.mu.Unlock()
	return running, len(a.queue), int(a.active.Load())
}

// Progress snapshots the lifetime counters.
func (a *Arbiter) Progress() model.ObserverProgressSummary {
	return model.ObserverProgressSummary{
		TasksSubmitted:   a.submitted.Load(),
		TasksCompleted:   a.completed.Load(),
		TasksFailed:      a.failed.Load(),
		ReasoningSteps:   a.thoughts.Total(),
		ObservationCount: a.observations.Load(),
	}
}

// Observe appends an external observation to the event log.
func (a *Arbiter) Observe(req model.ObservationRequest) (model.ObservationResult, error) {
	if req.Message == "" {
		return model.ObservationResult{}, model.NewError(model.ErrInvalidInput, "message must not be empty")
	}
	var fields map[string]any
	if req.Author != "" {
		fields = map[string]any{"author": req.Author}
	}
	e := a.events.Append(EventObservation, SeverityInfo, req.TaskID, req.Message, fields)
	a.observations.Add(1)
	return model.ObservationResult{ID: e.ID, Recorded: true}, nil
}

// Command executes one allowlisted control command. The HTTP layer runs
// the command line through the security policy before calling this.
func (a *Arbiter) Command(name string) model.CommandResult {
	a.events.Append(EventCommand, SeverityInfo, "", "command received: "+name, nil)

	switch name {
	case "status":
		running, depth, active := a.Status()
		return model.CommandResult{
			Accepted: true,
			Output:   fmt.Sprintf("running=%t queue=%d active=%d", running, depth, active),
		}
	case "pause":
		res := a.Stop()
		return model.CommandResult{Accepted: true, Output: res.Message}
	case "resume":
		res := a.Start()
		return model.CommandResult{Accepted: true, Output: res.Message}
	case "flush-caches":
		if a.flush == nil {
			return model.CommandResult{Accepted: false, Error: "no caches wired"}
		}
		return model.CommandResult{Accepted: true, Output: fmt.Sprintf("removed %d expired entries", a.flush())}
	default:
		return model.CommandResult{Accepted: false, Error: fmt.Sprintf("unknown command %q", name)}
	}
}

func (a *Arbiter) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-a.queue:
			a.runTask(ctx, id)
		}
	}
}

func (a *Arbiter) runTask(ctx context.Context, id string) {
	a.mu.Lock()
	task, ok := a.tasks[id]
	if !ok {
		a.mu.Unlock()
		return
	}
	task.Status = "running"
	task.UpdatedAt = time.Now().UTC()
	description := task.Description
	a.mu.Unlock()

	a.active.Add(1)
	defer a.active.Add(-1)

	a.events.Append(EventTaskStarted, SeverityInfo, id, "task started", nil)
	a.thoughts.Append(id, "Task accepted: "+truncate(description, 120))
	a.thoughts.Append(id, "Running verification strategies")

	result, err := a.engine.Verify(ctx, model.VerificationRequest{ID: id, Content: description})

	a.mu.Lock()
	task.UpdatedAt = time.Now().UTC()
	if err != nil {
		task.Status = "failed"
	} else {
		task.Status = "completed"
		task.Result = &result
	}
	a.mu.Unlock()

	if err != nil {
		a.failed.Add(1)
		a.thoughts.Append(id, "Verification failed: "+err.Error())
		a.events.Append(EventTaskFailed, SeverityError, id, err.Error(), nil)
		a.logger.Warn("arbiter: task failed", "task_id", id, "error", err)
		return
	}

	for _, o := range result.StrategyOutcomes {
		a.thoughts.Append(id, fmt.Sprintf("%s: %s (confidence %.2f)", o.Strategy, o.Verdict, o.Confidence))
	}
	a.thoughts.Append(id, fmt.Sprintf("Verdict: %s (confidence %.2f)", result.Verdict, result.Confidence))

	a.completed.Add(1)
	a.events.Append(EventTaskCompleted, SeverityInfo, id, string(result.Verdict), map[string]any{
		"confidence":         result.Confidence,
		"processing_time_ms": result.ProcessingTimeMs,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
