package arbiter

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/strategy"
	"github.com/ashita-ai/saitei/internal/verify"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

type stubStrategy struct {
	kind    model.StrategyKind
	verdict model.Verdict
	conf    float64
}

func (s *stubStrategy) Kind() model.StrategyKind { return s.kind }
func (s *stubStrategy) IsAvailable() bool        { return true }
func (s *stubStrategy) Health() model.StrategyHealth {
	return model.StrategyHealth{Available: true}
}
func (s *stubStrategy) Verify(context.Context, model.VerificationRequest) (model.StrategyOutcome, error) {
	return model.StrategyOutcome{Strategy: s.kind, Verdict: s.verdict, Confidence: s.conf, Reasoning: "stub"}, nil
}

func newTestArbiter(t *testing.T) *Arbiter {
	t.Helper()
	engine := verify.NewEngine(testLogger(),
		[]strategy.Strategy{&stubStrategy{kind: model.StrategyFactChecking, verdict: model.VerdictVerifiedTrue, conf: 0.9}},
		verify.NewCache(testLogger(), time.Hour), 4, time.Second, time.Minute)
	return New(Deps{
		Logger:   testLogger(),
		Engine:   engine,
		Events:   NewEventLog(1000),
		Thoughts: NewThoughts(1000),
		Workers:  1,
	})
}

func waitForStatus(t *testing.T, a *Arbiter, id, want string) model.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := a.Task(id); ok && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := a.Task(id)
	t.Fatalf("task %s never reached %s (last status %q)", id, want, task.Status)
	return model.Task{}
}

func TestSubmitAndComplete(t *testing.T) {
	a := newTestArbiter(t)
	a.Start()
	defer a.Stop()

	res, err := a.Submit("tenant-a", model.SubmitTaskRequest{Description: "The Earth orbits the Sun"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Contains(t, res.TaskID, "tenant-a:")

	task := waitForStatus(t, a, res.TaskID, "completed")
	require.NotNil(t, task.Result)
	assert.Equal(t, model.VerdictVerifiedTrue, task.Result.Verdict)

	progress := a.Progress()
	assert.Equal(t, int64(1), progress.TasksSubmitted)
	assert.Equal(t, int64(1), progress.TasksCompleted)
	assert.Greater(t, progress.ReasoningSteps, int64(0))
}

func TestSubmitValidation(t *testing.T) {
	a := newTestArbiter(t)

	_, err := a.Submit("t", model.SubmitTaskRequest{Description: ""})
	assert.True(t, model.IsKind(err, model.ErrInvalidInput))
}

func TestSubmitQueueFull(t *testing.T) {
	a := newTestArbiter(t)
	a.queue = make(chan string, 1) // not started, so nothing drains

	_, err := a.Submit("t", model.SubmitTaskRequest{Description: "first"})
	require.NoError(t, err)
	_, err = a.Submit("t", model.SubmitTaskRequest{Description: "second"})
	assert.True(t, model.IsKind(err, model.ErrRateLimitExceeded))
}

func TestTaskChainOfThought(t *testing.T) {
	a := newTestArbiter(t)
	a.Start()
	defer a.Stop()

	res, err := a.Submit("t", model.SubmitTaskRequest{Description: "water is wet"})
	require.NoError(t, err)
	waitForStatus(t, a, res.TaskID, "completed")

	cot := a.thoughts.List(ThoughtQuery{TaskID: res.TaskID})
	require.NotEmpty(t, cot.Entries)
	assert.Equal(t, 1, cot.Entries[0].Step)
	assert.Contains(t, cot.Entries[0].Content, "Task accepted")
}

func TestStartStopIdempotent(t *testing.T) {
	a := newTestArbiter(t)

	assert.True(t, a.Start().Running)
	second := a.Start()
	assert.True(t, second.Running)
	assert.Contains(t, second.Message, "already running")

	assert.False(t, a.Stop().Running)
	assert.Contains(t, a.Stop().Message, "not running")
}

func TestCommands(t *testing.T) {
	a := newTestArbiter(t)
	a.flush = func() int { return 3 }

	res := a.Command("status")
	assert.True(t, res.Accepted)
	assert.Contains(t, res.Output, "running=false")

	res = a.Command("resume")
	assert.True(t, res.Accepted)
	running, _, _ := a.Status()
	assert.True(t, running)

	res = a.Command("pause")
	assert.True(t, res.Accepted)
	running, _, _ = a.Status()
	assert.False(t, running)

	res = a.Command("flush-caches")
	assert.True(t, res.Accepted)
	assert.Contains(t, res.Output, "removed 3")

	res = a.Command("reboot")
	assert.False(t, res.Accepted)
	assert.NotEmpty(t, res.Error)
}

func TestObserve(t *testing.T) {
	a := newTestArbiter(t)

	res, err := a.Observe(model.ObservationRequest{Message: "human note", Author: "reviewer"})
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.Equal(t, int64(1), a.Progress().ObservationCount)

	_, err = a.Observe(model.ObservationRequest{})
	assert.True(t, model.IsKind(err, model.ErrInvalidInput))
}

func TestEventLogPaging(t *testing.T) {
	log := NewEventLog(100)
	for i := 0; i < 5; i++ {
		log.Append(EventObservation, SeverityInfo, "task-1", "note", nil)
	}
	log.Append(EventTaskFailed, SeverityError, "task-2", "boom", nil)

	page := log.List(EventQuery{Limit: 3})
	require.Len(t, page.Events, 3)
	assert.True(t, page.HasMore)

	rest := log.List(EventQuery{Cursor: page.NextCursor, Limit: 10})
	assert.Len(t, rest.Events, 3)
	assert.False(t, rest.HasMore)

	errs := log.List(EventQuery{Severity: SeverityError})
	require.Len(t, errs.Events, 1)
	assert.Equal(t, "task-2", errs.Events[0].TaskID)

	byTask := log.List(EventQuery{TaskID: "task-1"})
	assert.Len(t, byTask.Events, 5)
}

func TestEventLogBound(t *testing.T) {
	log := NewEventLog(10)
	for i := 0; i < 25; i++ {
		log.Append(EventObservation, SeverityInfo, "", "note", nil)
	}
	assert.Equal(t, 10, log.Len())

	// Cursors survive truncation: paging from zero starts at the oldest
	// retained event.
	page := log.List(EventQuery{Limit: 100})
	assert.Len(t, page.Events, 10)
}

func TestEventLogFanOut(t *testing.T) {
	log := NewEventLog(10)
	var got []model.ObserverEvent
	log.OnAppend(func(e model.ObserverEvent) { got = append(got, e) })

	log.Append(EventTaskStarted, SeverityInfo, "t", "started", nil)
	require.Len(t, got, 1)
	assert.Equal(t, EventTaskStarted, got[0].Type)
}

func TestThoughtsPagingAndSteps(t *testing.T) {
	th := NewThoughts(100)
	th.Append("a", "one")
	th.Append("b", "other task")
	th.Append("a", "two")

	page := th.List(ThoughtQuery{TaskID: "a"})
	require.Len(t, page.Entries, 2)
	assert.Equal(t, 1, page.Entries[0].Step)
	assert.Equal(t, 2, page.Entries[1].Step)
	assert.Equal(t, int64(3), th.Total())
}
