package arbiter

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/saitei/internal/model"
)

type storedThought struct {
	seq   int64
	entry model.ChainOfThoughtEntry
}

// Thoughts is the bounded chain-of-thought record. Steps number from 1
// within each task; the global sequence drives cursor paging, same scheme
// as the event log.
type Thoughts struct {
	maxEntries int

	mu      sync.RWMutex
	entries []storedThought
	seq     int64
	steps   map[string]int // per-task step counter
	total   int64          // appended over the process lifetime

	now func() time.Time
}

// NewThoughts creates a chain-of-thought store bounded to maxEntries.
func NewThoughts(maxEntries int) *Thoughts {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &Thoughts{maxEntries: maxEntries, steps: make(map[string]int), now: time.Now}
}

// Append records one reasoning step for taskID.
func (t *Thoughts) Append(taskID, content string) model.ChainOfThoughtEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	t.total++
	t.steps[taskID]++
	entry := model.ChainOfThoughtEntry{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Step:      t.steps[taskID],
		Content:   content,
		Timestamp: t.now().UTC(),
	}
	t.entries = append(t.entries, storedThought{seq: t.seq, entry: entry})
	if over := len(t.entries) - t.maxEntries; over > 0 {
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
	}
	return entry
}

// ThoughtQuery filters and pages the chain-of-thought record.
type ThoughtQuery struct {
	Cursor string
	Limit  int
	TaskID string
	Since  time.Time
}

// List returns the page of entries after q.Cursor, oldest first.
func (t *Thoughts) List(q ThoughtQuery) model.ChainOfThoughtListResult {
	after, _ := strconv.ParseInt(q.Cursor, 10, 64)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	result := model.ChainOfThoughtListResult{Entries: []model.ChainOfThoughtEntry{}}
	var lastSeq int64
	for _, st := range t.entries {
		if st.seq <= after {
			continue
		}
		if q.TaskID != "" && st.entry.TaskID != q.TaskID {
			continue
		}
		if !q.Since.IsZero() && st.entry.Timestamp.Before(q.Since) {
			continue
		}
		if len(result.Entries) == limit {
			result.HasMore = true
			break
		}
		result.Entries = append(result.Entries, st.entry)
		lastSeq = st.seq
	}
	if lastSeq > 0 {
		result.NextCursor = strconv.FormatInt(lastSeq, 10)
	}
	return result
}

// Total reports reasoning steps appended over the process lifetime,
// independent of truncation.
func (t *Thoughts) Total() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}
