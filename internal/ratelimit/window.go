package ratelimit

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter implements a fixed-window counter per key: at most
// maxRequests requests per window. On a fresh window the count is set to 1
// and the reset time to now+window; within a window the count increments
// and the request is denied once the count exceeds maxRequests.
//
// Resolution is wall-clock milliseconds; a request arriving exactly at the
// reset time starts a new window (ties break toward accepting).
type WindowLimiter struct {
	window      time.Duration
	maxRequests int

	mu      sync.Mutex
	windows map[string]*windowState

	stopOnce sync.Once
	done     chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

type windowState struct {
	count     int
	resetTime time.Time
}

// NewWindowLimiter creates a fixed-window limiter. A background goroutine
// evicts expired windows every minute; call Close to stop it.
func NewWindowLimiter(window time.Duration, maxRequests int) *WindowLimiter {
	w := &WindowLimiter{
		window:      window,
		maxRequests: maxRequests,
		windows:     make(map[string]*windowState),
		done:        make(chan struct{}),
		now:         time.Now,
	}
	go w.cleanup()
	return w
}

// Allow records a request against key's current window and reports whether
// it is within budget.
func (w *WindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	st, ok := w.windows[key]
	if !ok || !now.Before(st.resetTime) {
		w.windows[key] = &windowState{count: 1, resetTime: now.Add(w.window)}
		return true, nil
	}

	st.count++
	return st.count <= w.maxRequests, nil
}

// Remaining returns the requests left in key's current window.
func (w *WindowLimiter) Remaining(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.windows[key]
	if !ok || !w.now().Before(st.resetTime) {
		return w.maxRequests
	}
	left := w.maxRequests - st.count
	if left < 0 {
		return 0
	}
	return left
}

// Reset drops the window for key, restoring the full budget.
func (w *WindowLimiter) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.windows, key)
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (w *WindowLimiter) Close() error {
	w.stopOnce.Do(func() { close(w.done) })
	return nil
}

func (w *WindowLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.evictExpired()
		}
	}
}

func (w *WindowLimiter) evictExpired() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for key, st := range w.windows {
		if !now.Before(st.resetTime) {
			delete(w.windows, key)
		}
	}
}
