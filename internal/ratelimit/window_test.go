package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWindow(t *testing.T, window time.Duration, maxRequests int) (*WindowLimiter, *time.Time) {
	t.Helper()
	w := NewWindowLimiter(window, maxRequests)
	t.Cleanup(func() { _ = w.Close() })

	now := time.Now()
	w.now = func() time.Time { return now }
	return w, &now
}

func allow(t *testing.T, w *WindowLimiter, key string) bool {
	t.Helper()
	ok, err := w.Allow(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestWindowAllowsUpToMax(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 3)

	assert.True(t, allow(t, w, "k"))
	assert.True(t, allow(t, w, "k"))
	assert.True(t, allow(t, w, "k"))
	assert.False(t, allow(t, w, "k"))
	assert.False(t, allow(t, w, "k"))
}

func TestWindowKeysAreIndependent(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 1)

	assert.True(t, allow(t, w, "a"))
	assert.False(t, allow(t, w, "a"))
	assert.True(t, allow(t, w, "b"))
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	w, now := newTestWindow(t, time.Minute, 1)

	assert.True(t, allow(t, w, "k"))
	assert.False(t, allow(t, w, "k"))

	// Full budget returns once the window elapses.
	*now = now.Add(time.Minute)
	assert.True(t, allow(t, w, "k"))
}

func TestWindowRemaining(t *testing.T) {
	w, now := newTestWindow(t, time.Minute, 3)

	assert.Equal(t, 3, w.Remaining("k"))
	allow(t, w, "k")
	allow(t, w, "k")
	assert.Equal(t, 1, w.Remaining("k"))

	allow(t, w, "k")
	allow(t, w, "k")
	assert.Equal(t, 0, w.Remaining("k"))

	*now = now.Add(time.Minute)
	assert.Equal(t, 3, w.Remaining("k"))
}

func TestWindowReset(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 1)

	allow(t, w, "k")
	assert.False(t, allow(t, w, "k"))

	w.Reset("k")
	assert.True(t, allow(t, w, "k"))
}

func TestWindowEvictExpired(t *testing.T) {
	w, now := newTestWindow(t, time.Minute, 1)

	allow(t, w, "a")
	allow(t, w, "b")

	*now = now.Add(2 * time.Minute)
	w.evictExpired()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Empty(t, w.windows)
}
