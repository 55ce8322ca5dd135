package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucketLimiter implements Limiter with an independent token bucket per
// key: up to burst tokens of headroom, refilled continuously at rate tokens
// per second. Buckets are created on first use; keys idle past
// bucketIdleTimeout are evicted by a background goroutine so abandoned
// identities do not accumulate.
type TokenBucketLimiter struct {
	rate  float64
	burst float64

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	stopOnce sync.Once
	done     chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

const (
	bucketSweepInterval = time.Minute
	bucketIdleTimeout   = 10 * time.Minute
)

// NewTokenBucket creates a limiter sustaining rate requests per second per
// key with bursts of up to burst. Call Close to stop the eviction goroutine.
func NewTokenBucket(rate float64, burst int) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go l.sweep()
	return l
}

// Allow takes one token from key's bucket, reporting false when it is empty.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		// A new key starts with a full bucket; this request takes the
		// first token.
		l.buckets[key] = &tokenBucket{tokens: l.burst - 1, lastSeen: now}
		return true, nil
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (l *TokenBucketLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.done) })
	return nil
}

func (l *TokenBucketLimiter) sweep() {
	ticker := time.NewTicker(bucketSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *TokenBucketLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-bucketIdleTimeout)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
