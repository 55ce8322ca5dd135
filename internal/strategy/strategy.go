// Package strategy implements the verification strategies behind the
// engine's uniform contract: Verify, IsAvailable, Health.
//
// Strategies are tagged variants selected by kind; no subclassing. Each
// strategy recovers its own failures: an error becomes an Unverified
// outcome with the message in reasoning and never propagates upward.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
)

// Strategy is the uniform contract every verification method implements.
type Strategy interface {
	// Kind identifies the strategy for selection and tie-breaking.
	Kind() model.StrategyKind

	// Verify judges the request. Implementations respect ctx cancellation
	// and return an outcome rather than an error wherever possible.
	Verify(ctx context.Context, req model.VerificationRequest) (model.StrategyOutcome, error)

	// IsAvailable reports whether the strategy can currently serve requests.
	IsAvailable() bool

	// Health returns the rolling liveness report.
	Health() model.StrategyHealth
}

const (
	healthWindow   = 100             // rolling response-time samples
	errorRateAlpha = 0.1             // EMA smoothing factor
	staleAfter     = 5 * time.Minute // no check in this long = stale
	maxConsecFails = 5               // liveness threshold
)

// healthTracker maintains the rolling health window shared by all strategies.
// Embed it and call observe after every verification.
type healthTracker struct {
	mu                  sync.Mutex
	responseTimes       []float64 // ms, ring of healthWindow samples
	errorRate           float64   // EMA, alpha=errorRateAlpha
	consecutiveFailures int
	lastCheck           time.Time
}

// observe records one verification's duration and success.
func (h *healthTracker) observe(elapsed time.Duration, failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.responseTimes = append(h.responseTimes, float64(elapsed.Milliseconds()))
	if len(h.responseTimes) > healthWindow {
		h.responseTimes = h.responseTimes[len(h.responseTimes)-healthWindow:]
	}

	sample := 0.0
	if failed {
		sample = 1.0
		h.consecutiveFailures++
	} else {
		h.consecutiveFailures = 0
	}
	h.errorRate = errorRateAlpha*sample + (1-errorRateAlpha)*h.errorRate
	h.lastCheck = time.Now()
}

// available reports liveness. A stale tracker (no observation within
// staleAfter) forgets past consecutive failures so the next call can probe.
func (h *healthTracker) available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.lastCheck.IsZero() && time.Since(h.lastCheck) > staleAfter {
		h.consecutiveFailures = 0
		return true
	}
	return h.consecutiveFailures < maxConsecFails
}

// health snapshots the tracker.
func (h *healthTracker) health() model.StrategyHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	var avg float64
	if len(h.responseTimes) > 0 {
		var sum float64
		for _, v := range h.responseTimes {
			sum += v
		}
		avg = sum / float64(len(h.responseTimes))
	}
	return model.StrategyHealth{
		Available:      h.consecutiveFailures < maxConsecFails,
		ResponseTimeMs: avg,
		ErrorRate:      h.errorRate,
	}
}

// clampMs clamps a measured duration to at least 1ms so an outcome that ran
// is distinguishable from one that never ran.
func clampMs(elapsed time.Duration) int64 {
	ms := elapsed.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

// unverified builds the standard recovery outcome for a failed strategy call.
func unverified(kind model.StrategyKind, reason string, elapsed time.Duration) model.StrategyOutcome {
	return model.StrategyOutcome{
		Strategy:         kind,
		Verdict:          model.VerdictUnverified,
		Confidence:       0,
		Reasoning:        reason,
		ProcessingTimeMs: clampMs(elapsed),
	}
}
