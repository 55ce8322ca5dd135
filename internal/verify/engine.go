// Package verify implements the verification engine: cache lookup, request
// validation, the concurrency gate, parallel strategy execution with
// per-method timeouts, and deterministic aggregation.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/strategy"
)

// Engine orchestrates verification requests across the registered strategies.
type Engine struct {
	logger     *slog.Logger
	strategies map[model.StrategyKind]strategy.Strategy
	cache      *Cache

	// gate bounds concurrent verifications. Acquisition never blocks: the
	// N+1-th concurrent request fails fast with a rate-limit error.
	gate *semaphore.Weighted

	defaultTimeout time.Duration
	maxTimeout     time.Duration
	maxConcurrent  int

	requestsTotal atomic.Int64
	cacheHits     atomic.Int64
	rateLimited   atomic.Int64
	errorsTotal   atomic.Int64
}

// NewEngine creates the engine. maxConcurrent bounds in-flight verifications.
func NewEngine(logger *slog.Logger, strategies []strategy.Strategy, cache *Cache, maxConcurrent int, defaultTimeout, maxTimeout time.Duration) *Engine {
	m := make(map[model.StrategyKind]strategy.Strategy, len(strategies))
	for _, s := range strategies {
		m[s.Kind()] = s
	}
	return &Engine{
		logger:         logger,
		strategies:     m,
		cache:          cache,
		gate:           semaphore.NewWeighted(int64(maxConcurrent)),
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		maxConcurrent:  maxConcurrent,
	}
}

// Verify runs the full pipeline for one request. Request-level failures
// return both a result carrying the error and a typed error; strategy-level
// failures are absorbed into Unverified outcomes.
func (e *Engine) Verify(ctx context.Context, req model.VerificationRequest) (model.VerificationResult, error) {
	start := time.Now()
	e.requestsTotal.Add(1)

	fp := req.Fingerprint()
	if cached, ok := e.cache.Get(fp); ok {
		e.cacheHits.Add(1)
		cached.RequestID = req.ID
		cached.ProcessingTimeMs = clampMs(time.Since(start))
		return cached, nil
	}

	if err := validateRequest(req); err != nil {
		e.errorsTotal.Add(1)
		return errorResult(req.ID, model.VerdictUnverified, err, start), err
	}

	if !e.gate.TryAcquire(1) {
		e.rateLimited.Add(1)
		err := model.NewError(model.ErrRateLimitExceeded, "too many concurrent verifications")
		return errorResult(req.ID, model.VerdictError, err, start), err
	}
	defer e.gate.Release(1)

	selected := e.selectStrategies(req)
	if len(selected) == 0 {
		e.errorsTotal.Add(1)
		err := model.NewError(model.ErrMethodUnavailable, "no verification strategies available")
		return errorResult(req.ID, model.VerdictError, err, start), err
	}

	outcomes := e.runAll(ctx, selected, req)

	verdict, confidence, reasoning := aggregate(outcomes)
	supporting, contradictory := evidenceFromOutcomes(outcomes)

	result := model.VerificationResult{
		RequestID:             req.ID,
		Verdict:               verdict,
		Confidence:            confidence,
		Reasoning:             reasoning,
		SupportingEvidence:    supporting,
		ContradictoryEvidence: contradictory,
		StrategyOutcomes:      outcomes,
		ProcessingTimeMs:      clampMs(time.Since(start)),
		CompletedAt:           time.Now().UTC(),
	}

	e.cache.Put(fp, result, req.Priority)
	return result, nil
}

// VerifyBatch processes requests in priority order, most urgent first.
// Results are returned in the same order as the sorted requests. Parallelism
// is kept below the concurrency gate so batch items do not starve each other;
// a failed request contributes its error-carrying result and the batch
// continues.
func (e *Engine) VerifyBatch(ctx context.Context, reqs []model.VerificationRequest) []model.VerificationResult {
	sorted := slices.Clone(reqs)
	slices.SortStableFunc(sorted, func(a, b model.VerificationRequest) int {
		return model.PriorityRank(b.Priority) - model.PriorityRank(a.Priority)
	})

	results := make([]model.VerificationResult, len(sorted))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)
	for i, req := range sorted {
		g.Go(func() error {
			res, err := e.Verify(ctx, req)
			if err != nil {
				e.logger.Debug("verify: batch item failed", "request_id", req.ID, "error", err)
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()
	return results
}

// selectStrategies resolves the requested kinds (or all registered), drops
// unavailable ones, and orders by the fixed priority.
func (e *Engine) selectStrategies(req model.VerificationRequest) []strategy.Strategy {
	kinds := req.Strategies
	if len(kinds) == 0 {
		kinds = model.StrategyPriority
	}

	var selected []strategy.Strategy
	for _, k := range kinds {
		s, ok := e.strategies[k]
		if !ok {
			continue
		}
		if !s.IsAvailable() {
			e.logger.Debug("verify: strategy unavailable", "strategy", k)
			continue
		}
		selected = append(selected, s)
	}
	slices.SortStableFunc(selected, func(a, b strategy.Strategy) int {
		return model.StrategyRank(a.Kind()) - model.StrategyRank(b.Kind())
	})
	return selected
}

// runAll dispatches every selected strategy in parallel. Each runs against
// its own timeout; no strategy failure or timeout aborts the others.
func (e *Engine) runAll(ctx context.Context, selected []strategy.Strategy, req model.VerificationRequest) []model.StrategyOutcome {
	timeout := e.methodTimeout(req)

	outcomes := make([]model.StrategyOutcome, len(selected))
	var wg sync.WaitGroup
	for i, s := range selected {
		wg.Add(1)
		go func(i int, s strategy.Strategy) {
			defer wg.Done()
			outcomes[i] = e.runOne(ctx, s, req, timeout)
		}(i, s)
	}
	wg.Wait()
	return outcomes
}

// runOne races one strategy call against its timeout. The loser is abandoned
// and its eventual result discarded. Panics become Unverified outcomes.
func (e *Engine) runOne(ctx context.Context, s strategy.Strategy, req model.VerificationRequest, timeout time.Duration) model.StrategyOutcome {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan model.StrategyOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("verify: strategy panic", "strategy", s.Kind(), "panic", r)
				done <- model.StrategyOutcome{
					Strategy:         s.Kind(),
					Verdict:          model.VerdictUnverified,
					Confidence:       0,
					Reasoning:        fmt.Sprintf("strategy panic: %v", r),
					ProcessingTimeMs: clampMs(time.Since(start)),
				}
			}
		}()

		out, err := s.Verify(callCtx, req)
		if err != nil {
			out = model.StrategyOutcome{
				Strategy:         s.Kind(),
				Verdict:          model.VerdictUnverified,
				Confidence:       0,
				Reasoning:        err.Error(),
				ProcessingTimeMs: clampMs(time.Since(start)),
			}
		}
		done <- out
	}()

	select {
	case out := <-done:
		return out
	case <-callCtx.Done():
		return model.StrategyOutcome{
			Strategy:         s.Kind(),
			Verdict:          model.VerdictUnverified,
			Confidence:       0,
			Reasoning:        "Operation timeout",
			ProcessingTimeMs: clampMs(time.Since(start)),
		}
	}
}

// methodTimeout derives the per-strategy timeout: the request's, capped.
func (e *Engine) methodTimeout(req model.VerificationRequest) time.Duration {
	t := e.defaultTimeout
	if req.TimeoutMs > 0 {
		t = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if t > e.maxTimeout {
		t = e.maxTimeout
	}
	return t
}

// Health reports every registered strategy's rolling health.
func (e *Engine) Health() map[model.StrategyKind]model.StrategyHealth {
	out := make(map[model.StrategyKind]model.StrategyHealth, len(e.strategies))
	for k, s := range e.strategies {
		out[k] = s.Health()
	}
	return out
}

// EngineStats is the engine's counters snapshot.
type EngineStats struct {
	RequestsTotal int64      `json:"requests_total"`
	CacheHits     int64      `json:"cache_hits"`
	RateLimited   int64      `json:"rate_limited"`
	ErrorsTotal   int64      `json:"errors_total"`
	Cache         CacheStats `json:"cache"`
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		RequestsTotal: e.requestsTotal.Load(),
		CacheHits:     e.cacheHits.Load(),
		RateLimited:   e.rateLimited.Load(),
		ErrorsTotal:   e.errorsTotal.Load(),
		Cache:         e.cache.Stats(),
	}
}

func validateRequest(req model.VerificationRequest) error {
	if req.Content == "" {
		return model.NewError(model.ErrInvalidRequest, "content must not be empty")
	}
	if len(req.Content) > model.MaxClaimLength {
		return model.NewError(model.ErrInvalidRequest, "content exceeds %d characters", model.MaxClaimLength)
	}
	if req.Strategies != nil && len(req.Strategies) == 0 {
		return model.NewError(model.ErrInvalidRequest, "requested strategy set must not be empty")
	}
	return nil
}

func errorResult(requestID string, verdict model.Verdict, err error, start time.Time) model.VerificationResult {
	return model.VerificationResult{
		RequestID:        requestID,
		Verdict:          verdict,
		Confidence:       0,
		Error:            err.Error(),
		ProcessingTimeMs: clampMs(time.Since(start)),
		CompletedAt:      time.Now().UTC(),
	}
}

func clampMs(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}
