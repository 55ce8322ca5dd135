package saitei

import (
	"context"
	"sync"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/search"
)

// searchProviderAdapter bridges a public SearchProvider onto the internal
// provider contract.
type searchProviderAdapter struct {
	p SearchProvider
}

func (a *searchProviderAdapter) Name() string { return a.p.Name() }

func (a *searchProviderAdapter) Search(ctx context.Context, query string) ([]search.Reference, error) {
	refs, err := a.p.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]search.Reference, len(refs))
	for i, r := range refs {
		out[i] = search.Reference{
			URL:        r.URL,
			Title:      r.Title,
			Snippet:    r.Snippet,
			Quality:    r.Quality,
			Supports:   r.Supports,
			Confidence: r.Confidence,
		}
	}
	return out, nil
}

// strategyAdapter bridges a public Strategy onto the internal contract,
// tracking the rolling health the engine expects from every strategy.
type strategyAdapter struct {
	s Strategy

	mu            sync.Mutex
	responseTimes []float64
	errorRate     float64
}

const (
	adapterHealthWindow = 100
	adapterErrorAlpha   = 0.1
)

func newStrategyAdapter(s Strategy) *strategyAdapter {
	return &strategyAdapter{s: s}
}

func (a *strategyAdapter) Kind() model.StrategyKind {
	return model.StrategyKind(a.s.Kind())
}

func (a *strategyAdapter) IsAvailable() bool { return a.s.IsAvailable() }

func (a *strategyAdapter) Verify(ctx context.Context, req model.VerificationRequest) (model.StrategyOutcome, error) {
	start := time.Now()
	outcome, err := a.s.Verify(ctx, toPublicRequest(req))
	a.observe(time.Since(start), err != nil)
	if err != nil {
		return model.StrategyOutcome{}, err
	}
	return model.StrategyOutcome{
		Strategy:         model.StrategyKind(outcome.Strategy),
		Verdict:          model.Verdict(outcome.Verdict),
		Confidence:       outcome.Confidence,
		Reasoning:        outcome.Reasoning,
		ProcessingTimeMs: outcome.ProcessingTimeMs,
		EvidenceCount:    outcome.EvidenceCount,
	}, nil
}

func (a *strategyAdapter) Health() model.StrategyHealth {
	a.mu.Lock()
	defer a.mu.Unlock()

	var avg float64
	if len(a.responseTimes) > 0 {
		var sum float64
		for _, v := range a.responseTimes {
			sum += v
		}
		avg = sum / float64(len(a.responseTimes))
	}
	return model.StrategyHealth{
		Available:      a.s.IsAvailable(),
		ResponseTimeMs: avg,
		ErrorRate:      a.errorRate,
	}
}

func (a *strategyAdapter) observe(elapsed time.Duration, failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.responseTimes = append(a.responseTimes, float64(elapsed.Milliseconds()))
	if len(a.responseTimes) > adapterHealthWindow {
		a.responseTimes = a.responseTimes[len(a.responseTimes)-adapterHealthWindow:]
	}
	sample := 0.0
	if failed {
		sample = 1.0
	}
	a.errorRate = adapterErrorAlpha*sample + (1-adapterErrorAlpha)*a.errorRate
}

// ── Conversions between public and internal types ──────────────────────────

func fromPublicRequest(r Request) model.VerificationRequest {
	kinds := make([]model.StrategyKind, len(r.Strategies))
	for i, k := range r.Strategies {
		kinds[i] = model.StrategyKind(k)
	}
	return model.VerificationRequest{
		ID:         r.ID,
		Content:    r.Content,
		Source:     r.Source,
		Context:    r.Context,
		Priority:   model.Priority(r.Priority),
		Strategies: kinds,
		TimeoutMs:  r.TimeoutMs,
		Metadata:   r.Metadata,
	}
}

func toPublicRequest(r model.VerificationRequest) Request {
	kinds := make([]string, len(r.Strategies))
	for i, k := range r.Strategies {
		kinds[i] = string(k)
	}
	return Request{
		ID:         r.ID,
		Content:    r.Content,
		Source:     r.Source,
		Context:    r.Context,
		Priority:   Priority(r.Priority),
		Strategies: kinds,
		TimeoutMs:  r.TimeoutMs,
		Metadata:   r.Metadata,
	}
}

func toPublicResult(r model.VerificationResult) Result {
	outcomes := make([]Outcome, len(r.StrategyOutcomes))
	for i, o := range r.StrategyOutcomes {
		outcomes[i] = Outcome{
			Strategy:         string(o.Strategy),
			Verdict:          Verdict(o.Verdict),
			Confidence:       o.Confidence,
			Reasoning:        o.Reasoning,
			ProcessingTimeMs: o.ProcessingTimeMs,
			EvidenceCount:    o.EvidenceCount,
		}
	}
	return Result{
		RequestID:             r.RequestID,
		Verdict:               Verdict(r.Verdict),
		Confidence:            r.Confidence,
		Reasoning:             r.Reasoning,
		SupportingEvidence:    toPublicEvidence(r.SupportingEvidence),
		ContradictoryEvidence: toPublicEvidence(r.ContradictoryEvidence),
		Outcomes:              outcomes,
		ProcessingTimeMs:      r.ProcessingTimeMs,
		Error:                 r.Error,
		CompletedAt:           r.CompletedAt,
	}
}

func toPublicEvidence(in []model.Evidence) []Evidence {
	if len(in) == 0 {
		return nil
	}
	out := make([]Evidence, len(in))
	for i, e := range in {
		out[i] = Evidence{
			Source:      e.Source,
			Description: e.Description,
			Confidence:  e.Confidence,
			Supports:    e.Supports,
		}
	}
	return out
}

func toPublicEvent(e model.ObserverEvent) Event {
	return Event{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Type:      e.Type,
		Severity:  e.Severity,
		TaskID:    e.TaskID,
		Message:   e.Message,
		Fields:    e.Fields,
	}
}
