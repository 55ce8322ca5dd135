package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/search"
)

// CrossReference checks a claim against independent search results. Candidate
// claims are extracted from the content, each is queried across every
// configured provider, and the supporting/refuting split drives the verdict.
type CrossReference struct {
	healthTracker

	logger       *slog.Logger
	providers    []search.Provider
	fallback     search.Provider
	minConsensus float64
}

const maxClaims = 5

// NewCrossReference builds the strategy. providers may be empty, in which
// case every query goes to the deterministic fallback.
func NewCrossReference(logger *slog.Logger, providers []search.Provider, minConsensus float64) *CrossReference {
	return &CrossReference{
		logger:       logger,
		providers:    providers,
		fallback:     search.NewMock(),
		minConsensus: minConsensus,
	}
}

func (c *CrossReference) Kind() model.StrategyKind { return model.StrategyCrossReference }
func (c *CrossReference) IsAvailable() bool        { return c.available() }
func (c *CrossReference) Health() model.StrategyHealth {
	return c.health()
}

func (c *CrossReference) Verify(ctx context.Context, req model.VerificationRequest) (model.StrategyOutcome, error) {
	start := time.Now()

	claims := extractClaims(req.Content)
	refs := c.gatherReferences(ctx, claims)

	if len(refs) < 2 {
		out := model.StrategyOutcome{
			Strategy:         c.Kind(),
			Verdict:          model.VerdictInsufficientData,
			Confidence:       0,
			Reasoning:        fmt.Sprintf("Only %d independent references found, need at least 2", len(refs)),
			ProcessingTimeMs: clampMs(time.Since(start)),
			EvidenceCount:    len(refs),
		}
		c.observe(time.Since(start), false)
		return out, nil
	}

	supporting := 0
	var confSum float64
	for _, r := range refs {
		if r.Supports {
			supporting++
		}
		confSum += r.Confidence
	}
	consensus := float64(supporting) / float64(len(refs))
	avgConf := confSum / float64(len(refs))

	var verdict model.Verdict
	var confidence float64
	switch {
	case consensus >= c.minConsensus:
		verdict = model.VerdictVerifiedTrue
		confidence = consensus * avgConf
	case consensus <= 1-c.minConsensus:
		verdict = model.VerdictVerifiedFalse
		confidence = (1 - consensus) * avgConf
	default:
		verdict = model.VerdictContradictory
		confidence = 0.5 * avgConf
	}

	out := model.StrategyOutcome{
		Strategy:   c.Kind(),
		Verdict:    verdict,
		Confidence: confidence,
		Reasoning: fmt.Sprintf("%d of %d references support the claim (consensus %.2f)",
			supporting, len(refs), consensus),
		ProcessingTimeMs: clampMs(time.Since(start)),
		EvidenceCount:    len(refs),
	}
	c.observe(time.Since(start), false)
	return out, nil
}

// gatherReferences fans each claim out to every provider concurrently and
// deduplicates the merged results by URL. Provider errors are logged and
// skipped; if nothing comes back, the deterministic fallback answers.
func (c *CrossReference) gatherReferences(ctx context.Context, claims []string) []search.Reference {
	type result struct {
		provider string
		refs     []search.Reference
		err      error
	}

	var wg sync.WaitGroup
	results := make(chan result, len(claims)*(len(c.providers)+1))

	for _, claim := range claims {
		for _, p := range c.providers {
			wg.Add(1)
			go func(p search.Provider, claim string) {
				defer wg.Done()
				refs, err := p.Search(ctx, claim)
				results <- result{provider: p.Name(), refs: refs, err: err}
			}(p, claim)
		}
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	var refs []search.Reference
	for r := range results {
		if r.err != nil {
			c.logger.Debug("crossref: provider query failed", "provider", r.provider, "error", r.err)
			continue
		}
		for _, ref := range r.refs {
			if !seen[ref.URL] {
				seen[ref.URL] = true
				refs = append(refs, ref)
			}
		}
	}

	if len(refs) == 0 {
		for _, claim := range claims {
			mockRefs, err := c.fallback.Search(ctx, claim)
			if err != nil {
				continue
			}
			for _, ref := range mockRefs {
				if !seen[ref.URL] {
					seen[ref.URL] = true
					refs = append(refs, ref)
				}
			}
		}
	}
	return refs
}

var (
	numberPattern = regexp.MustCompile(`\d`)
	datePattern   = regexp.MustCompile(`\b(19|20)\d{2}\b|\b(january|february|march|april|may|june|july|august|september|october|november|december)\b`)

	statisticalTerms = []string{
		"percent", "%", "average", "median", "rate", "ratio",
		"increase", "decrease", "majority", "study", "survey",
	}
	factualIndicators = []string{
		"according to", "research shows", "studies show", "data shows",
		"scientists", "reported", "confirmed", "discovered",
	}
)

// extractClaims picks up to maxClaims checkable sentences: ones carrying
// numbers, dates, statistical terms, or factual indicators. When nothing
// qualifies the whole content is the single claim.
func extractClaims(content string) []string {
	var claims []string
	for _, s := range splitSentences(content) {
		lower := strings.ToLower(s)
		checkable := numberPattern.MatchString(s) ||
			datePattern.MatchString(lower) ||
			containsAny(lower, statisticalTerms...) ||
			containsAny(lower, factualIndicators...)
		if checkable {
			claims = append(claims, s)
			if len(claims) == maxClaims {
				break
			}
		}
	}
	if len(claims) == 0 {
		claims = []string{strings.TrimSpace(content)}
	}
	return claims
}

// splitSentences is a rough sentence splitter; good enough for claim mining.
func splitSentences(text string) []string {
	var out []string
	for _, s := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		s = strings.TrimSpace(s)
		if len(s) > 10 {
			out = append(out, s)
		}
	}
	return out
}
