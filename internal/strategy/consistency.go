package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
)

// ConsistencyCheck looks for internal contradictions: statement pairs that
// share most of their terms but disagree on negation or on numeric values.
type ConsistencyCheck struct {
	healthTracker
}

func NewConsistencyCheck() *ConsistencyCheck { return &ConsistencyCheck{} }

func (c *ConsistencyCheck) Kind() model.StrategyKind { return model.StrategyConsistencyCheck }
func (c *ConsistencyCheck) IsAvailable() bool        { return c.available() }
func (c *ConsistencyCheck) Health() model.StrategyHealth {
	return c.health()
}

func (c *ConsistencyCheck) Verify(ctx context.Context, req model.VerificationRequest) (model.StrategyOutcome, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		out := unverified(c.Kind(), "Operation timeout", time.Since(start))
		c.observe(time.Since(start), true)
		return out, nil
	}

	sentences := splitSentences(req.Content)
	if len(sentences) < 2 {
		out := model.StrategyOutcome{
			Strategy:         c.Kind(),
			Verdict:          model.VerdictInsufficientData,
			Confidence:       0.3,
			Reasoning:        "Too few statements to assess internal consistency",
			ProcessingTimeMs: clampMs(time.Since(start)),
		}
		c.observe(time.Since(start), false)
		return out, nil
	}

	contradictions := 0
	for i := 0; i < len(sentences); i++ {
		for j := i + 1; j < len(sentences); j++ {
			if contradicts(sentences[i], sentences[j]) {
				contradictions++
			}
		}
	}

	var out model.StrategyOutcome
	if contradictions > 0 {
		conf := 0.6 + 0.1*float64(min(contradictions, 3))
		out = model.StrategyOutcome{
			Strategy:         c.Kind(),
			Verdict:          model.VerdictContradictory,
			Confidence:       conf,
			Reasoning:        fmt.Sprintf("Found %d internal contradictions across %d statements", contradictions, len(sentences)),
			ProcessingTimeMs: clampMs(time.Since(start)),
			EvidenceCount:    contradictions,
		}
	} else {
		out = model.StrategyOutcome{
			Strategy:         c.Kind(),
			Verdict:          model.VerdictVerifiedTrue,
			Confidence:       0.6,
			Reasoning:        fmt.Sprintf("No internal contradictions across %d statements", len(sentences)),
			ProcessingTimeMs: clampMs(time.Since(start)),
		}
	}
	c.observe(time.Since(start), false)
	return out, nil
}

var negationCues = []string{"not ", "never ", "no ", "n't "}

// contradicts reports whether two statements share most terms but differ in
// negation, or attach different numbers to the same wording.
func contradicts(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	overlap := termOverlap(la, lb)
	if overlap < 0.6 {
		return false
	}

	negA := containsAny(" "+la, negationCues...)
	negB := containsAny(" "+lb, negationCues...)
	if negA != negB {
		return true
	}

	numsA := numberPattern.FindAllString(la, -1)
	numsB := numberPattern.FindAllString(lb, -1)
	if len(numsA) > 0 && len(numsB) > 0 && strings.Join(numsA, "") != strings.Join(numsB, "") {
		return true
	}
	return false
}

// termOverlap is the share of a's significant terms that also occur in b.
func termOverlap(a, b string) float64 {
	terms := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) > 3 && !containsAny(" "+w+" ", negationCues...) {
			terms[w] = true
		}
	}
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for t := range terms {
		if strings.Contains(b, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
