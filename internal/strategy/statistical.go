package strategy

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
)

// StatisticalValidation range-checks the quantitative claims in the content:
// percentages must fall in [0,100], and a set of percentages presented as a
// breakdown should sum near 100.
type StatisticalValidation struct {
	healthTracker
}

func NewStatisticalValidation() *StatisticalValidation { return &StatisticalValidation{} }

func (s *StatisticalValidation) Kind() model.StrategyKind { return model.StrategyStatisticalValidation }
func (s *StatisticalValidation) IsAvailable() bool        { return s.available() }
func (s *StatisticalValidation) Health() model.StrategyHealth {
	return s.health()
}

var percentPattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:%|percent)`)

func (s *StatisticalValidation) Verify(ctx context.Context, req model.VerificationRequest) (model.StrategyOutcome, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		out := unverified(s.Kind(), "Operation timeout", time.Since(start))
		s.observe(time.Since(start), true)
		return out, nil
	}

	percents := extractPercents(req.Content)
	hasNumbers := numberPattern.MatchString(req.Content)

	if !hasNumbers {
		out := model.StrategyOutcome{
			Strategy:         s.Kind(),
			Verdict:          model.VerdictInsufficientData,
			Confidence:       0.3,
			Reasoning:        "No quantitative claims to validate",
			ProcessingTimeMs: clampMs(time.Since(start)),
		}
		s.observe(time.Since(start), false)
		return out, nil
	}

	violations := 0
	for _, p := range percents {
		if p < 0 || p > 100 {
			violations++
		}
	}

	// Three or more in-range percentages usually describe a breakdown; a sum
	// far from 100 is suspicious but not conclusive.
	if violations == 0 && len(percents) >= 3 {
		var sum float64
		for _, p := range percents {
			sum += p
		}
		if sum > 105 && sum < 200 {
			violations++
		}
	}

	var out model.StrategyOutcome
	if violations > 0 {
		conf := 0.6 + 0.1*float64(min(violations, 3))
		out = model.StrategyOutcome{
			Strategy:         s.Kind(),
			Verdict:          model.VerdictVerifiedFalse,
			Confidence:       conf,
			Reasoning:        fmt.Sprintf("%d statistical violations in %d quantitative values", violations, len(percents)),
			ProcessingTimeMs: clampMs(time.Since(start)),
			EvidenceCount:    violations,
		}
	} else {
		out = model.StrategyOutcome{
			Strategy:         s.Kind(),
			Verdict:          model.VerdictPartiallyTrue,
			Confidence:       0.6,
			Reasoning:        fmt.Sprintf("Quantitative values are internally plausible (%d percentages checked)", len(percents)),
			ProcessingTimeMs: clampMs(time.Since(start)),
			EvidenceCount:    len(percents),
		}
	}
	s.observe(time.Since(start), false)
	return out, nil
}

func extractPercents(content string) []float64 {
	var out []float64
	for _, m := range percentPattern.FindAllStringSubmatch(content, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
