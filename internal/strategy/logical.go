package strategy

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
)

// LogicalValidation scans for reasoning-fallacy markers and scores the
// argument structure.
type LogicalValidation struct {
	healthTracker
}

func NewLogicalValidation() *LogicalValidation { return &LogicalValidation{} }

func (l *LogicalValidation) Kind() model.StrategyKind { return model.StrategyLogicalValidation }
func (l *LogicalValidation) IsAvailable() bool        { return l.available() }
func (l *LogicalValidation) Health() model.StrategyHealth {
	return l.health()
}

// fallacyMarkers maps a fallacy class to the phrases that flag it.
var fallacyMarkers = map[string][]string{
	"circular reasoning":   {"because it is", "because that is how", "it is true because"},
	"false dilemma":        {"the only option", "either you", "no other choice"},
	"hasty generalization": {"everyone knows", "all of them are", "nobody ever", "always happens"},
	"appeal to popularity": {"everyone agrees", "most people believe", "everybody says"},
	"ad hominem":           {"only a fool", "idiots believe", "anyone stupid enough"},
	"appeal to authority":  {"experts say so", "trust me", "just believe"},
}

func (l *LogicalValidation) Verify(ctx context.Context, req model.VerificationRequest) (model.StrategyOutcome, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		out := unverified(l.Kind(), "Operation timeout", time.Since(start))
		l.observe(time.Since(start), true)
		return out, nil
	}

	lower := strings.ToLower(req.Content)

	var found []string
	for fallacy, markers := range fallacyMarkers {
		if containsAny(lower, markers...) {
			found = append(found, fallacy)
		}
	}
	slices.Sort(found)

	score := 1.0 - 0.2*float64(len(found))
	if score < 0 {
		score = 0
	}

	var verdict model.Verdict
	var reasoning string
	switch {
	case len(found) == 0:
		verdict = model.VerdictPartiallyTrue
		score = 0.6
		reasoning = "No logical fallacies detected"
	case score >= 0.6:
		verdict = model.VerdictPartiallyTrue
		reasoning = fmt.Sprintf("Minor logical issues: %s", strings.Join(found, ", "))
	case score < 0.3:
		verdict = model.VerdictVerifiedFalse
		reasoning = fmt.Sprintf("Argument rests on fallacies: %s", strings.Join(found, ", "))
	default:
		verdict = model.VerdictUnverified
		reasoning = fmt.Sprintf("Logical fallacies weaken the claim: %s", strings.Join(found, ", "))
	}

	out := model.StrategyOutcome{
		Strategy:         l.Kind(),
		Verdict:          verdict,
		Confidence:       score,
		Reasoning:        reasoning,
		ProcessingTimeMs: clampMs(time.Since(start)),
		EvidenceCount:    len(found),
	}
	l.observe(time.Since(start), false)
	return out, nil
}
