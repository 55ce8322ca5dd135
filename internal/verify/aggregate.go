package verify

import (
	"fmt"

	"github.com/ashita-ai/saitei/internal/model"
)

// aggregate derives the final verdict, confidence, and reasoning from a set
// of strategy outcomes. It is deterministic for any permutation of the same
// outcomes: plurality wins, ties break in the fixed strategy priority order,
// and a plurality short of strict majority over multiple verdicts is
// Contradictory.
func aggregate(outcomes []model.StrategyOutcome) (model.Verdict, float64, []string) {
	var valid []model.StrategyOutcome
	for _, o := range outcomes {
		if o.Verdict != model.VerdictUnverified {
			valid = append(valid, o)
		}
	}

	if len(valid) == 0 {
		reasoning := []string{
			fmt.Sprintf("Consensus verdict: %s", model.VerdictUnverified),
			fmt.Sprintf("%d verification methods applied", len(outcomes)),
		}
		reasoning = appendStrategyLines(reasoning, outcomes)
		return model.VerdictUnverified, 0, reasoning
	}

	counts := make(map[model.Verdict]int)
	for _, o := range valid {
		counts[o.Verdict]++
	}

	best := 0
	for _, n := range counts {
		if n > best {
			best = n
		}
	}

	// Tie-break: among verdicts at the plurality count, pick the one reported
	// by the highest-priority strategy.
	winner := model.VerdictUnverified
	winnerRank := len(model.StrategyPriority) + 1
	for _, o := range valid {
		if counts[o.Verdict] != best {
			continue
		}
		if r := model.StrategyRank(o.Strategy); r < winnerRank {
			winnerRank = r
			winner = o.Verdict
		}
	}

	if len(counts) > 1 && best*2 <= len(valid) {
		winner = model.VerdictContradictory
	}

	var confSum float64
	for _, o := range valid {
		confSum += o.Confidence
	}
	avgConf := confSum / float64(len(valid))
	consensus := float64(best) / float64(len(valid))

	confidence := avgConf * consensusFactor(consensus)
	if confidence > 1 {
		confidence = 1
	}

	reasoning := []string{
		fmt.Sprintf("Consensus verdict: %s", winner),
		fmt.Sprintf("%d verification methods applied", len(outcomes)),
	}
	reasoning = appendStrategyLines(reasoning, outcomes)
	return winner, confidence, reasoning
}

// consensusFactor discounts confidence when the strategies disagree.
func consensusFactor(ratio float64) float64 {
	switch {
	case ratio >= 0.8:
		return 1.0
	case ratio >= 0.6:
		return 0.8
	case ratio >= 0.4:
		return 0.6
	default:
		return 0.4
	}
}

func appendStrategyLines(reasoning []string, outcomes []model.StrategyOutcome) []string {
	for _, o := range outcomes {
		reasoning = append(reasoning, fmt.Sprintf("%s: %s", o.Strategy, o.Reasoning))
	}
	return reasoning
}

// evidenceFromOutcomes splits the non-Unverified outcomes into supporting and
// contradictory evidence entries.
func evidenceFromOutcomes(outcomes []model.StrategyOutcome) (supporting, contradictory []model.Evidence) {
	for _, o := range outcomes {
		ev := model.Evidence{
			Source:      string(o.Strategy),
			Description: o.Reasoning,
			Confidence:  o.Confidence,
		}
		switch o.Verdict {
		case model.VerdictVerifiedTrue, model.VerdictPartiallyTrue:
			ev.Supports = true
			supporting = append(supporting, ev)
		case model.VerdictVerifiedFalse, model.VerdictContradictory:
			contradictory = append(contradictory, ev)
		}
	}
	return supporting, contradictory
}
