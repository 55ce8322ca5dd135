package strategy

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
)

// SourceCredibility scores the sources a claim cites by weighted reputation
// factors. Per-source analyses are cached for 24 hours so repeat lookups are
// deterministic and cheap.
type SourceCredibility struct {
	healthTracker

	cacheMu sync.Mutex
	cache   map[string]credibilityEntry

	// now is swappable for tests.
	now func() time.Time
}

type credibilityEntry struct {
	score     float64
	expiresAt time.Time
}

const (
	maxSources          = 10
	credibilityCacheTTL = 24 * time.Hour
)

// Factor weights. They sum to 1.
const (
	weightDomainReputation = 0.25
	weightContentType      = 0.2
	weightSourceAge        = 0.15
	weightAuthority        = 0.15
	weightBias             = 0.15
	weightTechnical        = 0.1
)

func NewSourceCredibility() *SourceCredibility {
	return &SourceCredibility{
		cache: make(map[string]credibilityEntry),
		now:   time.Now,
	}
}

func (s *SourceCredibility) Kind() model.StrategyKind { return model.StrategySourceCredibility }
func (s *SourceCredibility) IsAvailable() bool        { return s.available() }
func (s *SourceCredibility) Health() model.StrategyHealth {
	return s.health()
}

// Verify extracts the sources referenced by the request and scores each.
func (s *SourceCredibility) Verify(ctx context.Context, req model.VerificationRequest) (model.StrategyOutcome, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		out := unverified(s.Kind(), "Operation timeout", time.Since(start))
		s.observe(time.Since(start), true)
		return out, nil
	}

	sources := extractSources(req.Content + " " + req.Source)
	if len(sources) == 0 {
		out := model.StrategyOutcome{
			Strategy:         s.Kind(),
			Verdict:          model.VerdictUnverified,
			Confidence:       0,
			Reasoning:        "No sources found to evaluate",
			ProcessingTimeMs: clampMs(time.Since(start)),
		}
		s.observe(time.Since(start), false)
		return out, nil
	}

	var total float64
	for _, src := range sources {
		total += s.scoreSource(src)
	}
	avg := total / float64(len(sources))

	var verdict model.Verdict
	switch {
	case avg >= 0.8:
		verdict = model.VerdictVerifiedTrue
	case avg >= 0.6:
		verdict = model.VerdictPartiallyTrue
	case avg < 0.3:
		verdict = model.VerdictVerifiedFalse
	default:
		verdict = model.VerdictUnverified
	}

	out := model.StrategyOutcome{
		Strategy:         s.Kind(),
		Verdict:          verdict,
		Confidence:       avg,
		Reasoning:        fmt.Sprintf("Evaluated %d sources, average credibility %.2f", len(sources), avg),
		ProcessingTimeMs: clampMs(time.Since(start)),
		EvidenceCount:    len(sources),
	}
	s.observe(time.Since(start), false)
	return out, nil
}

// scoreSource returns the cached or freshly computed weighted score for one
// source URL or bare domain.
func (s *SourceCredibility) scoreSource(src string) float64 {
	s.cacheMu.Lock()
	if e, ok := s.cache[src]; ok && s.now().Before(e.expiresAt) {
		s.cacheMu.Unlock()
		return e.score
	}
	s.cacheMu.Unlock()

	score := weightDomainReputation*domainReputation(src) +
		weightContentType*contentTypeScore(src) +
		weightSourceAge*sourceAgeScore(src) +
		weightAuthority*authorityScore(src) +
		weightBias*biasScore(src) +
		weightTechnical*technicalScore(src)

	s.cacheMu.Lock()
	s.cache[src] = credibilityEntry{score: score, expiresAt: s.now().Add(credibilityCacheTTL)}
	s.cacheMu.Unlock()
	return score
}

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	domainPattern = regexp.MustCompile(`\b([a-z0-9][a-z0-9-]*\.)+(com|org|net|edu|gov|io|co|info)\b`)

	// shortWordBlacklist keeps bare-domain extraction from matching English
	// words followed by a TLD-looking token ("and.com", "the.org").
	shortWordBlacklist = map[string]bool{
		"and": true, "the": true, "for": true, "are": true, "but": true,
		"not": true, "you": true, "all": true, "can": true, "was": true,
		"one": true, "our": true, "out": true, "has": true, "had": true,
		"this": true, "that": true, "with": true, "from": true, "they": true,
	}
)

// extractSources finds URLs and bare domains in text, capped at maxSources.
func extractSources(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var sources []string

	add := func(s string) {
		if !seen[s] && len(sources) < maxSources {
			seen[s] = true
			sources = append(sources, s)
		}
	}

	for _, u := range urlPattern.FindAllString(lower, -1) {
		add(strings.TrimRight(u, ".,;:"))
	}
	// Strip full URLs before scanning for bare domains so a URL's host is not
	// double-counted.
	stripped := urlPattern.ReplaceAllString(lower, " ")
	for _, d := range domainPattern.FindAllString(stripped, -1) {
		label, _, _ := strings.Cut(d, ".")
		if shortWordBlacklist[label] {
			continue
		}
		add(d)
	}
	return sources
}

// hostOf extracts the host, accepting both full URLs and bare domains.
func hostOf(src string) string {
	if strings.Contains(src, "://") {
		if u, err := url.Parse(src); err == nil {
			return u.Hostname()
		}
	}
	host, _, _ := strings.Cut(src, "/")
	return host
}

func domainReputation(src string) float64 {
	host := hostOf(src)
	switch {
	case strings.HasSuffix(host, ".gov"), strings.HasSuffix(host, ".edu"),
		strings.HasSuffix(host, ".mil"), strings.HasSuffix(host, ".int"):
		return 0.9
	case strings.HasSuffix(host, ".xyz"), strings.HasSuffix(host, ".click"),
		strings.HasSuffix(host, ".biz"), strings.Contains(host, "free-"),
		strings.Count(host, "-") >= 3:
		return 0.2
	default:
		return 0.7
	}
}

func contentTypeScore(src string) float64 {
	host := hostOf(src)
	switch {
	case strings.HasSuffix(host, ".gov"):
		return 0.95
	case strings.HasSuffix(host, ".edu"):
		return 0.9
	case containsAny(host, "reuters", "apnews", "bbc", "nytimes", "news"):
		return 0.8
	case containsAny(host, "facebook", "twitter", "x.com", "tiktok", "instagram", "reddit"):
		return 0.3
	case containsAny(host, "blog", "medium.com", "substack", "wordpress"):
		return 0.4
	default:
		return 0.6
	}
}

// sourceAgeScore is a proxy: long-established domains score higher.
func sourceAgeScore(src string) float64 {
	host := hostOf(src)
	if containsAny(host, "wikipedia", "britannica", "reuters", "apnews", "bbc", "nature.com", "who.int", "nih.gov", "nasa.gov") {
		return 0.9
	}
	return 0.5
}

// authorityScore is a proxy for institutional standing.
func authorityScore(src string) float64 {
	host := hostOf(src)
	switch {
	case strings.HasSuffix(host, ".gov"), strings.HasSuffix(host, ".edu"), strings.HasSuffix(host, ".int"):
		return 0.9
	case containsAny(host, "nature.com", "science.org", "nejm.org", "thelancet", "ieee.org", "acm.org"):
		return 0.9
	default:
		return 0.5
	}
}

// biasScore penalizes outlets with known sensational register.
func biasScore(src string) float64 {
	host := hostOf(src)
	switch {
	case containsAny(host, "clickbait", "viral", "buzz", "gossip", "tabloid"):
		return 0.2
	case containsAny(host, "reuters", "apnews", "bbc"), strings.HasSuffix(host, ".gov"), strings.HasSuffix(host, ".edu"):
		return 0.9
	default:
		return 0.5
	}
}

func technicalScore(src string) float64 {
	if strings.Contains(src, "://") {
		u, err := url.Parse(src)
		if err != nil || u.Hostname() == "" {
			return 0.1
		}
		if u.Scheme == "https" {
			return 0.9
		}
		return 0.5
	}
	// Bare domain: host shape already validated by the extraction pattern.
	return 0.6
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
