// Package search provides the outbound search-provider adapters used by the
// cross-reference strategy. Every provider normalizes its results to the
// Reference shape and wraps each call in an abortable timeout.
package search

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Reference is one normalized search hit.
type Reference struct {
	URL        string  `json:"url"`
	Title      string  `json:"title,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
	Quality    float64 `json:"quality"`    // [0,1] source quality estimate
	Supports   bool    `json:"supports"`   // keyword-heuristic support signal
	Confidence float64 `json:"confidence"` // [0,1]
}

// Provider is an outbound search adapter.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]Reference, error)
}

// DefaultTimeout bounds every provider call when the caller's context has
// no earlier deadline.
const DefaultTimeout = 5 * time.Second

// httpDoer lets tests substitute the transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// callCtx derives the per-call context: the provider timeout, unless the
// parent already expires sooner.
func callCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// supportSignal applies the keyword heuristic: a snippet that shares enough
// claim terms and carries no negation cue counts as supporting.
func supportSignal(claim, snippet string) (supports bool, confidence float64) {
	snippetLower := strings.ToLower(snippet)
	for _, neg := range []string{"false", "debunked", "myth", "incorrect", "not true", "hoax", "disproven"} {
		if strings.Contains(snippetLower, neg) {
			return false, 0.6
		}
	}

	terms := significantTerms(claim)
	if len(terms) == 0 {
		return true, 0.3
	}
	matched := 0
	for _, t := range terms {
		if strings.Contains(snippetLower, t) {
			matched++
		}
	}
	overlap := float64(matched) / float64(len(terms))
	if overlap >= 0.5 {
		return true, 0.4 + 0.5*overlap
	}
	return true, 0.3
}

// significantTerms extracts lowercase claim terms longer than 3 characters.
func significantTerms(claim string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(claim)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) > 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// domainQuality estimates source quality from the host suffix.
func domainQuality(rawURL string) float64 {
	u := strings.ToLower(rawURL)
	switch {
	case strings.Contains(u, ".gov"):
		return 0.95
	case strings.Contains(u, ".edu"):
		return 0.9
	case strings.Contains(u, ".org"):
		return 0.75
	default:
		return 0.6
	}
}
