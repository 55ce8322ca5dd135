package saitei

import "context"

// Strategy is a custom verification method registered via WithStrategy.
// It runs alongside the built-in strategies under the same timeout and
// selection rules. Implementations respect ctx cancellation and return an
// outcome rather than an error wherever possible.
type Strategy interface {
	// Kind identifies the strategy; it must not collide with the built-in
	// kinds (fact_checking, source_credibility, cross_reference,
	// consistency_check, logical_validation, statistical_validation).
	Kind() string

	// Verify judges the request.
	Verify(ctx context.Context, req Request) (Outcome, error)

	// IsAvailable reports whether the strategy can currently serve requests.
	IsAvailable() bool
}

// SearchProvider supplies cross-reference evidence from an external search
// backend. When provided via WithSearchProvider, it joins the auto-detected
// providers (DuckDuckGo plus any with configured API keys).
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string) ([]Reference, error)
}

// EventHook receives every observer event asynchronously. Multiple hooks may
// be registered via multiple WithEventHook calls. Hook methods run in
// goroutines; they must not block indefinitely. Failures are logged but never
// fail the originating operation.
type EventHook interface {
	OnEvent(ctx context.Context, e Event) error
}
