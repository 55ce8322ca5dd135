// Package ratelimit provides the rate limiting primitives used across Saitei.
//
// Two limiter shapes exist: the token-bucket Limiter guards the HTTP layer
// (sustained rate plus burst), and the fixed-window WindowLimiter implements
// the security envelope's per-identity "N requests per window" contract.
// Both are in-memory; a distributed deployment can substitute its own
// implementation behind the Limiter interface.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed.
	// The key is opaque; callers construct it (e.g. "tenant:user:operation").
	// Returning an error signals a limiter malfunction; callers should
	// treat errors as fail-open (permit the request) rather than blocking traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
