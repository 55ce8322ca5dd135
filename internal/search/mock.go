package search

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Mock is the deterministic fallback provider used when no API keys are
// configured. Results derive from a hash of the query so the same claim
// always yields the same references.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Search(_ context.Context, query string) ([]Reference, error) {
	sum := sha256.Sum256([]byte(query))
	seed := binary.BigEndian.Uint64(sum[:8])

	n := 2 + int(seed%3) // 2..4 references
	refs := make([]Reference, 0, n)
	for i := 0; i < n; i++ {
		h := (seed >> (uint(i) * 8)) & 0xffff
		domain := mockDomains[int(h)%len(mockDomains)]
		supports := (h>>4)%5 != 0 // roughly 80% supporting
		conf := 0.4 + float64(h%40)/100.0
		refs = append(refs, Reference{
			URL:        fmt.Sprintf("https://%s/article/%04x", domain, h),
			Title:      fmt.Sprintf("Reference %d for query", i+1),
			Snippet:    query,
			Quality:    domainQuality(domain),
			Supports:   supports,
			Confidence: conf,
		})
	}
	return refs, nil
}

var mockDomains = []string{
	"research.example.edu",
	"data.example.gov",
	"factbase.example.org",
	"news.example.com",
	"journal.example.org",
}
