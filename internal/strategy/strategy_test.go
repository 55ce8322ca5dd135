package strategy

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/search"
)

func TestHealthTrackerConsecutiveFailures(t *testing.T) {
	var h healthTracker

	for i := 0; i < maxConsecFails; i++ {
		require.True(t, h.available())
		h.observe(10*time.Millisecond, true)
	}
	assert.False(t, h.available())

	h.observe(10*time.Millisecond, false)
	assert.True(t, h.available(), "one success resets the failure streak")
}

func TestHealthTrackerStaleResets(t *testing.T) {
	var h healthTracker
	for i := 0; i < maxConsecFails; i++ {
		h.observe(time.Millisecond, true)
	}
	h.lastCheck = time.Now().Add(-staleAfter - time.Minute)

	assert.True(t, h.available(), "stale tracker allows a probe")
}

func TestHealthTrackerRollingWindow(t *testing.T) {
	var h healthTracker
	for i := 0; i < healthWindow+50; i++ {
		h.observe(10*time.Millisecond, false)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.responseTimes, healthWindow)
}

func TestFactCheckingKnownFact(t *testing.T) {
	f := NewFactChecking()
	out, err := f.Verify(context.Background(), model.VerificationRequest{
		Content: "The Earth orbits the Sun once per year.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictVerifiedTrue, out.Verdict)
	assert.Equal(t, 0.9, out.Confidence)
	assert.GreaterOrEqual(t, out.ProcessingTimeMs, int64(1))
}

func TestFactCheckingKnownFalsehood(t *testing.T) {
	f := NewFactChecking()
	out, err := f.Verify(context.Background(), model.VerificationRequest{
		Content: "Everyone knows the Earth is flat.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictVerifiedFalse, out.Verdict)
}

func TestFactCheckingUnknownClaim(t *testing.T) {
	f := NewFactChecking()
	out, err := f.Verify(context.Background(), model.VerificationRequest{
		Content: "The annual conference attracted 4,000 attendees in 2024.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUnverified, out.Verdict)
	assert.Zero(t, out.Confidence)
}

func TestExtractSourcesBlacklistsShortWords(t *testing.T) {
	sources := extractSources("See https://data.census.gov/report and.com the.org example.org for details")
	assert.Contains(t, sources, "https://data.census.gov/report")
	assert.Contains(t, sources, "example.org")
	assert.NotContains(t, sources, "and.com")
	assert.NotContains(t, sources, "the.org")
}

func TestExtractSourcesCap(t *testing.T) {
	var text string
	for i := 0; i < 15; i++ {
		text += " https://site" + string(rune('a'+i)) + ".example.com/page"
	}
	assert.Len(t, extractSources(text), maxSources)
}

func TestSourceCredibilityCachedScoreIsStable(t *testing.T) {
	s := NewSourceCredibility()
	first := s.scoreSource("https://www.nature.com/articles/x")
	second := s.scoreSource("https://www.nature.com/articles/x")
	assert.Equal(t, first, second)
}

func TestSourceCredibilityVerdictMapping(t *testing.T) {
	s := NewSourceCredibility()

	out, err := s.Verify(context.Background(), model.VerificationRequest{
		Content: "Per https://data.cdc.gov/stats and https://www.nih.gov/research the rate fell.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictVerifiedTrue, out.Verdict)
	assert.Equal(t, 2, out.EvidenceCount)

	out, err = s.Verify(context.Background(), model.VerificationRequest{
		Content: "No sources here at all, just an opinion piece about nothing in particular.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUnverified, out.Verdict)
}

type fixedProvider struct {
	name string
	refs []search.Reference
	err  error
}

func (p *fixedProvider) Name() string { return p.name }
func (p *fixedProvider) Search(context.Context, string) ([]search.Reference, error) {
	return p.refs, p.err
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestCrossReferenceConsensusTrue(t *testing.T) {
	p := &fixedProvider{name: "fixed", refs: []search.Reference{
		{URL: "https://a.example.org", Supports: true, Confidence: 0.9},
		{URL: "https://b.example.org", Supports: true, Confidence: 0.8},
		{URL: "https://c.example.org", Supports: false, Confidence: 0.7},
	}}
	c := NewCrossReference(testLogger(), []search.Provider{p}, 0.6)

	out, err := c.Verify(context.Background(), model.VerificationRequest{
		Content: "The population grew by 2 percent in 2023.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictVerifiedTrue, out.Verdict)
	assert.Equal(t, 3, out.EvidenceCount)
	assert.InDelta(t, (2.0/3.0)*0.8, out.Confidence, 0.001)
}

func TestCrossReferenceConsensusFalse(t *testing.T) {
	p := &fixedProvider{name: "fixed", refs: []search.Reference{
		{URL: "https://a.example.org", Supports: false, Confidence: 0.8},
		{URL: "https://b.example.org", Supports: false, Confidence: 0.8},
		{URL: "https://c.example.org", Supports: false, Confidence: 0.8},
	}}
	c := NewCrossReference(testLogger(), []search.Provider{p}, 0.6)

	out, err := c.Verify(context.Background(), model.VerificationRequest{
		Content: "The population grew by 2 percent in 2023.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictVerifiedFalse, out.Verdict)
	assert.InDelta(t, 0.8, out.Confidence, 0.001)
}

func TestCrossReferenceSplitIsContradictory(t *testing.T) {
	p := &fixedProvider{name: "fixed", refs: []search.Reference{
		{URL: "https://a.example.org", Supports: true, Confidence: 0.8},
		{URL: "https://b.example.org", Supports: false, Confidence: 0.8},
	}}
	c := NewCrossReference(testLogger(), []search.Provider{p}, 0.6)

	out, err := c.Verify(context.Background(), model.VerificationRequest{
		Content: "The population grew by 2 percent in 2023.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictContradictory, out.Verdict)
}

func TestCrossReferenceFallsBackToMock(t *testing.T) {
	failing := &fixedProvider{name: "down", err: assert.AnError}
	c := NewCrossReference(testLogger(), []search.Provider{failing}, 0.6)

	out, err := c.Verify(context.Background(), model.VerificationRequest{
		Content: "The population grew by 2 percent in 2023.",
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, out.EvidenceCount, 2, "mock fallback supplies references")
}

func TestExtractClaimsSelectsCheckableSentences(t *testing.T) {
	content := "I like mornings. The GDP grew 3 percent in 2023. Coffee is nice. According to the census, the city doubled."
	claims := extractClaims(content)
	require.Len(t, claims, 2)
	assert.Contains(t, claims[0], "GDP")
	assert.Contains(t, claims[1], "census")
}

func TestExtractClaimsCap(t *testing.T) {
	content := ""
	for i := 0; i < 8; i++ {
		content += "The value increased by 10 percent this year. "
	}
	assert.Len(t, extractClaims(content), maxClaims)
}

func TestConsistencyDetectsNegationContradiction(t *testing.T) {
	c := NewConsistencyCheck()
	out, err := c.Verify(context.Background(), model.VerificationRequest{
		Content: "The factory opened in 1990. The factory never opened in 1990.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictContradictory, out.Verdict)
}

func TestConsistencyCleanContent(t *testing.T) {
	c := NewConsistencyCheck()
	out, err := c.Verify(context.Background(), model.VerificationRequest{
		Content: "The factory opened in 1990. Production started the following spring.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictVerifiedTrue, out.Verdict)
}

func TestConsistencySingleSentence(t *testing.T) {
	c := NewConsistencyCheck()
	out, err := c.Verify(context.Background(), model.VerificationRequest{
		Content: "The factory opened in 1990.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictInsufficientData, out.Verdict)
}

func TestLogicalValidationFlagsFallacies(t *testing.T) {
	l := NewLogicalValidation()
	out, err := l.Verify(context.Background(), model.VerificationRequest{
		Content: "Everyone knows this is right, and only a fool would disagree. It is true because it is.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUnverified, out.Verdict)
	assert.Equal(t, 3, out.EvidenceCount)
}

func TestLogicalValidationCleanArgument(t *testing.T) {
	l := NewLogicalValidation()
	out, err := l.Verify(context.Background(), model.VerificationRequest{
		Content: "Rainfall increased, so reservoir levels rose over the same period.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictPartiallyTrue, out.Verdict)
	assert.Equal(t, 0.6, out.Confidence)
}

func TestStatisticalValidationOutOfRangePercent(t *testing.T) {
	s := NewStatisticalValidation()
	out, err := s.Verify(context.Background(), model.VerificationRequest{
		Content: "Sales grew by 140% while satisfaction hit 250 percent.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictVerifiedFalse, out.Verdict)
}

func TestStatisticalValidationPlausible(t *testing.T) {
	s := NewStatisticalValidation()
	out, err := s.Verify(context.Background(), model.VerificationRequest{
		Content: "The survey split 40%, 35%, and 25% across the three options.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictPartiallyTrue, out.Verdict)
}

func TestStatisticalValidationNoNumbers(t *testing.T) {
	s := NewStatisticalValidation()
	out, err := s.Verify(context.Background(), model.VerificationRequest{
		Content: "The report describes the policy in general terms.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictInsufficientData, out.Verdict)
}
