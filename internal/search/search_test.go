package search

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDoer struct {
	status int
	body   string
	gotReq *http.Request
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.gotReq = req
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Header:     make(http.Header),
	}, nil
}

func TestSupportSignal(t *testing.T) {
	tests := []struct {
		name         string
		claim        string
		snippet      string
		wantSupports bool
		minConf      float64
	}{
		{
			name:         "negation cue refutes",
			claim:        "the earth is flat",
			snippet:      "This claim has been thoroughly debunked by scientists.",
			wantSupports: false,
			minConf:      0.6,
		},
		{
			name:         "high term overlap supports",
			claim:        "water boils at 100 degrees celsius",
			snippet:      "At sea level, water boils at 100 degrees celsius.",
			wantSupports: true,
			minConf:      0.7,
		},
		{
			name:         "low overlap gives weak support",
			claim:        "quantum computers factor integers quickly",
			snippet:      "The weather today is sunny with mild temperatures.",
			wantSupports: true,
			minConf:      0.3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			supports, conf := supportSignal(tt.claim, tt.snippet)
			assert.Equal(t, tt.wantSupports, supports)
			assert.GreaterOrEqual(t, conf, tt.minConf)
		})
	}
}

func TestDomainQuality(t *testing.T) {
	assert.Equal(t, 0.95, domainQuality("https://data.census.gov/page"))
	assert.Equal(t, 0.9, domainQuality("https://web.mit.edu/research"))
	assert.Equal(t, 0.75, domainQuality("https://www.wikipedia.org"))
	assert.Equal(t, 0.6, domainQuality("https://blog.example.com"))
}

func TestBraveParsesResults(t *testing.T) {
	stub := &stubDoer{
		status: http.StatusOK,
		body: `{"web":{"results":[
			{"url":"https://stats.example.gov/a","title":"A","description":"water boils at 100 degrees"},
			{"url":"https://blog.example.com/b","title":"B","description":"this claim is a myth"}
		]}}`,
	}
	b := NewBrave(nil, "key", 0)
	b.client = stub

	refs, err := b.Search(context.Background(), "water boils at 100 degrees")
	require.NoError(t, err)
	require.Len(t, refs, 2)

	assert.Equal(t, "key", stub.gotReq.Header.Get("X-Subscription-Token"))
	assert.True(t, refs[0].Supports)
	assert.Equal(t, 0.95, refs[0].Quality)
	assert.False(t, refs[1].Supports)
}

func TestGoogleParsesResults(t *testing.T) {
	stub := &stubDoer{
		status: http.StatusOK,
		body: `{"items":[
			{"link":"https://journal.example.org/x","title":"X","snippet":"supporting evidence for the claim terms"}
		]}`,
	}
	g := NewGoogle(nil, "key", "cx123", 0)
	g.client = stub

	refs, err := g.Search(context.Background(), "claim terms evidence")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Contains(t, stub.gotReq.URL.RawQuery, "cx=cx123")
}

func TestBingSetsSubscriptionHeader(t *testing.T) {
	stub := &stubDoer{
		status: http.StatusOK,
		body:   `{"webPages":{"value":[{"url":"https://a.example.com","name":"A","snippet":"s"}]}}`,
	}
	b := NewBing(nil, "bingkey", 0)
	b.client = stub

	refs, err := b.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "bingkey", stub.gotReq.Header.Get("Ocp-Apim-Subscription-Key"))
}

func TestDuckDuckGoNonOKStatus(t *testing.T) {
	stub := &stubDoer{status: http.StatusTooManyRequests, body: ``}
	d := NewDuckDuckGo(nil, 0)
	d.client = stub

	_, err := d.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestMockIsDeterministic(t *testing.T) {
	m := NewMock()
	a, err := m.Search(context.Background(), "the moon orbits the earth")
	require.NoError(t, err)
	b, err := m.Search(context.Background(), "the moon orbits the earth")
	require.NoError(t, err)

	require.Equal(t, a, b)
	assert.GreaterOrEqual(t, len(a), 2)
	assert.LessOrEqual(t, len(a), 4)
}
