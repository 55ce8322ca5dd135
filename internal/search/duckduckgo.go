package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DuckDuckGo queries the Instant Answers API. No API key required.
type DuckDuckGo struct {
	client  httpDoer
	timeout time.Duration
}

// NewDuckDuckGo creates the adapter. client may be nil for the default.
func NewDuckDuckGo(client *http.Client, timeout time.Duration) *DuckDuckGo {
	var doer httpDoer = http.DefaultClient
	if client != nil {
		doer = client
	}
	return &DuckDuckGo{client: doer, timeout: timeout}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

type ddgResponse struct {
	AbstractText   string `json:"AbstractText"`
	AbstractURL    string `json:"AbstractURL"`
	Heading        string `json:"Heading"`
	RelatedTopics  []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	FirstURL string `json:"FirstURL"`
	Text     string `json:"Text"`
}

// Search queries the Instant Answers endpoint and normalizes the abstract
// plus related topics into References.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Reference, error) {
	ctx, cancel := callCtx(ctx, d.timeout)
	defer cancel()

	endpoint := "https://api.duckduckgo.com/?" + url.Values{
		"q":      {query},
		"format": {"json"},
		"no_html": {"1"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("search: duckduckgo request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: duckduckgo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: duckduckgo status %d", resp.StatusCode)
	}

	var body ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("search: duckduckgo decode: %w", err)
	}

	var refs []Reference
	if body.AbstractURL != "" {
		supports, conf := supportSignal(query, body.AbstractText)
		refs = append(refs, Reference{
			URL:        body.AbstractURL,
			Title:      body.Heading,
			Snippet:    body.AbstractText,
			Quality:    domainQuality(body.AbstractURL),
			Supports:   supports,
			Confidence: conf,
		})
	}
	for _, t := range body.RelatedTopics {
		if t.FirstURL == "" {
			continue
		}
		supports, conf := supportSignal(query, t.Text)
		refs = append(refs, Reference{
			URL:        t.FirstURL,
			Title:      t.Text,
			Snippet:    t.Text,
			Quality:    domainQuality(t.FirstURL),
			Supports:   supports,
			Confidence: conf,
		})
		if len(refs) >= 10 {
			break
		}
	}
	return refs, nil
}
