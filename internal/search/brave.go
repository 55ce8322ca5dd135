package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Brave queries the Brave Web Search API. Requires a subscription token.
type Brave struct {
	client  httpDoer
	apiKey  string
	timeout time.Duration
}

func NewBrave(client *http.Client, apiKey string, timeout time.Duration) *Brave {
	var doer httpDoer = http.DefaultClient
	if client != nil {
		doer = client
	}
	return &Brave{client: doer, apiKey: apiKey, timeout: timeout}
}

func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query string) ([]Reference, error) {
	ctx, cancel := callCtx(ctx, b.timeout)
	defer cancel()

	endpoint := "https://api.search.brave.com/res/v1/web/search?" + url.Values{
		"q":     {query},
		"count": {"10"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("search: brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: brave status %d", resp.StatusCode)
	}

	var body braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("search: brave decode: %w", err)
	}

	refs := make([]Reference, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		if r.URL == "" {
			continue
		}
		supports, conf := supportSignal(query, r.Description)
		refs = append(refs, Reference{
			URL:        r.URL,
			Title:      r.Title,
			Snippet:    r.Description,
			Quality:    domainQuality(r.URL),
			Supports:   supports,
			Confidence: conf,
		})
	}
	return refs, nil
}
