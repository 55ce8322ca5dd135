package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Google queries the Custom Search JSON API. Requires an API key and a
// search engine id (cx).
type Google struct {
	client   httpDoer
	apiKey   string
	engineID string
	timeout  time.Duration
}

func NewGoogle(client *http.Client, apiKey, engineID string, timeout time.Duration) *Google {
	var doer httpDoer = http.DefaultClient
	if client != nil {
		doer = client
	}
	return &Google{client: doer, apiKey: apiKey, engineID: engineID, timeout: timeout}
}

func (g *Google) Name() string { return "google" }

type googleResponse struct {
	Items []struct {
		Link    string `json:"link"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (g *Google) Search(ctx context.Context, query string) ([]Reference, error) {
	ctx, cancel := callCtx(ctx, g.timeout)
	defer cancel()

	endpoint := "https://www.googleapis.com/customsearch/v1?" + url.Values{
		"key": {g.apiKey},
		"cx":  {g.engineID},
		"q":   {query},
		"num": {"10"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("search: google request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: google: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: google status %d", resp.StatusCode)
	}

	var body googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("search: google decode: %w", err)
	}

	refs := make([]Reference, 0, len(body.Items))
	for _, it := range body.Items {
		if it.Link == "" {
			continue
		}
		supports, conf := supportSignal(query, it.Snippet)
		refs = append(refs, Reference{
			URL:        it.Link,
			Title:      it.Title,
			Snippet:    it.Snippet,
			Quality:    domainQuality(it.Link),
			Supports:   supports,
			Confidence: conf,
		})
	}
	return refs, nil
}
