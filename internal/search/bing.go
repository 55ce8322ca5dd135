package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Bing queries the Bing Web Search API. Requires a subscription key.
type Bing struct {
	client  httpDoer
	apiKey  string
	timeout time.Duration
}

func NewBing(client *http.Client, apiKey string, timeout time.Duration) *Bing {
	var doer httpDoer = http.DefaultClient
	if client != nil {
		doer = client
	}
	return &Bing{client: doer, apiKey: apiKey, timeout: timeout}
}

func (b *Bing) Name() string { return "bing" }

type bingResponse struct {
	WebPages struct {
		Value []struct {
			URL     string `json:"url"`
			Name    string `json:"name"`
			Snippet string `json:"snippet"`
		} `json:"value"`
	} `json:"webPages"`
}

func (b *Bing) Search(ctx context.Context, query string) ([]Reference, error) {
	ctx, cancel := callCtx(ctx, b.timeout)
	defer cancel()

	endpoint := "https://api.bing.microsoft.com/v7.0/search?" + url.Values{
		"q":     {query},
		"count": {"10"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("search: bing request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: bing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: bing status %d", resp.StatusCode)
	}

	var body bingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("search: bing decode: %w", err)
	}

	refs := make([]Reference, 0, len(body.WebPages.Value))
	for _, v := range body.WebPages.Value {
		if v.URL == "" {
			continue
		}
		supports, conf := supportSignal(query, v.Snippet)
		refs = append(refs, Reference{
			URL:        v.URL,
			Title:      v.Name,
			Snippet:    v.Snippet,
			Quality:    domainQuality(v.URL),
			Supports:   supports,
			Confidence: conf,
		})
	}
	return refs, nil
}
