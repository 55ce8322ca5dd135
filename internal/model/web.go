package model

import "time"

// ContentQuality scores an extracted page.
type ContentQuality struct {
	TextRatio    float64 `json:"text_ratio"`    // text bytes / total bytes
	LinkDensity  float64 `json:"link_density"`  // links per kB of text
	HasTitle     bool    `json:"has_title"`
	HasMetadata  bool    `json:"has_metadata"`
	WordCount    int     `json:"word_count"`
	OverallScore float64 `json:"overall_score"` // [0,1]
}

// Link is one anchor extracted from a page.
type Link struct {
	URL      string `json:"url"`
	Text     string `json:"text,omitempty"`
	Internal bool   `json:"internal"`
}

// Image is one image reference extracted from a page.
type Image struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// PageMetadata holds the page's descriptive headers.
type PageMetadata struct {
	Description string            `json:"description,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	Author      string            `json:"author,omitempty"`
	Language    string            `json:"language,omitempty"`
	OpenGraph   map[string]string `json:"open_graph,omitempty"`
}

// WebContent is the extractor's output for one URL.
type WebContent struct {
	URL         string         `json:"url"`
	FinalURL    string         `json:"final_url,omitempty"` // after redirects
	Title       string         `json:"title,omitempty"`
	Text        string         `json:"text"`
	ContentHash string         `json:"content_hash"`
	Metadata    PageMetadata   `json:"metadata"`
	Links       []Link         `json:"links,omitempty"`
	Images      []Image        `json:"images,omitempty"`
	Quality     ContentQuality `json:"quality"`
	StatusCode  int            `json:"status_code"`
	ContentType string         `json:"content_type,omitempty"`
	SizeBytes   int64          `json:"size_bytes"`
	FetchTimeMs int64          `json:"fetch_time_ms"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// NodeStatus is the terminal state of one traversal node. Pending marks a
// URL that was discovered and queued but never reached before the run ended.
type NodeStatus string

const (
	NodeVisited NodeStatus = "visited"
	NodePending NodeStatus = "pending"
	NodeSkipped NodeStatus = "skipped"
	NodeFailed  NodeStatus = "failed"
)

// TraversalNode is one page in the traversal graph.
type TraversalNode struct {
	URL       string     `json:"url"`
	Depth     int        `json:"depth"`
	Status    NodeStatus `json:"status"`
	Title     string     `json:"title,omitempty"`
	LinkCount int        `json:"link_count"`
	Error     string     `json:"error,omitempty"`
	VisitedAt time.Time  `json:"visited_at"`
}

// TraversalEdge is a discovered link between two visited pages.
type TraversalEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TraversalStats summarizes one traversal run. MaxDepthReached is the
// deepest level actually fetched, distinct from the result-level flag that
// reports whether the depth bound cut any links.
type TraversalStats struct {
	PagesVisited        int     `json:"pages_visited"`
	PagesSkipped        int     `json:"pages_skipped"`
	PagesFailed         int     `json:"pages_failed"`
	LinksFound          int     `json:"links_found"`
	UniqueDomains       int     `json:"unique_domains"`
	MaxDepthReached     int     `json:"max_depth_reached"`
	TotalContentBytes   int64   `json:"total_content_bytes"`
	AvgPageLoadTimeMs   float64 `json:"avg_page_load_time_ms"`
	RateLimitEncounters int     `json:"rate_limit_encounters"`
}

// TraversalResult is the full output of a traversal run.
type TraversalResult struct {
	SessionID         string          `json:"session_id"`
	StartURL          string          `json:"start_url"`
	Nodes             []TraversalNode `json:"nodes"`
	Edges             []TraversalEdge `json:"edges,omitempty"`
	Stats             TraversalStats  `json:"stats"`
	DepthDistribution map[int]int     `json:"depth_distribution"`
	MaxDepthReached   bool            `json:"max_depth_reached"`
	PageLimitReached  bool            `json:"page_limit_reached"`
	TraversalTimeMs   int64           `json:"traversal_time_ms"`
	CompletedAt       time.Time       `json:"completed_at"`
}

// DomainStatus is a domain rate limiter decision.
type DomainStatus string

const (
	DomainOk        DomainStatus = "ok"
	DomainThrottled DomainStatus = "throttled"
	DomainBlocked   DomainStatus = "blocked"
)

// DomainRateLimit is the per-domain limiter state.
type DomainRateLimit struct {
	Domain         string        `json:"domain"`
	Status         DomainStatus  `json:"status"`
	RequestCount   int           `json:"request_count"`
	WindowResetAt  time.Time     `json:"window_reset_at"`
	CurrentBackoff time.Duration `json:"current_backoff"`
	LastRequestAt  time.Time     `json:"last_request_at"`
}
