package webnav

import (
	"context"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/saitei/internal/model"
)

// TraversalStrategy selects the frontier discipline.
type TraversalStrategy string

const (
	TraversalBFS       TraversalStrategy = "bfs"
	TraversalDFS       TraversalStrategy = "dfs"
	TraversalRelevance TraversalStrategy = "relevance"
)

// TraversalConfig bounds and shapes one traversal run.
type TraversalConfig struct {
	MaxDepth              int
	MaxPages              int
	Strategy              TraversalStrategy
	SameDomainOnly        bool
	RespectRobotsTxt      bool
	Delay                 time.Duration // minimum gap between requests per domain
	MaxConcurrentRequests int
	AllowedDomains        []string
	BlockedDomains        []string
	IncludePatterns       []string
	ExcludePatterns       []string
	FollowExternalLinks   bool
	ExtractImages         bool
	RelevanceKeywords     []string
}

// Traversal walks a site graph from a start URL, delegating every page to
// the extractor. Cycle safety comes from a visited set keyed by normalized
// URL; per-URL failures are recorded and never abort the run.
type Traversal struct {
	logger     *slog.Logger
	extractor  *Extractor
	limiter    *DomainLimiter
	cache      *ContentCache
	extractCfg ExtractionConfig

	mu        sync.Mutex
	lastFetch map[string]time.Time // per-domain pacing
}

// NewTraversal wires the traversal engine. cache may be nil to disable
// content reuse.
func NewTraversal(logger *slog.Logger, extractor *Extractor, limiter *DomainLimiter, cache *ContentCache, extractCfg ExtractionConfig) *Traversal {
	return &Traversal{
		logger:     logger,
		extractor:  extractor,
		limiter:    limiter,
		cache:      cache,
		extractCfg: extractCfg,
		lastFetch:  make(map[string]time.Time),
	}
}

type frontierItem struct {
	url       string // normalized
	rawURL    string
	depth     int
	relevance float64
}

// runState collects the traversal output under a single lock.
type runState struct {
	mu          sync.Mutex
	visited     map[string]bool
	nodes       []model.TraversalNode
	edges       []model.TraversalEdge
	depthDist   map[int]int
	stats       model.TraversalStats
	domains     map[string]bool
	children    []frontierItem
	loadMsTotal int64
}

// Run traverses from startURL under cfg.
func (t *Traversal) Run(ctx context.Context, startURL string, cfg TraversalConfig) (model.TraversalResult, error) {
	start := time.Now()

	if cfg.MaxDepth < 1 {
		return model.TraversalResult{}, model.NewError(model.ErrInvalidInput, "maxDepth must be >= 1")
	}
	if cfg.MaxPages < 1 {
		return model.TraversalResult{}, model.NewError(model.ErrInvalidInput, "maxPages must be >= 1")
	}
	if cfg.MaxConcurrentRequests < 1 {
		cfg.MaxConcurrentRequests = 1
	}
	if cfg.Strategy == "" {
		cfg.Strategy = TraversalBFS
	}

	startParsed, err := validateURL(startURL)
	if err != nil {
		return model.TraversalResult{}, err
	}
	startHost := strings.ToLower(startParsed.Host)

	state := &runState{
		visited:   make(map[string]bool),
		depthDist: make(map[int]int),
		domains:   make(map[string]bool),
	}
	result := model.TraversalResult{SessionID: uuid.New().String(), StartURL: startURL}

	frontier := []frontierItem{{url: NormalizeURL(startURL), rawURL: startURL, depth: 0}}
	enqueued := map[string]bool{frontier[0].url: true}

	for len(frontier) > 0 && ctx.Err() == nil {
		if len(state.visited) >= cfg.MaxPages {
			result.PageLimitReached = true
			break
		}

		var batch []frontierItem
		switch cfg.Strategy {
		case TraversalBFS:
			// One whole depth level at a time preserves the BFS guarantee:
			// all of depth d completes before any of depth d+1 starts.
			depth := frontier[0].depth
			for len(frontier) > 0 && frontier[0].depth == depth {
				batch = append(batch, frontier[0])
				frontier = frontier[1:]
			}
		case TraversalDFS:
			last := len(frontier) - 1
			batch = []frontierItem{frontier[last]}
			frontier = frontier[:last]
		default: // relevance
			best := 0
			for i, it := range frontier {
				if it.relevance > frontier[best].relevance {
					best = i
				}
			}
			batch = []frontierItem{frontier[best]}
			frontier = slices.Delete(frontier, best, best+1)
		}

		if remaining := cfg.MaxPages - len(state.visited); len(batch) > remaining {
			// Budget only covers part of the batch; the rest is dropped.
			frontier = append(batch[remaining:], frontier...)
			batch = batch[:remaining]
			result.PageLimitReached = true
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.MaxConcurrentRequests)
		for _, item := range batch {
			g.Go(func() error {
				t.visit(gctx, item, cfg, startHost, state)
				return nil
			})
		}
		g.Wait()

		state.mu.Lock()
		children := state.children
		state.children = nil
		state.mu.Unlock()

		for _, c := range children {
			if enqueued[c.url] {
				continue
			}
			if c.depth > cfg.MaxDepth {
				result.MaxDepthReached = true
				continue
			}
			enqueued[c.url] = true
			frontier = append(frontier, c)
		}
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.stats.UniqueDomains = len(state.domains)
	if state.stats.PagesVisited > 0 {
		state.stats.AvgPageLoadTimeMs = float64(state.loadMsTotal) / float64(state.stats.PagesVisited)
	}

	// URLs still on the frontier were discovered but never reached; they
	// appear in the graph as pending nodes.
	for _, it := range frontier {
		state.nodes = append(state.nodes, model.TraversalNode{
			URL: it.url, Depth: it.depth, Status: model.NodePending,
		})
	}

	result.Nodes = state.nodes
	result.Edges = state.edges
	result.Stats = state.stats
	result.DepthDistribution = state.depthDist
	result.TraversalTimeMs = max(time.Since(start).Milliseconds(), 1)
	result.CompletedAt = time.Now().UTC()
	return result, nil
}

// visit fetches one frontier item, records its node, and queues its children.
func (t *Traversal) visit(ctx context.Context, item frontierItem, cfg TraversalConfig, startHost string, state *runState) {
	host := hostOfURL(item.url)

	// Skipped pages never consume the page budget, but they are recorded as
	// graph nodes so the result shows why a URL was not fetched.
	skip := func(reason string) {
		t.logger.Debug("webnav: page skipped", "url", item.url, "reason", reason)
		state.mu.Lock()
		state.stats.PagesSkipped++
		state.nodes = append(state.nodes, model.TraversalNode{
			URL: item.url, Depth: item.depth, Status: model.NodeSkipped,
			Error: reason, VisitedAt: time.Now().UTC(),
		})
		state.mu.Unlock()
	}

	if cfg.RespectRobotsTxt && t.extractor.robots != nil && !t.extractor.robots.Allowed(ctx, item.rawURL) {
		skip("robots.txt disallows")
		return
	}
	if t.limiter != nil {
		if status := t.limiter.Check(host); status != model.DomainOk {
			state.mu.Lock()
			state.stats.RateLimitEncounters++
			state.mu.Unlock()
			skip("domain rate limited: " + string(status))
			return
		}
	}
	if err := t.pace(ctx, host, cfg.Delay); err != nil {
		skip("cancelled while pacing")
		return
	}

	content, err := t.fetchContent(ctx, item, cfg)
	if err != nil {
		state.mu.Lock()
		defer state.mu.Unlock()
		state.stats.PagesFailed++
		if model.IsKind(err, model.ErrRateLimitExceeded) {
			state.stats.RateLimitEncounters++
		}
		state.visited[item.url] = true
		state.depthDist[item.depth]++
		if item.depth > state.stats.MaxDepthReached {
			state.stats.MaxDepthReached = item.depth
		}
		state.nodes = append(state.nodes, model.TraversalNode{
			URL: item.url, Depth: item.depth, Status: model.NodeFailed,
			Error: err.Error(), VisitedAt: time.Now().UTC(),
		})
		return
	}

	var children []frontierItem
	var edges []model.TraversalEdge
	for _, link := range content.Links {
		norm := NormalizeURL(link.URL)
		edges = append(edges, model.TraversalEdge{From: item.url, To: norm})
		if t.inScope(link.URL, cfg, startHost) {
			children = append(children, frontierItem{
				url:       norm,
				rawURL:    link.URL,
				depth:     item.depth + 1,
				relevance: relevanceScore(link, cfg.RelevanceKeywords),
			})
		}
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	state.visited[item.url] = true
	state.depthDist[item.depth]++
	state.domains[host] = true
	state.stats.PagesVisited++
	state.stats.LinksFound += len(content.Links)
	state.stats.TotalContentBytes += content.SizeBytes
	state.loadMsTotal += content.FetchTimeMs
	if item.depth > state.stats.MaxDepthReached {
		state.stats.MaxDepthReached = item.depth
	}
	state.nodes = append(state.nodes, model.TraversalNode{
		URL: item.url, Depth: item.depth, Status: model.NodeVisited,
		Title: content.Title, LinkCount: len(content.Links), VisitedAt: time.Now().UTC(),
	})
	state.edges = append(state.edges, edges...)
	state.children = append(state.children, children...)
}

// fetchContent serves from the content cache when possible.
func (t *Traversal) fetchContent(ctx context.Context, item frontierItem, cfg TraversalConfig) (model.WebContent, error) {
	if t.cache != nil {
		if content, ok := t.cache.Get(item.url); ok {
			return content, nil
		}
	}

	extractCfg := t.extractCfg
	extractCfg.IncludeImages = cfg.ExtractImages
	extractCfg.RespectRobotsTxt = false // already checked against the raw URL

	content, err := t.extractor.Extract(ctx, item.rawURL, extractCfg)
	if err != nil {
		return model.WebContent{}, err
	}
	if t.cache != nil {
		t.cache.Put(item.url, content)
	}
	return content, nil
}

// pace waits out the per-domain delay; the wait is cancellable.
func (t *Traversal) pace(ctx context.Context, host string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	t.mu.Lock()
	last := t.lastFetch[host]
	now := time.Now()
	wait := delay - now.Sub(last)
	if wait < 0 {
		wait = 0
	}
	t.lastFetch[host] = now.Add(wait)
	t.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// inScope applies the domain and pattern filters to a candidate link.
func (t *Traversal) inScope(rawURL string, cfg TraversalConfig, startHost string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Host)

	external := !strings.EqualFold(host, startHost)
	if external && (cfg.SameDomainOnly || !cfg.FollowExternalLinks) {
		return false
	}

	for _, blocked := range cfg.BlockedDomains {
		if hostMatches(host, blocked) {
			return false
		}
	}
	if len(cfg.AllowedDomains) > 0 {
		allowed := false
		for _, a := range cfg.AllowedDomains {
			if hostMatches(host, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pat := range cfg.ExcludePatterns {
		if strings.Contains(rawURL, pat) {
			return false
		}
	}
	if len(cfg.IncludePatterns) > 0 {
		included := false
		for _, pat := range cfg.IncludePatterns {
			if strings.Contains(rawURL, pat) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	return true
}

// NormalizeURL canonicalizes a URL for the visited set: lowercased host,
// trailing slash stripped, fragment dropped.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func hostOfURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return strings.ToLower(u.Host)
	}
	return rawURL
}

// hostMatches reports whether host equals domain or is a subdomain of it.
func hostMatches(host, domain string) bool {
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// relevanceScore estimates how promising a link is for relevance-first
// traversal: keyword hits in the URL and anchor text.
func relevanceScore(link model.Link, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	haystack := strings.ToLower(link.URL + " " + link.Text)
	score := 0.0
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			score += 1.0
		}
	}
	return score / float64(len(keywords))
}
