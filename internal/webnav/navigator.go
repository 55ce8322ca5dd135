package webnav

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/storage"
)

// Store mirrors fetched content, traversal records, and domain limiter
// snapshots to durable storage. *storage.DB satisfies this. Store failures
// never fail navigation; the navigator degrades to memory only.
type Store interface {
	UpsertWebContent(ctx context.Context, url string, content model.WebContent, ttl time.Duration) error
	GetWebContent(ctx context.Context, url string) (model.WebContent, error)
	DeleteExpiredWebContent(ctx context.Context) (int64, error)
	InsertTraversal(ctx context.Context, result model.TraversalResult) (uuid.UUID, error)
	UpsertDomainRateLimit(ctx context.Context, s model.DomainRateLimit) error
}

// Navigator is the web navigation facade: extraction and traversal behind
// one surface, with rolling health over every fetch it performs.
type Navigator struct {
	logger    *slog.Logger
	extractor *Extractor
	traversal *Traversal
	limiter   *DomainLimiter
	cache     *ContentCache
	robots    *RobotsCache
	store     Store
	cacheTTL  time.Duration

	defaultCfg ExtractionConfig

	mu            sync.Mutex
	responseTimes []float64 // ms, rolling window
	errorRate     float64   // EMA
}

const (
	navHealthWindow   = 100
	navErrorRateAlpha = 0.1
)

// Options configures the navigator's construction.
type Options struct {
	UserAgent       string
	FetchTimeout    time.Duration
	MaxRedirects    int
	MaxContentBytes int64
	RespectRobots   bool
	RobotsTTL       time.Duration

	DomainRequestsPerMin int
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	BackoffMultiplier    float64

	CacheTTL   time.Duration
	CacheMaxMB int
}

// New assembles the navigator and its collaborators.
func New(logger *slog.Logger, opts Options) *Navigator {
	client := &http.Client{Timeout: opts.FetchTimeout}
	robots := NewRobotsCache(client, opts.UserAgent, opts.RobotsTTL)
	extractor := NewExtractor(logger, client, robots)
	limiter := NewDomainLimiter(opts.DomainRequestsPerMin, opts.BackoffInitial, opts.BackoffMax, opts.BackoffMultiplier)
	extractor.penalize = limiter.Penalize
	cache := NewContentCache(opts.CacheTTL, opts.CacheMaxMB)

	defaultCfg := DefaultExtractionConfig(opts.UserAgent, opts.FetchTimeout, opts.MaxRedirects, opts.MaxContentBytes)
	defaultCfg.RespectRobotsTxt = opts.RespectRobots

	return &Navigator{
		logger:     logger,
		extractor:  extractor,
		traversal:  NewTraversal(logger, extractor, limiter, cache, defaultCfg),
		limiter:    limiter,
		cache:      cache,
		robots:     robots,
		cacheTTL:   opts.CacheTTL,
		defaultCfg: defaultCfg,
	}
}

// SetStore attaches durable storage. Must be called before the navigator is
// shared across goroutines.
func (n *Navigator) SetStore(s Store) {
	n.store = s
}

// Extract fetches one page with the default extraction config, serving from
// cache when fresh.
func (n *Navigator) Extract(ctx context.Context, rawURL string) (model.WebContent, error) {
	return n.ExtractWith(ctx, rawURL, n.defaultCfg)
}

// ExtractWith fetches one page with an explicit config. A memory miss falls
// through to the durable store when one is attached; a fresh fetch is
// mirrored back asynchronously.
func (n *Navigator) ExtractWith(ctx context.Context, rawURL string, cfg ExtractionConfig) (model.WebContent, error) {
	key := NormalizeURL(rawURL)
	if content, ok := n.cache.Get(key); ok {
		return content, nil
	}
	if n.store != nil {
		if content, err := n.loadFromStore(key); err == nil {
			n.cache.Put(key, content)
			return content, nil
		}
	}

	if host := hostOfURL(rawURL); host != "" {
		if status := n.limiter.Check(host); status != model.DomainOk {
			n.persistDomainState(host)
			return model.WebContent{}, model.NewError(model.ErrRateLimitExceeded, "domain %s is %s", host, status)
		}
	}

	start := time.Now()
	content, err := n.extractor.Extract(ctx, rawURL, cfg)
	n.observe(time.Since(start), err != nil)
	if err != nil {
		return model.WebContent{}, err
	}

	n.cache.Put(key, content)
	if n.store != nil {
		go func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := n.store.UpsertWebContent(sctx, key, content, n.cacheTTL); err != nil {
				n.logger.Warn("webnav: content store write failed", "url", key, "error", err)
			}
		}()
	}
	return content, nil
}

func (n *Navigator) loadFromStore(key string) (model.WebContent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	content, err := n.store.GetWebContent(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			n.logger.Warn("webnav: content store read failed", "url", key, "error", err)
		}
		return model.WebContent{}, err
	}
	return content, nil
}

// persistDomainState snapshots a throttled domain's limiter state so the
// backoff survives restarts for operators to inspect.
func (n *Navigator) persistDomainState(host string) {
	if n.store == nil {
		return
	}
	state, ok := n.limiter.State(host)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.store.UpsertDomainRateLimit(ctx, state); err != nil {
			n.logger.Warn("webnav: domain state write failed", "domain", host, "error", err)
		}
	}()
}

// Traverse runs a bounded site traversal from startURL. Completed traversals
// are recorded to the store when one is attached.
func (n *Navigator) Traverse(ctx context.Context, startURL string, cfg TraversalConfig) (model.TraversalResult, error) {
	start := time.Now()
	result, err := n.traversal.Run(ctx, startURL, cfg)
	n.observe(time.Since(start), err != nil)
	if err == nil && n.store != nil {
		go func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, serr := n.store.InsertTraversal(sctx, result); serr != nil {
				n.logger.Warn("webnav: traversal record write failed", "start_url", startURL, "error", serr)
			}
		}()
	}
	return result, err
}

// DomainState exposes one domain's limiter state.
func (n *Navigator) DomainState(domain string) (model.DomainRateLimit, bool) {
	return n.limiter.State(domain)
}

// ClearCaches drops expired cache entries across the content and robots
// caches and reports how many were removed. Durable entries are swept in the
// background.
func (n *Navigator) ClearCaches() int {
	if n.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := n.store.DeleteExpiredWebContent(ctx); err != nil {
				n.logger.Warn("webnav: content store sweep failed", "error", err)
			}
		}()
	}
	return n.cache.Sweep() + n.robots.Purge()
}

// CacheStats exposes the content cache counters.
func (n *Navigator) CacheStats() ContentCacheStats {
	return n.cache.Stats()
}

func (n *Navigator) observe(elapsed time.Duration, failed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.responseTimes = append(n.responseTimes, float64(elapsed.Milliseconds()))
	if len(n.responseTimes) > navHealthWindow {
		n.responseTimes = n.responseTimes[len(n.responseTimes)-navHealthWindow:]
	}
	sample := 0.0
	if failed {
		sample = 1.0
	}
	n.errorRate = navErrorRateAlpha*sample + (1-navErrorRateAlpha)*n.errorRate
}

// Health classifies the navigator: degraded above the error-rate threshold,
// healthy otherwise. Hard-dependency failures are the caller's concern; the
// navigator itself has no external dependencies beyond outbound HTTP.
func (n *Navigator) Health(errorRateThreshold float64) model.HealthCheck {
	n.mu.Lock()
	var avg float64
	if len(n.responseTimes) > 0 {
		var sum float64
		for _, v := range n.responseTimes {
			sum += v
		}
		avg = sum / float64(len(n.responseTimes))
	}
	errRate := n.errorRate
	n.mu.Unlock()

	status := model.StatusHealthy
	msg := "navigator operational"
	if errRate > errorRateThreshold {
		status = model.StatusDegraded
		msg = "elevated fetch error rate"
	}

	stats := n.cache.Stats()
	return model.HealthCheck{
		Component:      "web_navigator",
		Status:         status,
		Message:        msg,
		ResponseTimeMs: avg,
		CheckedAt:      time.Now().UTC(),
		Details: map[string]any{
			"error_rate":      errRate,
			"cache_entries":   stats.Entries,
			"cache_bytes":     stats.Bytes,
			"tracked_domains": n.limiter.Tracked(),
		},
	}
}
