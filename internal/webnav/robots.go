package webnav

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsCache fetches and caches robots.txt verdicts per origin. Concurrent
// misses for the same origin are collapsed into a single fetch. A fetch
// failure is treated as allow-all, cached briefly so a flapping origin is not
// hammered.
type RobotsCache struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]robotsEntry

	// now is swappable for tests.
	now func() time.Time
}

type robotsEntry struct {
	data      *robotstxt.RobotsData // nil means allow-all
	expiresAt time.Time
}

const robotsFailureTTL = 5 * time.Minute

// NewRobotsCache creates the cache. client must not be nil.
func NewRobotsCache(client *http.Client, userAgent string, ttl time.Duration) *RobotsCache {
	return &RobotsCache{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		entries:   make(map[string]robotsEntry),
		now:       time.Now,
	}
}

// Allowed reports whether the user agent may fetch rawURL per the origin's
// robots.txt. Unparseable URLs are disallowed; unreachable robots.txt allows.
func (r *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	origin := u.Scheme + "://" + u.Host

	data := r.lookup(ctx, origin)
	if data == nil {
		return true
	}
	return data.FindGroup(r.userAgent).Test(u.Path)
}

func (r *RobotsCache) lookup(ctx context.Context, origin string) *robotstxt.RobotsData {
	r.mu.RLock()
	e, ok := r.entries[origin]
	r.mu.RUnlock()
	if ok && r.now().Before(e.expiresAt) {
		return e.data
	}

	v, _, _ := r.group.Do(origin, func() (any, error) {
		data, ttl := r.fetch(ctx, origin)
		r.mu.Lock()
		r.entries[origin] = robotsEntry{data: data, expiresAt: r.now().Add(ttl)}
		r.mu.Unlock()
		return data, nil
	})
	data, _ := v.(*robotstxt.RobotsData)
	return data
}

// fetch retrieves and parses one origin's robots.txt. Returns the parsed
// rules (nil for allow-all) and the TTL to cache them under.
func (r *RobotsCache) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, time.Duration) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, robotsFailureTTL
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, robotsFailureTTL
	}
	defer resp.Body.Close()

	// robotstxt maps status codes to the conventional semantics: 4xx means
	// allow-all, 5xx means disallow-all.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, robotsFailureTTL
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, robotsFailureTTL
	}
	return data, r.ttl
}

// Size reports the number of cached origins.
func (r *RobotsCache) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Purge drops expired entries and returns the number removed.
func (r *RobotsCache) Purge() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for origin, e := range r.entries {
		if now.After(e.expiresAt) {
			delete(r.entries, origin)
			removed++
		}
	}
	return removed
}
