package webnav

import (
	"container/list"
	"sync"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
)

// ContentCache caches extracted pages keyed by normalized URL, bounded by a
// total byte budget with LRU eviction on top of per-entry TTL expiry.
type ContentCache struct {
	ttl      time.Duration
	maxBytes int64

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
	bytes   int64
	hits    int64
	misses  int64

	// now is swappable for tests.
	now func() time.Time
}

type contentEntry struct {
	key          string
	content      model.WebContent
	size         int64
	expiresAt    time.Time
	hits         int64
	lastAccessed time.Time
}

// NewContentCache creates a cache bounded to maxMB megabytes.
func NewContentCache(ttl time.Duration, maxMB int) *ContentCache {
	return &ContentCache{
		ttl:      ttl,
		maxBytes: int64(maxMB) * 1024 * 1024,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
}

// Get returns the cached content for key if present and unexpired.
func (c *ContentCache) Get(key string) (model.WebContent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return model.WebContent{}, false
	}
	e := el.Value.(*contentEntry)
	now := c.now()
	if now.After(e.expiresAt) {
		c.removeLocked(el)
		c.misses++
		return model.WebContent{}, false
	}
	c.lru.MoveToFront(el)
	c.hits++
	e.hits++
	e.lastAccessed = now
	return e.content, true
}

// Put stores content under key, evicting least-recently-used entries until
// the byte budget holds.
func (c *ContentCache) Put(key string, content model.WebContent) {
	size := content.SizeBytes
	if size <= 0 {
		size = int64(len(content.Text))
	}
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}

	now := c.now()
	e := &contentEntry{
		key:          key,
		content:      content,
		size:         size,
		expiresAt:    now.Add(c.ttl),
		lastAccessed: now,
	}
	c.entries[key] = c.lru.PushFront(e)
	c.bytes += size

	for c.bytes > c.maxBytes {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

func (c *ContentCache) removeLocked(el *list.Element) {
	e := el.Value.(*contentEntry)
	c.lru.Remove(el)
	delete(c.entries, e.key)
	c.bytes -= e.size
}

// Sweep drops expired entries and returns the number removed.
func (c *ContentCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*contentEntry).expiresAt) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

// EntryStats is one cached page's access record.
type EntryStats struct {
	HitCount     int64     `json:"hit_count"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Entry returns the access record for key without touching the counters or
// the LRU order.
func (c *ContentCache) Entry(key string) (EntryStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return EntryStats{}, false
	}
	e := el.Value.(*contentEntry)
	return EntryStats{
		HitCount:     e.hits,
		LastAccessed: e.lastAccessed,
		ExpiresAt:    e.expiresAt,
	}, true
}

// ContentCacheStats is the cache counters snapshot.
type ContentCacheStats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats snapshots the counters.
func (c *ContentCache) Stats() ContentCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ContentCacheStats{
		Entries: len(c.entries),
		Bytes:   c.bytes,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
