package verify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/storage"
)

// Store mirrors cache entries to durable storage. Implementations must be
// safe for concurrent use; *storage.DB satisfies this. Store failures never
// fail the in-memory cache, so verification degrades gracefully without
// persistence.
type Store interface {
	UpsertVerificationCacheEntry(ctx context.Context, e storage.VerificationCacheEntry) error
	GetVerificationCacheEntry(ctx context.Context, fingerprint string) (storage.VerificationCacheEntry, error)
	DeleteExpiredVerificationEntries(ctx context.Context) (int64, error)
}

// Cache stores completed verification results keyed by request fingerprint.
// Critical-priority results live twice as long. Expired entries are removed
// by a periodic sweep. An optional Store makes entries survive restarts:
// writes go through asynchronously and misses fall through to the store.
type Cache struct {
	logger *slog.Logger
	ttl    time.Duration
	store  Store

	mu      sync.Mutex
	entries map[string]*cacheEntry
	hits    int64
	misses  int64

	// now is swappable for tests.
	now func() time.Time
}

type cacheEntry struct {
	result       model.VerificationResult
	createdAt    time.Time
	expiresAt    time.Time
	accessCount  int64
	lastAccessed time.Time
}

// NewCache creates a result cache with the given base TTL.
func NewCache(logger *slog.Logger, ttl time.Duration) *Cache {
	return &Cache{
		logger:  logger,
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// SetStore attaches durable storage. Must be called before the cache is
// shared across goroutines.
func (c *Cache) SetStore(s Store) {
	c.store = s
}

// Get returns a copy of the cached result for fp, updating access bookkeeping.
// On a memory miss with a store attached, the store is consulted and a hit
// repopulates the in-memory map.
func (c *Cache) Get(fp string) (model.VerificationResult, bool) {
	c.mu.Lock()

	e, ok := c.entries[fp]
	if ok && !c.now().After(e.expiresAt) {
		e.accessCount++
		e.lastAccessed = c.now()
		c.hits++
		c.mu.Unlock()
		return e.result, true
	}
	c.mu.Unlock()

	if c.store != nil {
		if se, err := c.loadFromStore(fp); err == nil {
			c.mu.Lock()
			c.entries[fp] = se
			c.hits++
			result := se.result
			c.mu.Unlock()
			return result, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return model.VerificationResult{}, false
}

func (c *Cache) loadFromStore(fp string) (*cacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	se, err := c.store.GetVerificationCacheEntry(ctx, fp)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("verify: cache store read failed", "error", err)
		}
		return nil, err
	}
	return &cacheEntry{
		result:       se.Result,
		createdAt:    se.CreatedAt,
		expiresAt:    se.ExpiresAt,
		accessCount:  se.AccessCount,
		lastAccessed: se.LastAccessed,
	}, nil
}

// Put stores a result. Critical priority doubles the TTL. With a store
// attached the entry is mirrored asynchronously; store failures are logged
// and the in-memory entry stands alone.
func (c *Cache) Put(fp string, result model.VerificationResult, priority model.Priority) {
	ttl := c.ttl
	if priority == model.PriorityCritical {
		ttl *= 2
	}

	now := c.now()
	c.mu.Lock()
	c.entries[fp] = &cacheEntry{
		result:       result,
		createdAt:    now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
	}
	c.mu.Unlock()

	if c.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := c.store.UpsertVerificationCacheEntry(ctx, storage.VerificationCacheEntry{
				Fingerprint:  fp,
				Result:       result,
				LastAccessed: now,
				CreatedAt:    now,
				ExpiresAt:    now.Add(ttl),
			})
			if err != nil {
				c.logger.Warn("verify: cache store write failed", "fingerprint", fp, "error", err)
			}
		}()
	}
}

// AccessCount reports how many times fp has been served from cache.
func (c *Cache) AccessCount(fp string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fp]; ok {
		return e.accessCount
	}
	return 0
}

// Sweep removes expired entries and returns the number removed.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries on interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("verify: cache sweep", "removed", n)
			}
			if c.store != nil {
				sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if _, err := c.store.DeleteExpiredVerificationEntries(sctx); err != nil {
					c.logger.Warn("verify: cache store sweep failed", "error", err)
				}
				cancel()
			}
		}
	}
}

// CacheStats is the cache's counters snapshot.
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Stats snapshots the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Size: len(c.entries), Hits: c.hits, Misses: c.misses}
}
