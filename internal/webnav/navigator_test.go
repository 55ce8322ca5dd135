package webnav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/saitei/internal/model"
	"github.com/ashita-ai/saitei/internal/storage"
)

// navStore is an in-memory Store double.
type navStore struct {
	mu           sync.Mutex
	contents     map[string]model.WebContent
	upserts      int
	traversals   int
	domainStates int
	failing      bool
}

func newNavStore() *navStore {
	return &navStore{contents: make(map[string]model.WebContent)}
}

func (s *navStore) UpsertWebContent(_ context.Context, url string, content model.WebContent, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store down")
	}
	s.contents[url] = content
	s.upserts++
	return nil
}

func (s *navStore) GetWebContent(_ context.Context, url string) (model.WebContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return model.WebContent{}, errors.New("store down")
	}
	c, ok := s.contents[url]
	if !ok {
		return model.WebContent{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *navStore) DeleteExpiredWebContent(context.Context) (int64, error) { return 0, nil }

func (s *navStore) InsertTraversal(context.Context, model.TraversalResult) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traversals++
	return uuid.New(), nil
}

func (s *navStore) UpsertDomainRateLimit(context.Context, model.DomainRateLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainStates++
	return nil
}

func (s *navStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

func (s *navStore) traversalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traversals
}

func testNavigator(store Store) *Navigator {
	n := New(testLogger(), Options{
		UserAgent:            "saitei-test/1.0",
		FetchTimeout:         5 * time.Second,
		MaxRedirects:         3,
		MaxContentBytes:      1 << 20,
		RespectRobots:        false,
		RobotsTTL:            time.Hour,
		DomainRequestsPerMin: 1000,
		BackoffInitial:       time.Second,
		BackoffMax:           time.Minute,
		BackoffMultiplier:    2,
		CacheTTL:             time.Hour,
		CacheMaxMB:           10,
	})
	if store != nil {
		n.SetStore(store)
	}
	return n
}

func TestNavigatorServesFromStore(t *testing.T) {
	store := newNavStore()
	// The host does not resolve, so a hit proves the store path.
	raw := "http://offline.invalid/page"
	key := NormalizeURL(raw)
	store.contents[key] = model.WebContent{URL: raw, Title: "Stored Page", Text: "stored"}

	n := testNavigator(store)
	content, err := n.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Stored Page", content.Title)

	// The hit repopulated memory; a failing store no longer matters.
	store.mu.Lock()
	store.failing = true
	store.mu.Unlock()

	content, err = n.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Stored Page", content.Title)
}

func TestNavigatorPersistsFetchedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><title>Fresh</title><body>body text here</body></html>")
	}))
	defer srv.Close()

	store := newNavStore()
	n := testNavigator(store)

	content, err := n.Extract(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", content.Title)

	// The mirror write is asynchronous.
	require.Eventually(t, func() bool { return store.upsertCount() == 1 },
		time.Second, 5*time.Millisecond)

	store.mu.Lock()
	_, ok := store.contents[NormalizeURL(srv.URL+"/article")]
	store.mu.Unlock()
	assert.True(t, ok, "stored under the normalized URL")
}

func TestNavigatorStoreFailureDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><title>Live</title><body>live</body></html>")
	}))
	defer srv.Close()

	store := newNavStore()
	store.failing = true
	n := testNavigator(store)

	content, err := n.Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Live", content.Title)
}

func TestNavigatorPersistsTraversal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><title>Lone</title><body>no links</body></html>")
	}))
	defer srv.Close()

	store := newNavStore()
	n := testNavigator(store)

	result, err := n.Traverse(context.Background(), srv.URL, TraversalConfig{
		MaxDepth: 1,
		MaxPages: 5,
		Strategy: TraversalBFS,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.PagesVisited)

	require.Eventually(t, func() bool { return store.traversalCount() == 1 },
		time.Second, 5*time.Millisecond)
}
