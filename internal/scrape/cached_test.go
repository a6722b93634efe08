package scrape

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-discovery/internal/model"
)

type memCache struct {
	mu     sync.Mutex
	pages  map[string]model.CrawledPage
	getErr error
}

func (m *memCache) GetCachedPage(_ context.Context, url string) (*model.CrawledPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.pages[url]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memCache) SetCachedPage(_ context.Context, page model.CrawledPage, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[page.URL] = page
	return nil
}

type countingFetcher struct {
	calls int
	err   error
}

func (c *countingFetcher) Fetch(_ context.Context, url string) (*model.CrawledPage, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &model.CrawledPage{URL: url + "/redirected", Markdown: "Oil change £45"}, nil
}

func TestCachedFetcher_HitAfterMiss(t *testing.T) {
	cache := &memCache{pages: map[string]model.CrawledPage{}}
	next := &countingFetcher{}
	f := NewCachedFetcher(next, cache, time.Hour)

	p1, err := f.Fetch(context.Background(), "https://garage.example")
	require.NoError(t, err)
	p2, err := f.Fetch(context.Background(), "https://garage.example")
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, p1.Markdown, p2.Markdown)
	assert.Contains(t, cache.pages, "https://garage.example")
}

func TestCachedFetcher_CacheErrorFallsThrough(t *testing.T) {
	cache := &memCache{pages: map[string]model.CrawledPage{}, getErr: errors.New("db down")}
	next := &countingFetcher{}

	_, err := NewCachedFetcher(next, cache, time.Hour).Fetch(context.Background(), "https://garage.example")
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
}

func TestCachedFetcher_FetchErrorNotCached(t *testing.T) {
	cache := &memCache{pages: map[string]model.CrawledPage{}}
	next := &countingFetcher{err: errors.New("boom")}

	_, err := NewCachedFetcher(next, cache, time.Hour).Fetch(context.Background(), "https://garage.example")
	require.Error(t, err)
	assert.Empty(t, cache.pages)
}
