package scrape

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/model"
)

// PageCache persists fetched pages for a bounded time.
type PageCache interface {
	GetCachedPage(ctx context.Context, url string) (*model.CrawledPage, error)
	SetCachedPage(ctx context.Context, page model.CrawledPage, ttl time.Duration) error
}

// CachedFetcher serves pages from a PageCache and falls back to next. Cache
// errors are logged and never fail a fetch.
type CachedFetcher struct {
	next  Fetcher
	cache PageCache
	ttl   time.Duration
}

// NewCachedFetcher wraps next with cache. A non-positive ttl disables writes.
func NewCachedFetcher(next Fetcher, cache PageCache, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{next: next, cache: cache, ttl: ttl}
}

// Fetch implements Fetcher.
func (c *CachedFetcher) Fetch(ctx context.Context, url string) (*model.CrawledPage, error) {
	page, err := c.cache.GetCachedPage(ctx, url)
	if err != nil {
		zap.L().Debug("scrape: page cache read failed", zap.String("url", url), zap.Error(err))
	}
	if page != nil {
		return page, nil
	}

	page, err = c.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		cp := *page
		cp.URL = url
		if err := c.cache.SetCachedPage(ctx, cp, c.ttl); err != nil {
			zap.L().Debug("scrape: page cache write failed", zap.String("url", url), zap.Error(err))
		}
	}
	return page, nil
}
