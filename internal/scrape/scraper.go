// Package scrape fetches provider web pages through an ordered chain of
// scrapers (direct HTTP first, then a hosted reader) with a page cache.
package scrape

import (
	"context"

	"github.com/sells-group/price-discovery/internal/model"
)

// Result holds a scraped page with its source.
type Result struct {
	Page   model.CrawledPage
	Source string // e.g. "local_http", "jina", "cache"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}

// Fetcher is the page-fetch capability consumed by discovery and contact
// lookup. Errors wrap model.ErrFetchFailure.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*model.CrawledPage, error)
}
