package discovery

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/scrape"
)

var errNoWebsite = eris.New("discovery: provider has no website")

// RegexStrategy crawls the provider's own site and pattern-matches prices
// next to text that names the service.
type RegexStrategy struct {
	crawler crawler
}

// NewRegexStrategy creates the first tier.
func NewRegexStrategy(fetcher scrape.Fetcher, exclude *scrape.PathMatcher, cfg CrawlConfig) *RegexStrategy {
	def := DefaultCrawlConfig()
	if cfg.TopLinks <= 0 {
		cfg.TopLinks = def.TopLinks
	}
	if cfg.SubLinks <= 0 {
		cfg.SubLinks = def.SubLinks
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	return &RegexStrategy{crawler: crawler{fetcher: fetcher, exclude: exclude, cfg: cfg}}
}

// Name implements Strategy.
func (s *RegexStrategy) Name() string { return "regex" }

// Attempt implements Strategy.
func (s *RegexStrategy) Attempt(ctx context.Context, req *Request) (*Result, error) {
	if req.Provider.Website == "" {
		return skipped(errNoWebsite), nil
	}
	log := zap.L().With(zap.String("strategy", s.Name()), zap.String("provider_id", req.Provider.ID))

	res, err := s.crawler.crawl(ctx, req.Provider.Website, req.Tokens)
	out := &Result{Outcome: OutcomeNotFound, Page: res.bestPage, Overlap: res.bestOverlap}
	if err != nil {
		out.Reason = err
		return out, eris.Wrap(err, "regex: fetch homepage")
	}
	log.Debug("regex: crawl complete",
		zap.Int("pages", res.pages),
		zap.Int("best_overlap", res.bestOverlap),
	)
	if res.match == nil {
		return out, nil
	}
	out.Outcome = OutcomeFound
	out.Observation = draftObservation(req, res.match.Value, res.match.Currency, res.matchURL)
	return out, nil
}
