package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/price-discovery/internal/extract"
)

var errLowOverlap = eris.New("discovery: best page overlap below threshold")

// SemanticConfig tunes the LLM tier.
type SemanticConfig struct {
	MinOverlap int
	MaxChars   int
	Timeout    time.Duration
}

// SemanticStrategy asks the extraction model to read the best page found by
// the crawl. It only fires when that page mentions enough of the query.
type SemanticStrategy struct {
	extractor extract.PriceExtractor
	cfg       SemanticConfig
}

// NewSemanticStrategy creates the second tier.
func NewSemanticStrategy(extractor extract.PriceExtractor, cfg SemanticConfig) *SemanticStrategy {
	if cfg.MinOverlap <= 0 {
		cfg.MinOverlap = 2
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 12000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SemanticStrategy{extractor: extractor, cfg: cfg}
}

// Name implements Strategy.
func (s *SemanticStrategy) Name() string { return "semantic" }

// Attempt implements Strategy.
func (s *SemanticStrategy) Attempt(ctx context.Context, req *Request) (*Result, error) {
	if req.BestPage == nil || req.BestOverlap < s.cfg.MinOverlap {
		return skipped(errLowOverlap), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.extractor.Extract(ctx, extract.Request{
		Text:        snippet(req.BestPage.Title+"\n\n"+req.BestPage.Text(), s.cfg.MaxChars),
		Target:      req.ServiceType.Name,
		Description: req.ServiceType.Description,
		Source:      "page",
	})
	if err != nil {
		return notFound(err), eris.Wrap(err, "semantic: extract")
	}
	if !res.Found {
		return notFound(nil), nil
	}
	return &Result{
		Outcome:     OutcomeFound,
		Observation: draftObservation(req, res.Price, res.Currency, req.BestPage.URL),
	}, nil
}
