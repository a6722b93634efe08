package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/extract"
	"github.com/sells-group/price-discovery/internal/resilience"
	"github.com/sells-group/price-discovery/pkg/jina"
	"github.com/sells-group/price-discovery/pkg/perplexity"
)

var errNoDomainSources = eris.New("discovery: search returned no sources on the provider's domain")

// SearchAnswer is an external search result: free text plus the URLs it
// was drawn from.
type SearchAnswer struct {
	Text       string
	SourceURLs []string
}

// Searcher runs a web search restricted to one registrable domain.
type Searcher interface {
	Search(ctx context.Context, domain, query string) (*SearchAnswer, error)
}

const perplexitySystemPrompt = `You find published prices for local services. Only use pages on the domain you are given. Quote the price exactly as published, including the currency symbol. If the site does not publish a price for the service, say so.`

// PerplexitySearcher answers with Perplexity's search-grounded chat model.
type PerplexitySearcher struct {
	client perplexity.Client
}

// NewPerplexitySearcher wraps a Perplexity client.
func NewPerplexitySearcher(client perplexity.Client) *PerplexitySearcher {
	return &PerplexitySearcher{client: client}
}

// Search implements Searcher.
func (p *PerplexitySearcher) Search(ctx context.Context, domain, query string) (*SearchAnswer, error) {
	temp := 0.0
	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: perplexitySystemPrompt},
			{Role: "user", Content: fmt.Sprintf("%s\nOnly use information published on %s.", query, domain)},
		},
		Temperature:        &temp,
		SearchDomainFilter: []string{domain},
	})
	if err != nil {
		return nil, eris.Wrap(err, "perplexity searcher")
	}
	return &SearchAnswer{Text: resp.Answer(), SourceURLs: resp.SourceURLs()}, nil
}

// maxJinaResults caps how many search hits are folded into the answer text.
const maxJinaResults = 5

// JinaSearcher uses Jina's site-filtered web search.
type JinaSearcher struct {
	client jina.Client
}

// NewJinaSearcher wraps a Jina client.
func NewJinaSearcher(client jina.Client) *JinaSearcher {
	return &JinaSearcher{client: client}
}

// Search implements Searcher. Only hits hosted on domain contribute text.
func (j *JinaSearcher) Search(ctx context.Context, domain, query string) (*SearchAnswer, error) {
	resp, err := j.client.Search(ctx, query, jina.WithSiteFilter(domain))
	if err != nil {
		return nil, eris.Wrap(err, "jina searcher")
	}
	ans := &SearchAnswer{}
	var b strings.Builder
	for _, r := range resp.Data {
		if len(ans.SourceURLs) == maxJinaResults {
			break
		}
		if !OnDomain(r.URL, domain) {
			continue
		}
		ans.SourceURLs = append(ans.SourceURLs, r.URL)
		fmt.Fprintf(&b, "## %s\n%s\n%s\n\n", r.Title, r.Description, r.Content)
	}
	ans.Text = strings.TrimSpace(b.String())
	return ans, nil
}

// FallbackStrategy asks an external search dependency for the price, scoped
// to the provider's domain, behind that dependency's circuit breaker.
type FallbackStrategy struct {
	name      string
	searcher  Searcher
	breaker   *resilience.CircuitBreaker
	extractor extract.PriceExtractor
	timeout   time.Duration
}

// NewFallbackStrategy creates a third-tier strategy named after its
// dependency ("perplexity", "jina"). The search call and the extraction of
// its answer are each bounded by timeout.
func NewFallbackStrategy(name string, searcher Searcher, breaker *resilience.CircuitBreaker, extractor extract.PriceExtractor, timeout time.Duration) *FallbackStrategy {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &FallbackStrategy{
		name:      name,
		searcher:  searcher,
		breaker:   breaker,
		extractor: extractor,
		timeout:   timeout,
	}
}

// Name implements Strategy.
func (f *FallbackStrategy) Name() string { return "fallback_" + f.name }

// Breaker implements guarded.
func (f *FallbackStrategy) Breaker() *resilience.CircuitBreaker { return f.breaker }

// Attempt implements Strategy.
func (f *FallbackStrategy) Attempt(ctx context.Context, req *Request) (*Result, error) {
	domain := RegistrableDomain(req.Provider.Website)
	if domain == "" {
		return skipped(errNoWebsite), nil
	}
	if err := f.breaker.Allow(); err != nil {
		return skipped(err), nil
	}
	log := zap.L().With(zap.String("strategy", f.Name()), zap.String("domain", domain))

	query := fmt.Sprintf("How much does %s in %s charge for %s?", req.Provider.Name, req.Provider.City, req.ServiceType.Name)
	if req.Provider.City == "" {
		query = fmt.Sprintf("How much does %s charge for %s?", req.Provider.Name, req.ServiceType.Name)
	}

	ans, err := resilience.ExecuteVal(ctx, f.breaker, func(ctx context.Context) (*SearchAnswer, error) {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		return f.searcher.Search(sctx, domain, query)
	})
	if err != nil {
		if eris.Is(err, resilience.ErrCircuitOpen) {
			return skipped(err), nil
		}
		return notFound(err), eris.Wrapf(err, "%s: search", f.Name())
	}

	var sources []string
	for _, u := range ans.SourceURLs {
		if OnDomain(u, domain) {
			sources = append(sources, u)
		}
	}
	if len(sources) == 0 || strings.TrimSpace(ans.Text) == "" {
		log.Debug("fallback: no on-domain sources", zap.Int("sources", len(ans.SourceURLs)))
		return notFound(errNoDomainSources), nil
	}

	ectx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	res, err := f.extractor.Extract(ectx, extract.Request{
		Text:        ans.Text,
		Target:      req.ServiceType.Name,
		Description: req.ServiceType.Description,
		Source:      "search_answer",
	})
	if err != nil {
		return notFound(err), eris.Wrapf(err, "%s: extract", f.Name())
	}
	if !res.Found {
		return notFound(nil), nil
	}
	return &Result{
		Outcome:     OutcomeFound,
		Observation: draftObservation(req, res.Price, res.Currency, sources[0]),
	}, nil
}
