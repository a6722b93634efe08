package discovery

import (
	"context"

	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/resilience"
)

// Outcome is the tri-state result of one tier.
type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeSkip     Outcome = "skip"
)

// Request is one cascade run for a (provider, service type) pair. Tiers
// read BestPage and BestOverlap left by earlier tiers.
type Request struct {
	Provider    model.Provider
	ServiceType model.ServiceType
	Query       string
	Tokens      []string

	BestPage    *model.CrawledPage
	BestOverlap int
}

// Key returns the job key for the pair.
func (r *Request) Key() model.JobKey {
	return model.JobKey{ProviderID: r.Provider.ID, ServiceType: r.ServiceType.Slug}
}

// Result is what a tier reports back to the controller.
type Result struct {
	Outcome Outcome
	// Observation is a draft (no ID or timestamp) when Outcome is found.
	Observation *model.Observation
	// Page is the best-ranked page the tier saw, with its token overlap.
	Page    *model.CrawledPage
	Overlap int
	// Reason explains a skip or miss; ErrCircuitOpen for breaker skips.
	Reason error
}

// Strategy is one tier of the cascade.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req *Request) (*Result, error)
}

// guarded is implemented by tiers that sit behind a circuit breaker.
type guarded interface {
	Breaker() *resilience.CircuitBreaker
}

func notFound(reason error) *Result {
	return &Result{Outcome: OutcomeNotFound, Reason: reason}
}

func skipped(reason error) *Result {
	return &Result{Outcome: OutcomeSkip, Reason: reason}
}

func draftObservation(req *Request, price float64, currency, sourceURL string) *model.Observation {
	return &model.Observation{
		ProviderID:  req.Provider.ID,
		ServiceType: req.ServiceType.Slug,
		Price:       price,
		Currency:    currency,
		SourceType:  model.SourceScrape,
		SourceURL:   sourceURL,
	}
}
