package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/metrics"
	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/resilience"
)

// ErrInvalidRequest is returned when a run has no provider or service type.
var ErrInvalidRequest = eris.New("discovery: provider id and service type are required")

// DefaultCascadeTimeout is the ceiling on one full cascade run.
const DefaultCascadeTimeout = 3 * time.Minute

// Run outcomes recorded on the job.
const (
	RunPriceFound  = "price_found"
	RunNoPrice     = "no_price_found"
	RunCircuitOpen = "circuit_open"
	RunStoreError  = "store_error"
)

// ObservationWriter persists found prices.
type ObservationWriter interface {
	InsertObservation(ctx context.Context, obs *model.Observation) error
}

// TierReport records what one tier did.
type TierReport struct {
	Name     string        `json:"name"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a cascade run.
type Report struct {
	Key         model.JobKey       `json:"key"`
	State       model.JobState     `json:"state"`
	Outcome     string             `json:"outcome"`
	Observation *model.Observation `json:"observation,omitempty"`
	Tier        string             `json:"tier,omitempty"`
	Tiers       []TierReport       `json:"tiers"`
	Duration    time.Duration      `json:"duration"`
	// Err is ErrNoPriceFound or ErrCircuitOpen when no price was stored.
	Err error `json:"-"`
}

// Cascade runs the tiers in order and stops at the first price.
type Cascade struct {
	tiers   []Strategy
	store   ObservationWriter
	timeout time.Duration
	now     func() time.Time
}

// NewCascade creates a controller over tiers, cheapest first.
func NewCascade(store ObservationWriter, timeout time.Duration, tiers ...Strategy) *Cascade {
	if timeout <= 0 {
		timeout = DefaultCascadeTimeout
	}
	return &Cascade{tiers: tiers, store: store, timeout: timeout, now: time.Now}
}

// Tiers returns the tier names in run order.
func (c *Cascade) Tiers() []string {
	names := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		names[i] = t.Name()
	}
	return names
}

// Run executes the cascade for one pair. Tier failures never surface: they
// are logged and the next tier runs. The returned error is non-nil only for
// an invalid request or a failed write of a found price.
func (c *Cascade) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Provider.ID == "" || req.ServiceType.Slug == "" {
		return nil, ErrInvalidRequest
	}
	if req.Query == "" {
		req.Query = req.ServiceType.Name
	}
	if len(req.Tokens) == 0 {
		req.Tokens = Tokenize(req.Query)
	}

	start := c.now()
	report := &Report{Key: req.Key()}
	log := zap.L().With(
		zap.String("provider_id", req.Provider.ID),
		zap.String("service_type", req.ServiceType.Slug),
	)

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var found *model.Observation
	guardedTiers, openSkips := 0, 0
	for _, tier := range c.tiers {
		if runCtx.Err() != nil {
			log.Warn("discovery: cascade ceiling reached", zap.String("next_tier", tier.Name()))
			break
		}
		if _, ok := tier.(guarded); ok {
			guardedTiers++
		}

		tierStart := time.Now()
		res, err := tier.Attempt(runCtx, &req)
		tr := TierReport{Name: tier.Name(), Duration: time.Since(tierStart)}
		if res == nil {
			res = notFound(err)
		}
		tr.Outcome = res.Outcome
		switch {
		case err != nil:
			tr.Outcome = OutcomeNotFound
			tr.Error = err.Error()
			log.Warn("discovery: tier failed", zap.String("tier", tier.Name()), zap.Error(err))
		case res.Reason != nil:
			tr.Error = res.Reason.Error()
			log.Debug("discovery: tier miss", zap.String("tier", tier.Name()),
				zap.String("outcome", string(res.Outcome)), zap.Error(res.Reason))
		}
		report.Tiers = append(report.Tiers, tr)
		metrics.IncTierAttempt(tier.Name(), string(tr.Outcome))

		if res.Outcome == OutcomeSkip && errors.Is(res.Reason, resilience.ErrCircuitOpen) {
			openSkips++
		}
		if res.Page != nil && (req.BestPage == nil || res.Overlap > req.BestOverlap) {
			req.BestPage, req.BestOverlap = res.Page, res.Overlap
		}
		if tr.Outcome == OutcomeFound && res.Observation != nil {
			found = res.Observation
			report.Tier = tier.Name()
			break
		}
	}

	defer func() {
		report.Duration = c.now().Sub(start)
		metrics.ObserveCascade(report.Outcome, report.Duration)
	}()

	if found == nil {
		if guardedTiers > 0 && openSkips == guardedTiers {
			report.State, report.Outcome = model.JobFailed, RunCircuitOpen
			report.Err = model.ErrCircuitOpen
		} else {
			report.State, report.Outcome = model.JobExhausted, RunNoPrice
			report.Err = model.ErrNoPriceFound
		}
		log.Info("discovery: no price found", zap.String("outcome", report.Outcome), zap.Int("tiers", len(report.Tiers)))
		return report, nil
	}

	found.ID = uuid.NewString()
	found.ObservedAt = c.now().UTC()
	if err := found.Validate(); err != nil {
		report.State, report.Outcome = model.JobExhausted, RunNoPrice
		report.Err = model.ErrNoPriceFound
		log.Warn("discovery: discarding invalid price", zap.String("tier", report.Tier), zap.Error(err))
		return report, nil
	}
	// The write uses the caller's context so a price found just before the
	// ceiling is still stored.
	if err := c.store.InsertObservation(ctx, found); err != nil {
		report.State, report.Outcome = model.JobFailed, RunStoreError
		report.Err = err
		return report, eris.Wrap(err, "discovery: insert observation")
	}

	report.State, report.Outcome = model.JobSucceeded, RunPriceFound
	report.Observation = found
	log.Info("discovery: price stored",
		zap.String("tier", report.Tier),
		zap.Float64("price", found.Price),
		zap.String("currency", found.Currency),
		zap.String("source_url", found.SourceURL),
	)
	return report, nil
}
