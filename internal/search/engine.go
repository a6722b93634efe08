package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/price-discovery/internal/embed"
	"github.com/sells-group/price-discovery/internal/metrics"
	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/store"
)

// ErrInvalidQuery is returned for empty text or out-of-range coordinates.
var ErrInvalidQuery = eris.New("search: invalid query")

// Store is the read side the engine needs.
type Store interface {
	GetServiceType(ctx context.Context, slug string) (*model.ServiceType, error)
	MatchServiceTypesText(ctx context.Context, query string, limit int) ([]store.ScoredServiceType, error)
	MatchServiceTypesVector(ctx context.Context, embedding []float32, limit int) ([]store.ScoredServiceType, error)
	FindProvidersWithObservations(ctx context.Context, q store.GeoQuery) ([]store.ProviderMatch, error)
	FindProvidersByCategory(ctx context.Context, q store.GeoQuery) ([]store.ProviderMatch, error)
}

// DiscoveryTrigger starts (or attaches to) background price discovery.
type DiscoveryTrigger interface {
	Trigger(ctx context.Context, provider model.Provider, st model.ServiceType, query string) (model.DiscoveryJob, bool, error)
}

// InquiryTrigger queues a price inquiry email for an unpriced provider and
// returns the id the inquiry will be stored under.
type InquiryTrigger interface {
	Enqueue(ctx context.Context, provider model.Provider, st model.ServiceType) (string, error)
}

// Config tunes the engine.
type Config struct {
	Thresholds            Thresholds
	MatchLimit            int
	ProviderLimit         int
	DefaultRadiusMeters   float64
	MaxRadiusMeters       float64
	MaxDiscoveryProviders int
	IntentTimeout         time.Duration
	AutoInquire           bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds:            DefaultThresholds(),
		MatchLimit:            store.DefaultMatchLimit,
		ProviderLimit:         store.DefaultProviderLimit,
		DefaultRadiusMeters:   5000,
		MaxRadiusMeters:       50000,
		MaxDiscoveryProviders: 10,
		IntentTimeout:         5 * time.Second,
	}
}

// Query is one user search.
type Query struct {
	Text         string  `json:"q"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	RadiusMeters float64 `json:"radius"`
}

// ObservationSummary is one price shown for a provider.
type ObservationSummary struct {
	ServiceType string           `json:"service_type"`
	Price       float64          `json:"price"`
	Currency    string           `json:"currency"`
	SourceType  model.SourceType `json:"source_type"`
	ObservedAt  time.Time        `json:"observed_at"`
}

// ProviderResult is one provider group in the response.
type ProviderResult struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name"`
	Category           string               `json:"category"`
	CategoryLabel      string               `json:"category_label"`
	Address            string               `json:"address"`
	City               string               `json:"city"`
	Location           model.Point          `json:"location"`
	DistanceMeters     float64              `json:"distance_meters"`
	Observations       []ObservationSummary `json:"observations"`
	ScrapingInProgress bool                 `json:"scraping_in_progress"`

	provider model.Provider
}

// Response is the search result.
type Response struct {
	Query               string               `json:"query"`
	CanonicalName       string               `json:"canonical_name"`
	MatchedServiceTypes []MatchedServiceType `json:"matched_service_types"`
	Results             []ProviderResult     `json:"results"`
	DiscoveryTriggered  bool                 `json:"discovery_triggered"`
}

// Engine runs hybrid searches.
type Engine struct {
	store     Store
	embedder  embed.Embedder
	intent    IntentResolver
	discovery DiscoveryTrigger
	inquiries InquiryTrigger
	cfg       Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmbedder enables the vector matcher.
func WithEmbedder(e embed.Embedder) Option { return func(en *Engine) { en.embedder = e } }

// WithIntentResolver enables LLM intent resolution.
func WithIntentResolver(r IntentResolver) Option { return func(en *Engine) { en.intent = r } }

// WithDiscovery schedules discovery for unpriced providers.
func WithDiscovery(d DiscoveryTrigger) Option { return func(en *Engine) { en.discovery = d } }

// WithInquiries queues inquiries for unpriced providers when cfg.AutoInquire is set.
func WithInquiries(i InquiryTrigger) Option { return func(en *Engine) { en.inquiries = i } }

// NewEngine creates a search engine.
func NewEngine(s Store, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.MatchLimit <= 0 {
		cfg.MatchLimit = def.MatchLimit
	}
	if cfg.ProviderLimit <= 0 {
		cfg.ProviderLimit = def.ProviderLimit
	}
	if cfg.DefaultRadiusMeters <= 0 {
		cfg.DefaultRadiusMeters = def.DefaultRadiusMeters
	}
	if cfg.MaxRadiusMeters <= 0 {
		cfg.MaxRadiusMeters = def.MaxRadiusMeters
	}
	if cfg.MaxDiscoveryProviders <= 0 {
		cfg.MaxDiscoveryProviders = def.MaxDiscoveryProviders
	}
	if cfg.IntentTimeout <= 0 {
		cfg.IntentTimeout = def.IntentTimeout
	}
	e := &Engine{store: s, cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) normalize(q Query) (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, eris.Wrap(ErrInvalidQuery, "empty text")
	}
	if q.Lat < -90 || q.Lat > 90 || q.Lng < -180 || q.Lng > 180 {
		return q, eris.Wrapf(ErrInvalidQuery, "coordinates out of range (%v, %v)", q.Lat, q.Lng)
	}
	if q.RadiusMeters <= 0 {
		q.RadiusMeters = e.cfg.DefaultRadiusMeters
	}
	q.RadiusMeters = min(q.RadiusMeters, e.cfg.MaxRadiusMeters)
	return q, nil
}

// Search runs the matchers, the geo join and the discovery side effects.
// Only store failures on the geo join are returned; matcher, intent and
// scheduling failures degrade.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()
	q, err := e.normalize(q)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("query", q.Text))

	textMatches, vectorMatches := e.match(ctx, q.Text)
	merged := Merge(textMatches, vectorMatches, e.cfg.Thresholds)
	merged, name := e.resolveIntent(ctx, q.Text, merged)

	resp := &Response{Query: q.Text, CanonicalName: name, MatchedServiceTypes: merged}
	if resp.MatchedServiceTypes == nil {
		resp.MatchedServiceTypes = []MatchedServiceType{}
	}
	resp.Results = []ProviderResult{}

	geo := store.GeoQuery{
		Center:       model.Point{Lat: q.Lat, Lng: q.Lng},
		RadiusMeters: q.RadiusMeters,
		Limit:        e.cfg.ProviderLimit,
	}
	for _, m := range merged {
		geo.Slugs = append(geo.Slugs, m.Slug)
	}

	var matches []store.ProviderMatch
	if len(geo.Slugs) > 0 {
		matches, err = e.store.FindProvidersWithObservations(ctx, geo)
		if err != nil {
			return nil, eris.Wrap(err, "search: providers with observations")
		}
	}
	grouped := len(matches) > 0
	if !grouped && len(geo.Slugs) > 0 {
		geo.Categories = candidateCategories(merged)
		matches, err = e.store.FindProvidersByCategory(ctx, geo)
		if err != nil {
			return nil, eris.Wrap(err, "search: providers by category")
		}
	}

	for _, m := range matches {
		resp.Results = append(resp.Results, toResult(m))
	}
	e.resolveCategoryLabels(ctx, resp.Results, merged)

	if len(merged) > 0 {
		scheduled := e.scheduleUnpriced(ctx, resp.Results, merged[0].ServiceType(), name)
		resp.DiscoveryTriggered = !grouped && scheduled > 0
	}

	metrics.ObserveSearch(time.Since(start), resp.DiscoveryTriggered)
	log.Debug("search: done",
		zap.Int("service_types", len(merged)),
		zap.Int("providers", len(resp.Results)),
		zap.Bool("discovery_triggered", resp.DiscoveryTriggered),
	)
	return resp, nil
}

// match runs the lexical and vector matchers concurrently. A failing
// matcher contributes nothing.
func (e *Engine) match(ctx context.Context, text string) (textMatches, vectorMatches []store.ScoredServiceType) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := e.store.MatchServiceTypesText(gctx, text, e.cfg.MatchLimit)
		if err != nil {
			zap.L().Warn("search: text matcher failed", zap.Error(err))
			return nil
		}
		textMatches = res
		return nil
	})
	if e.embedder != nil {
		g.Go(func() error {
			vec, err := embed.EmbedOne(gctx, e.embedder, text)
			if err != nil {
				zap.L().Warn("search: query embedding failed", zap.Error(err))
				return nil
			}
			res, err := e.store.MatchServiceTypesVector(gctx, vec, e.cfg.MatchLimit)
			if err != nil {
				zap.L().Warn("search: vector matcher failed", zap.Error(err))
				return nil
			}
			vectorMatches = res
			return nil
		})
	}
	_ = g.Wait()
	return textMatches, vectorMatches
}

// resolveIntent narrows candidates with the intent resolver and returns the
// canonical service name. If the canonical slug is in the catalog it leads
// the list as an exact text match.
func (e *Engine) resolveIntent(ctx context.Context, query string, candidates []MatchedServiceType) ([]MatchedServiceType, string) {
	name := titleCase(query)
	if e.intent == nil {
		return candidates, name
	}

	ictx, cancel := context.WithTimeout(ctx, e.cfg.IntentTimeout)
	defer cancel()
	in, err := e.intent.Resolve(ictx, query, candidates)
	if err != nil {
		zap.L().Warn("search: intent resolution failed, keeping candidates", zap.Error(err))
		return candidates, name
	}
	validated := filterRelevant(candidates, in.RelevantSlugs)

	slug := model.NameToSlug(in.Name)
	for _, m := range validated {
		if m.Slug == slug {
			return validated, in.Name
		}
	}
	st, err := e.store.GetServiceType(ctx, slug)
	switch {
	case err == nil:
		validated = append([]MatchedServiceType{{
			Slug:        st.Slug,
			Name:        st.Name,
			Category:    st.Category,
			MatchSource: MatchText,
			Score:       1.0,
			TextScore:   1.0,
			serviceType: *st,
		}}, validated...)
	case !errors.Is(err, model.ErrNotFound):
		zap.L().Warn("search: canonical service lookup failed", zap.String("slug", slug), zap.Error(err))
	}
	return validated, in.Name
}

// scheduleUnpriced fires discovery (and optionally an inquiry) for results
// with no observations and marks those with an active job. It returns how
// many results have discovery in progress.
func (e *Engine) scheduleUnpriced(ctx context.Context, results []ProviderResult, st model.ServiceType, query string) int {
	if e.discovery == nil {
		return 0
	}
	inProgress, attempted := 0, 0
	for i := range results {
		r := &results[i]
		if len(r.Observations) > 0 {
			continue
		}
		if attempted == e.cfg.MaxDiscoveryProviders {
			break
		}
		attempted++

		job, acquired, err := e.discovery.Trigger(ctx, r.provider, st, query)
		if err != nil {
			zap.L().Warn("search: discovery trigger failed", zap.String("provider_id", r.ID), zap.Error(err))
			continue
		}
		if acquired || job.Active() {
			r.ScrapingInProgress = true
			inProgress++
		}
		if e.cfg.AutoInquire && e.inquiries != nil && r.provider.Website != "" {
			if _, err := e.inquiries.Enqueue(ctx, r.provider, st); err != nil {
				zap.L().Debug("search: inquiry not queued", zap.String("provider_id", r.ID), zap.Error(err))
			}
		}
	}
	return inProgress
}

func (e *Engine) resolveCategoryLabels(ctx context.Context, results []ProviderResult, merged []MatchedServiceType) {
	labels := make(map[string]string)
	for _, m := range merged {
		labels[m.Slug] = m.Name
	}
	for i := range results {
		cat := results[i].Category
		if cat == "" {
			continue
		}
		label, ok := labels[cat]
		if !ok {
			label = model.SlugToLabel(cat)
			if st, err := e.store.GetServiceType(ctx, cat); err == nil {
				label = st.Name
			}
			labels[cat] = label
		}
		results[i].CategoryLabel = label
	}
}

func candidateCategories(merged []MatchedServiceType) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, m := range merged {
		add(m.Slug)
		add(m.Category)
	}
	return out
}

func toResult(m store.ProviderMatch) ProviderResult {
	r := ProviderResult{
		ID:             m.Provider.ID,
		Name:           m.Provider.Name,
		Category:       m.Provider.Category,
		Address:        m.Provider.Address,
		City:           m.Provider.City,
		Location:       m.Provider.Location,
		DistanceMeters: m.DistanceMeters,
		Observations:   []ObservationSummary{},
		provider:       m.Provider,
	}
	for _, o := range m.Observations {
		r.Observations = append(r.Observations, ObservationSummary{
			ServiceType: o.ServiceType,
			Price:       o.Price,
			Currency:    o.Currency,
			SourceType:  o.SourceType,
			ObservedAt:  o.ObservedAt,
		})
	}
	return r
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
