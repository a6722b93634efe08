// Package store persists the service catalog, providers, price observations
// and inquiries, and answers the geo and similarity queries behind search.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/sells-group/price-discovery/internal/model"
)

// ScoredServiceType is a service type with a match score in [0, 1].
type ScoredServiceType struct {
	ServiceType model.ServiceType `json:"service_type"`
	Score       float64           `json:"score"`
}

// GeoQuery selects providers near a point.
type GeoQuery struct {
	Slugs        []string
	Categories   []string
	Center       model.Point
	RadiusMeters float64
	Limit        int
}

// ProviderMatch is a provider within the search radius, with the
// observations it has for the requested service types.
type ProviderMatch struct {
	Provider       model.Provider      `json:"provider"`
	DistanceMeters float64             `json:"distance_meters"`
	Observations   []model.Observation `json:"observations"`
}

// Store defines the persistence interface for price discovery.
type Store interface {
	// Catalog
	UpsertServiceTypes(ctx context.Context, types []model.ServiceType) error
	GetServiceType(ctx context.Context, slug string) (*model.ServiceType, error)
	ListServiceTypes(ctx context.Context) ([]model.ServiceType, error)
	ReplaceEmbedding(ctx context.Context, slug string, embedding []float32, at time.Time) error

	// Providers
	UpsertProvider(ctx context.Context, p *model.Provider) error
	GetProvider(ctx context.Context, id string) (*model.Provider, error)

	// Matching
	MatchServiceTypesText(ctx context.Context, query string, limit int) ([]ScoredServiceType, error)
	MatchServiceTypesVector(ctx context.Context, embedding []float32, limit int) ([]ScoredServiceType, error)
	FindProvidersWithObservations(ctx context.Context, q GeoQuery) ([]ProviderMatch, error)
	FindProvidersByCategory(ctx context.Context, q GeoQuery) ([]ProviderMatch, error)

	// Observations are insert-only.
	InsertObservation(ctx context.Context, obs *model.Observation) error
	ImportObservations(ctx context.Context, obs []model.Observation) (int64, error)

	// Inquiries
	CreateInquiry(ctx context.Context, inq *model.Inquiry) error
	FindInquiryByMessageID(ctx context.Context, messageIDs []string) (*model.Inquiry, error)
	ListInquiries(ctx context.Context, providerID string) ([]model.Inquiry, error)
	RecordReply(ctx context.Context, inquiryID, replyMessageID string, at time.Time, obs *model.Observation) (bool, error)
	ExpireInquiries(ctx context.Context, sentBefore time.Time) (int64, error)

	// Page cache
	GetCachedPage(ctx context.Context, url string) (*model.CrawledPage, error)
	SetCachedPage(ctx context.Context, page model.CrawledPage, ttl time.Duration) error
	DeleteExpiredPages(ctx context.Context) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// DefaultMatchLimit caps each matcher's candidate list.
const DefaultMatchLimit = 10

// DefaultProviderLimit caps providers returned by a geo query.
const DefaultProviderLimit = 50

// providerRow is one provider/observation pair from a geo join.
type providerRow struct {
	provider model.Provider
	distance float64
	obs      *model.Observation
}

// groupProviderRows folds joined rows into one match per provider, ordered
// by distance ascending with provider id breaking ties, capped at limit.
func groupProviderRows(rows []providerRow, limit int) []ProviderMatch {
	index := make(map[string]int)
	var out []ProviderMatch
	for _, r := range rows {
		i, ok := index[r.provider.ID]
		if !ok {
			i = len(out)
			index[r.provider.ID] = i
			out = append(out, ProviderMatch{Provider: r.provider, DistanceMeters: r.distance})
		}
		if r.obs != nil {
			out[i].Observations = append(out[i].Observations, *r.obs)
		}
	}
	SortMatches(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortMatches orders matches by distance, then provider id.
func SortMatches(ms []ProviderMatch) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].DistanceMeters != ms[j].DistanceMeters {
			return ms[i].DistanceMeters < ms[j].DistanceMeters
		}
		return ms[i].Provider.ID < ms[j].Provider.ID
	})
}

// sortScored orders scores descending with slug ascending as the tiebreak.
func sortScored(s []ScoredServiceType) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].ServiceType.Slug < s[j].ServiceType.Slug
	})
}

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
