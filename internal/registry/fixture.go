// Package registry loads the catalog fixture (service types, providers and
// seed prices) used to bootstrap a store.
package registry

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/price-discovery/internal/model"
)

// ObservationFixture is one seed price. ServiceType is a slug.
type ObservationFixture struct {
	ProviderID  string           `yaml:"provider_id"`
	ServiceType string           `yaml:"service_type"`
	Price       float64          `yaml:"price"`
	Currency    string           `yaml:"currency"`
	SourceType  model.SourceType `yaml:"source_type"`
	SourceURL   string           `yaml:"source_url"`
	DaysAgo     int              `yaml:"days_ago"`
}

// Fixture is the on-disk catalog bootstrap.
type Fixture struct {
	ServiceTypes []model.ServiceType  `yaml:"service_types"`
	Providers    []model.Provider     `yaml:"providers"`
	Observations []ObservationFixture `yaml:"observations"`
}

// LoadFixture reads a YAML fixture from path and validates it.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read fixture")
	}

	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal fixture")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks references inside the fixture. Service types without a
// slug get one derived from their name.
func (f *Fixture) Validate() error {
	slugs := make(map[string]bool, len(f.ServiceTypes))
	for i := range f.ServiceTypes {
		st := &f.ServiceTypes[i]
		if st.Name == "" {
			return eris.Errorf("registry: service type %d has no name", i)
		}
		if st.Slug == "" {
			st.Slug = model.NameToSlug(st.Name)
		}
		if slugs[st.Slug] {
			return eris.Errorf("registry: duplicate service type %s", st.Slug)
		}
		slugs[st.Slug] = true
	}

	providers := make(map[string]bool, len(f.Providers))
	for i, p := range f.Providers {
		if p.ID == "" || p.Name == "" {
			return eris.Errorf("registry: provider %d needs id and name", i)
		}
		if providers[p.ID] {
			return eris.Errorf("registry: duplicate provider %s", p.ID)
		}
		providers[p.ID] = true
	}

	for i, o := range f.Observations {
		if !providers[o.ProviderID] {
			return eris.Errorf("registry: observation %d references unknown provider %q", i, o.ProviderID)
		}
		if !slugs[o.ServiceType] {
			return eris.Errorf("registry: observation %d references unknown service type %q", i, o.ServiceType)
		}
	}
	return nil
}

// Writer is the store surface Apply needs.
type Writer interface {
	UpsertServiceTypes(ctx context.Context, types []model.ServiceType) error
	UpsertProvider(ctx context.Context, p *model.Provider) error
	ImportObservations(ctx context.Context, obs []model.Observation) (int64, error)
}

// ApplyReport counts what Apply wrote.
type ApplyReport struct {
	ServiceTypes int   `json:"service_types"`
	Providers    int   `json:"providers"`
	Observations int64 `json:"observations"`
}

// Apply upserts the catalog and imports the seed prices. Observations are
// dated relative to now.
func Apply(ctx context.Context, w Writer, f *Fixture, now time.Time) (*ApplyReport, error) {
	report := &ApplyReport{}
	if err := w.UpsertServiceTypes(ctx, f.ServiceTypes); err != nil {
		return report, eris.Wrap(err, "registry: upsert service types")
	}
	report.ServiceTypes = len(f.ServiceTypes)

	for i := range f.Providers {
		if err := w.UpsertProvider(ctx, &f.Providers[i]); err != nil {
			return report, eris.Wrapf(err, "registry: upsert provider %s", f.Providers[i].ID)
		}
		report.Providers++
	}

	if len(f.Observations) == 0 {
		return report, nil
	}
	obs := make([]model.Observation, len(f.Observations))
	for i, o := range f.Observations {
		source := o.SourceType
		if source == "" {
			source = model.SourceManual
		}
		cur := o.Currency
		if cur == "" {
			cur = "GBP"
		}
		obs[i] = model.Observation{
			ProviderID:  o.ProviderID,
			ServiceType: o.ServiceType,
			Price:       o.Price,
			Currency:    model.NormalizeCurrency(cur),
			SourceType:  source,
			SourceURL:   o.SourceURL,
			ObservedAt:  now.Add(-time.Duration(o.DaysAgo) * 24 * time.Hour).UTC(),
		}
	}
	n, err := w.ImportObservations(ctx, obs)
	if err != nil {
		return report, eris.Wrap(err, "registry: import observations")
	}
	report.Observations = n
	return report, nil
}
