package discovery

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/price-discovery/internal/extract"
	"github.com/sells-group/price-discovery/internal/model"
)

// siteFetcher serves pages from a map and records every fetched URL.
type siteFetcher struct {
	mu      sync.Mutex
	pages   map[string]*model.CrawledPage
	fetched []string
}

func newSiteFetcher(pages ...*model.CrawledPage) *siteFetcher {
	f := &siteFetcher{pages: make(map[string]*model.CrawledPage)}
	for _, p := range pages {
		f.pages[p.URL] = p
	}
	return f
}

func (f *siteFetcher) Fetch(_ context.Context, url string) (*model.CrawledPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	p, ok := f.pages[url]
	if !ok {
		return nil, eris.Wrapf(model.ErrFetchFailure, "%s: 404", url)
	}
	cp := *p
	return &cp, nil
}

func (f *siteFetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, req extract.Request) (*extract.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extract.Result), args.Error(1)
}

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, domain, query string) (*SearchAnswer, error) {
	args := m.Called(ctx, domain, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SearchAnswer), args.Error(1)
}

// stubStrategy returns a fixed result and counts calls.
type stubStrategy struct {
	name   string
	result *Result
	err    error
	calls  int
	seen   []*Request
	onCall func(ctx context.Context, req *Request)
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Attempt(ctx context.Context, req *Request) (*Result, error) {
	s.calls++
	cp := *req
	s.seen = append(s.seen, &cp)
	if s.onCall != nil {
		s.onCall(ctx, req)
	}
	return s.result, s.err
}

type recordingWriter struct {
	mu   sync.Mutex
	obs  []model.Observation
	fail error
}

func (w *recordingWriter) InsertObservation(_ context.Context, obs *model.Observation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.obs = append(w.obs, *obs)
	return nil
}

func (w *recordingWriter) Observations() []model.Observation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Observation(nil), w.obs...)
}

func testProvider() model.Provider {
	return model.Provider{
		ID:       "prov-1",
		Name:     "Kwik Garage",
		Category: "garage",
		City:     "Leeds",
		Website:  "https://www.kwikgarage.co.uk",
	}
}

func testServiceType() model.ServiceType {
	return model.ServiceType{Slug: "oil_change", Name: "Oil change", Category: "garage"}
}
