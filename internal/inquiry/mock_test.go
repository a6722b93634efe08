package inquiry

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/price-discovery/internal/extract"
	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/store"
	"github.com/sells-group/price-discovery/pkg/mail"
)

var testNow = time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)

func testProvider() model.Provider {
	return model.Provider{ID: "prov-1", Name: "Kwik Garage", City: "Leeds", Website: "https://www.kwikgarage.co.uk"}
}

func testServiceType() model.ServiceType {
	return model.ServiceType{Slug: "oil_change", Name: "Oil change", Category: "car_mechanic"}
}

// pageFetcher serves fixed HTML per URL.
type pageFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (f *pageFetcher) Fetch(_ context.Context, url string) (*model.CrawledPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	html, ok := f.pages[url]
	if !ok {
		return nil, eris.Wrapf(model.ErrFetchFailure, "404 %s", url)
	}
	return &model.CrawledPage{URL: url, HTML: html, StatusCode: 200}, nil
}

type memStore struct {
	mu          sync.Mutex
	inquiries   map[string]*model.Inquiry
	obs         []model.Observation
	catalog     map[string]model.ServiceType
	findErr     error
	expireCalls []time.Time
}

func newMemStore() *memStore {
	return &memStore{
		inquiries: map[string]*model.Inquiry{},
		catalog:   map[string]model.ServiceType{"oil_change": testServiceType()},
	}
}

func (s *memStore) GetServiceType(_ context.Context, slug string) (*model.ServiceType, error) {
	st, ok := s.catalog[slug]
	if !ok {
		return nil, eris.Wrap(model.ErrNotFound, slug)
	}
	return &st, nil
}

func (s *memStore) CreateInquiry(_ context.Context, inq *model.Inquiry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inq
	s.inquiries[inq.ID] = &cp
	return nil
}

func (s *memStore) FindInquiryByMessageID(_ context.Context, ids []string) (*model.Inquiry, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		for _, inq := range s.inquiries {
			if inq.MessageID == id {
				cp := *inq
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (s *memStore) ListInquiries(_ context.Context, providerID string) ([]model.Inquiry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Inquiry
	for _, inq := range s.inquiries {
		if inq.ProviderID == providerID {
			out = append(out, *inq)
		}
	}
	return out, nil
}

// FindProvidersWithObservations matches stored observations by slug; every
// provider is treated as inside the radius.
func (s *memStore) FindProvidersWithObservations(_ context.Context, q store.GeoQuery) ([]store.ProviderMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slugs := make(map[string]bool, len(q.Slugs))
	for _, slug := range q.Slugs {
		slugs[slug] = true
	}
	idx := map[string]int{}
	var out []store.ProviderMatch
	for _, o := range s.obs {
		if !slugs[o.ServiceType] {
			continue
		}
		i, ok := idx[o.ProviderID]
		if !ok {
			i = len(out)
			idx[o.ProviderID] = i
			out = append(out, store.ProviderMatch{Provider: model.Provider{ID: o.ProviderID}})
		}
		out[i].Observations = append(out[i].Observations, o)
	}
	return out, nil
}

func (s *memStore) RecordReply(_ context.Context, id, replyID string, at time.Time, obs *model.Observation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inq, ok := s.inquiries[id]
	if !ok || inq.Status != model.InquirySent {
		return false, nil
	}
	if err := inq.Transition(model.InquiryReplied, at); err != nil {
		return false, err
	}
	inq.ReplyMessageID = replyID
	if obs != nil {
		s.obs = append(s.obs, *obs)
	}
	return true, nil
}

func (s *memStore) ExpireInquiries(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireCalls = append(s.expireCalls, before)
	var n int64
	for _, inq := range s.inquiries {
		if inq.Status == model.InquirySent && inq.SentAt.Before(before) {
			inq.Status = model.InquiryExpired
			n++
		}
	}
	return n, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []mail.OutboundMessage
	err  error
	seq  int
}

func (f *fakeSender) Send(_ context.Context, msg *mail.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.seq++
	f.sent = append(f.sent, *msg)
	return "<out-" + string(rune('0'+f.seq)) + "@example.org>", nil
}

type fakeInbox struct {
	msgs  []mail.InboundMessage
	acked []uint32
}

func (f *fakeInbox) PollNewMessages(context.Context) ([]mail.InboundMessage, error) {
	return f.msgs, nil
}

func (f *fakeInbox) Ack(_ context.Context, uids []uint32) error {
	f.acked = append(f.acked, uids...)
	return nil
}

type staticContacts struct {
	addr string
	err  error
}

func (s staticContacts) Find(context.Context, string) (string, error) { return s.addr, s.err }

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) Extract(ctx context.Context, req extract.Request) (*extract.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extract.Result), args.Error(1)
}
