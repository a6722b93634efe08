package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-discovery/internal/extract"
	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/resilience"
	"github.com/sells-group/price-discovery/pkg/jina"
	jinamocks "github.com/sells-group/price-discovery/pkg/jina/mocks"
	"github.com/sells-group/price-discovery/pkg/perplexity"
	perplexitymocks "github.com/sells-group/price-discovery/pkg/perplexity/mocks"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testBreaker(name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: name}).
		WithClock(func() time.Time { return testNow })
}

func fallbackRequest() *Request {
	return &Request{Provider: testProvider(), ServiceType: testServiceType(), Tokens: Tokenize("oil change")}
}

func TestFallback_OpenBreakerSkipsWithoutCall(t *testing.T) {
	s := &mockSearcher{}
	ex := &mockExtractor{}
	cb := testBreaker("perplexity")
	cb.Trip()

	f := NewFallbackStrategy("perplexity", s, cb, ex, time.Second)
	res, err := f.Attempt(context.Background(), fallbackRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkip, res.Outcome)
	assert.ErrorIs(t, res.Reason, model.ErrCircuitOpen)
	s.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
	ex.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestFallback_TimeoutTripsBreaker(t *testing.T) {
	s := &mockSearcher{}
	s.On("Search", mock.Anything, "kwikgarage.co.uk", mock.Anything).Return(nil, context.DeadlineExceeded)
	cb := testBreaker("perplexity")

	f := NewFallbackStrategy("perplexity", s, cb, &mockExtractor{}, time.Second)
	res, err := f.Attempt(context.Background(), fallbackRequest())
	require.Error(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, resilience.CircuitOpen, cb.State())
	assert.Equal(t, testNow.Add(120*time.Second), cb.OpenUntil())

	// The next attempt inside the cooldown makes no call.
	res, err = f.Attempt(context.Background(), fallbackRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkip, res.Outcome)
	s.AssertNumberOfCalls(t, "Search", 1)
}

func TestFallback_NonTimeoutErrorLeavesBreakerClosed(t *testing.T) {
	s := &mockSearcher{}
	s.On("Search", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(assert.AnError, 503))
	cb := testBreaker("jina")

	f := NewFallbackStrategy("jina", s, cb, &mockExtractor{}, time.Second)
	res, err := f.Attempt(context.Background(), fallbackRequest())
	require.Error(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, resilience.CircuitClosed, cb.State())
}

func TestFallback_RejectsOffDomainSources(t *testing.T) {
	s := &mockSearcher{}
	s.On("Search", mock.Anything, "kwikgarage.co.uk", mock.Anything).Return(&SearchAnswer{
		Text:       "Kwik Garage charges £45 for an oil change.",
		SourceURLs: []string{"https://yell.com/kwik-garage", "https://garage-prices.example.com/leeds"},
	}, nil)
	ex := &mockExtractor{}

	f := NewFallbackStrategy("perplexity", s, testBreaker("perplexity"), ex, time.Second)
	res, err := f.Attempt(context.Background(), fallbackRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.ErrorIs(t, res.Reason, errNoDomainSources)
	ex.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestFallback_FoundUsesFirstOnDomainSource(t *testing.T) {
	s := &mockSearcher{}
	s.On("Search", mock.Anything, "kwikgarage.co.uk", mock.MatchedBy(func(q string) bool {
		return q == "How much does Kwik Garage in Leeds charge for Oil change?"
	})).Return(&SearchAnswer{
		Text:       "An oil change at Kwik Garage costs £45.",
		SourceURLs: []string{"https://yell.com/kwik", "https://www.kwikgarage.co.uk/prices"},
	}, nil)
	ex := &mockExtractor{}
	ex.On("Extract", mock.Anything, mock.MatchedBy(func(r extract.Request) bool {
		return r.Source == "search_answer" && r.Target == "Oil change"
	})).Return(&extract.Result{Found: true, Price: 45, Currency: "GBP"}, nil)

	f := NewFallbackStrategy("perplexity", s, testBreaker("perplexity"), ex, time.Second)
	res, err := f.Attempt(context.Background(), fallbackRequest())
	require.NoError(t, err)
	require.Equal(t, OutcomeFound, res.Outcome)
	assert.Equal(t, 45.0, res.Observation.Price)
	assert.Equal(t, "https://www.kwikgarage.co.uk/prices", res.Observation.SourceURL)
	assert.Equal(t, model.SourceScrape, res.Observation.SourceType)
	assert.Equal(t, "fallback_perplexity", f.Name())
}

func TestFallback_ExtractionIsBounded(t *testing.T) {
	s := &mockSearcher{}
	s.On("Search", mock.Anything, "kwikgarage.co.uk", mock.Anything).Return(&SearchAnswer{
		Text:       "Oil change £45.",
		SourceURLs: []string{"https://www.kwikgarage.co.uk/prices"},
	}, nil)
	ex := &mockExtractor{}
	ex.On("Extract", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		deadline, ok := ctx.Deadline()
		assert.True(t, ok, "extraction context has no deadline")
		assert.WithinDuration(t, time.Now().Add(20*time.Millisecond), deadline, time.Second)
		<-ctx.Done()
	}).Return(nil, context.DeadlineExceeded)

	f := NewFallbackStrategy("perplexity", s, testBreaker("perplexity"), ex, 20*time.Millisecond)
	start := time.Now()
	res, err := f.Attempt(context.Background(), fallbackRequest())
	require.Error(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFallback_NoWebsiteSkips(t *testing.T) {
	req := fallbackRequest()
	req.Provider.Website = ""
	f := NewFallbackStrategy("jina", &mockSearcher{}, testBreaker("jina"), &mockExtractor{}, time.Second)
	res, err := f.Attempt(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkip, res.Outcome)
}

func TestPerplexitySearcher_ScopesToDomain(t *testing.T) {
	m := perplexitymocks.NewMockClient(t)
	m.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return len(req.SearchDomainFilter) == 1 && req.SearchDomainFilter[0] == "kwikgarage.co.uk" &&
			len(req.Messages) == 2 && req.Messages[0].Role == "system"
	})).Return(&perplexity.ChatCompletionResponse{
		Choices:   []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: "£45"}}},
		Citations: []string{"https://kwikgarage.co.uk/prices"},
	}, nil)

	ans, err := NewPerplexitySearcher(m).Search(context.Background(), "kwikgarage.co.uk", "oil change price")
	require.NoError(t, err)
	assert.Equal(t, "£45", ans.Text)
	assert.Equal(t, []string{"https://kwikgarage.co.uk/prices"}, ans.SourceURLs)
}

func TestJinaSearcher_KeepsOnDomainHits(t *testing.T) {
	m := jinamocks.NewMockClient(t)
	m.On("Search", mock.Anything, "oil change price").Return(&jina.SearchResponse{
		Code: 200,
		Data: []jina.SearchResult{
			{Title: "Prices", URL: "https://kwikgarage.co.uk/prices", Content: "Oil change £45"},
			{Title: "Directory", URL: "https://yell.com/kwik", Content: "Oil change £99"},
		},
	}, nil)

	ans, err := NewJinaSearcher(m).Search(context.Background(), "kwikgarage.co.uk", "oil change price")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://kwikgarage.co.uk/prices"}, ans.SourceURLs)
	assert.Contains(t, ans.Text, "£45")
	assert.NotContains(t, ans.Text, "£99")
}
