package scrape

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-discovery/internal/resilience"
	"github.com/sells-group/price-discovery/pkg/jina"
	jinamocks "github.com/sells-group/price-discovery/pkg/jina/mocks"
)

func newTestBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "jina_reader", Cooldown: time.Minute})
}

func longContent(prefix string) string {
	return prefix + strings.Repeat(" Full service, MOT and repairs for all makes.", 5)
}

func TestJinaAdapter_Scrape_Success(t *testing.T) {
	t.Parallel()
	m := jinamocks.NewMockClient(t)
	adapter := NewJinaAdapter(m, newTestBreaker())

	m.On("Read", context.Background(), "https://kwikgarage.co.uk").Return(&jina.ReadResponse{
		Code: 200,
		Data: jina.ReadData{
			Title:   "Kwik Garage",
			Content: longContent("# Kwik Garage\n\nOil change £45."),
		},
	}, nil)

	result, err := adapter.Scrape(context.Background(), "https://kwikgarage.co.uk")
	require.NoError(t, err)
	assert.Equal(t, "jina", result.Source)
	assert.Equal(t, "https://kwikgarage.co.uk", result.Page.URL)
	assert.Equal(t, "Kwik Garage", result.Page.Title)
	assert.Empty(t, result.Page.HTML)
}

func TestJinaAdapter_Scrape_ClientError(t *testing.T) {
	t.Parallel()
	m := jinamocks.NewMockClient(t)
	breaker := newTestBreaker()
	adapter := NewJinaAdapter(m, breaker)

	m.On("Read", context.Background(), "https://fail.example").Return(nil, errors.New("connection refused"))

	_, err := adapter.Scrape(context.Background(), "https://fail.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, resilience.CircuitClosed, breaker.State())
}

func TestJinaAdapter_TimeoutOpensBreaker(t *testing.T) {
	t.Parallel()
	m := jinamocks.NewMockClient(t)
	breaker := newTestBreaker()
	adapter := NewJinaAdapter(m, breaker)

	m.On("Read", context.Background(), "https://slow.example").Return(nil, context.DeadlineExceeded).Once()

	_, err := adapter.Scrape(context.Background(), "https://slow.example")
	require.Error(t, err)
	assert.False(t, adapter.Supports("https://slow.example"))

	_, err = adapter.Scrape(context.Background(), "https://slow.example")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestJinaAdapter_Scrape_NeedsFallback(t *testing.T) {
	t.Parallel()
	m := jinamocks.NewMockClient(t)
	adapter := NewJinaAdapter(m, newTestBreaker())

	m.On("Read", context.Background(), "https://cf.example").Return(&jina.ReadResponse{
		Code: 200,
		Data: jina.ReadData{Content: "Just a moment... Checking your browser before accessing the site, this takes a few seconds, please wait."},
	}, nil)

	_, err := adapter.Scrape(context.Background(), "https://cf.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs fallback")
}

func TestNeedsFallback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		resp *jina.ReadResponse
		want bool
	}{
		{"nil", nil, true},
		{"bad code", &jina.ReadResponse{Code: 451, Data: jina.ReadData{Content: longContent("x")}}, true},
		{"short", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: "tiny"}}, true},
		{"challenge", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: longContent("Access denied.")}}, true},
		{"long page mentioning challenge", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: "access denied " + strings.Repeat("prices ", 200)}}, false},
		{"ok", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: longContent("Prices")}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsFallback(tt.resp))
		})
	}
}
