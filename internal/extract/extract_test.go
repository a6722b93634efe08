package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/pkg/anthropic"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

func TestLLMExtractor_Found(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return strings.Contains(req.Messages[0].Content, "Target service: Chain replacement") &&
			strings.Contains(req.Messages[0].Content, "Chain fitting from £30") &&
			req.System[0].CacheControl != nil
	})).Return(textResponse(`{"found": true, "price": 30, "currency": "gbp", "matched_text": "Chain fitting from £30"}`), nil)

	res, err := NewLLMExtractor(llm, Config{}).Extract(context.Background(), Request{
		Text:   "Bike services\nChain fitting from £30\nPuncture repair £12",
		Target: "Chain replacement",
	})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.InDelta(t, 30.0, res.Price, 0.001)
	assert.Equal(t, "GBP", res.Currency)
	assert.Equal(t, "Chain fitting from £30", res.MatchedText)
	llm.AssertExpectations(t)
}

func TestLLMExtractor_NotFound(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("```json\n{\"found\": false, \"price\": 0, \"currency\": \"\", \"matched_text\": \"\"}\n```"), nil)

	res, err := NewLLMExtractor(llm, Config{}).Extract(context.Background(), Request{Text: "We fix bikes.", Target: "Chain replacement"})
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestLLMExtractor_APIErrorIsExtractionFailure(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	_, err := NewLLMExtractor(llm, Config{}).Extract(context.Background(), Request{Text: "x", Target: "y"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExtractionFailure)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestLLMExtractor_EmptyInputSkipsCall(t *testing.T) {
	llm := &mockLLM{}
	res, err := NewLLMExtractor(llm, Config{}).Extract(context.Background(), Request{Text: "  ", Target: "Oil change"})
	require.NoError(t, err)
	assert.False(t, res.Found)
	llm.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestLLMExtractor_TruncatesText(t *testing.T) {
	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages[0].Content) < 200
	})).Return(textResponse(`{"found": false}`), nil)

	_, err := NewLLMExtractor(llm, Config{MaxChars: 50}).Extract(context.Background(), Request{
		Text:   strings.Repeat("£", 500),
		Target: "Oil change",
	})
	require.NoError(t, err)
	llm.AssertExpectations(t)
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantFound bool
		wantPrice float64
		wantCurr  string
		wantErr   bool
	}{
		{"plain", `{"found":true,"price":45,"currency":"GBP"}`, true, 45, "GBP", false},
		{"symbol currency", `{"found":true,"price":19.5,"currency":"€"}`, true, 19.5, "EUR", false},
		{"default currency", `{"found":true,"price":12}`, true, 12, "GBP", false},
		{"prose around json", `Sure! {"found":true,"price":99,"currency":"USD"} hope that helps`, true, 99, "USD", false},
		{"zero price", `{"found":true,"price":0,"currency":"GBP"}`, false, 0, "", false},
		{"absurd price", `{"found":true,"price":5000000,"currency":"GBP"}`, false, 0, "", false},
		{"unknown currency", `{"found":true,"price":5,"currency":"XYZQ"}`, false, 0, "", false},
		{"not found", `{"found":false}`, false, 0, "", false},
		{"no json", `I could not find a price.`, false, 0, "", true},
		{"bad json", `{"found": tru}`, false, 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseResult(tt.raw, "GBP")
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, model.ErrExtractionFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, res.Found)
			assert.InDelta(t, tt.wantPrice, res.Price, 0.001)
			assert.Equal(t, tt.wantCurr, res.Currency)
		})
	}
}

func TestTruncateUTF8(t *testing.T) {
	s := "ab£cd"
	assert.Equal(t, "ab", truncateUTF8(s, 3))
	assert.Equal(t, "ab£", truncateUTF8(s, 4))
	assert.Equal(t, s, truncateUTF8(s, 10))
}
