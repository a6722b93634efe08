// Package extract implements LLM-backed structured price extraction over
// page text and email bodies.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/pkg/anthropic"
)

// Request is one extraction call: find the price of Target in Text.
type Request struct {
	Text        string
	Target      string // service name, e.g. "Oil change"
	Description string // optional longer description of the service
	Source      string // "page", "search_answer", "email_reply"; used in logs
}

// Result is the structured answer. Found is false for an explicit
// not-found answer.
type Result struct {
	Found       bool    `json:"found"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	MatchedText string  `json:"matched_text"`
}

// PriceExtractor extracts a single price for a target service from text.
// Errors wrap model.ErrExtractionFailure.
type PriceExtractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

// Config tunes the LLM extractor.
type Config struct {
	Model           string
	MaxTokens       int64
	MaxChars        int
	DefaultCurrency string
}

// LLMExtractor asks the model for a JSON verdict.
type LLMExtractor struct {
	client anthropic.Client
	cfg    Config
}

// NewLLMExtractor creates an extractor. Zero config fields take defaults.
func NewLLMExtractor(client anthropic.Client, cfg Config) *LLMExtractor {
	if cfg.Model == "" {
		cfg.Model = anthropic.DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 12000
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "GBP"
	}
	return &LLMExtractor{client: client, cfg: cfg}
}

const systemPrompt = `You extract prices for local services from text.

You are given a target service and some text (a web page, a search answer or an email reply).
Find the price the business charges for the target service. Accept close synonyms and
near-equivalent wording (for example "chain replacement" and "chain fitting", "MOT test" and
"MOT"). Do not use prices for different services, packages that bundle unrelated work,
delivery fees, deposits or prices of physical products.

If several prices are listed for the target, return the base (lowest listed) price.
If the text gives a range, return the lower bound.

Respond with JSON only, no prose:
{"found": true, "price": 45.00, "currency": "GBP", "matched_text": "Oil change £45"}
or
{"found": false, "price": 0, "currency": "", "matched_text": ""}

currency is an ISO-4217 code. matched_text is the shortest span of the input that shows the price.`

// Extract implements PriceExtractor.
func (e *LLMExtractor) Extract(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" || req.Target == "" {
		return &Result{}, nil
	}

	text := req.Text
	if len(text) > e.cfg.MaxChars {
		text = truncateUTF8(text, e.cfg.MaxChars)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Target service: %s\n", req.Target)
	if req.Description != "" {
		fmt.Fprintf(&user, "Service description: %s\n", req.Description)
	}
	fmt.Fprintf(&user, "\nText:\n<<<\n%s\n>>>", text)

	temp := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: user.String()}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrapf(model.ErrExtractionFailure, "extract: llm call: %v", err)
	}
	resp.Usage.LogCost(e.cfg.Model, "price_extraction")

	res, err := ParseResult(resp.Text(), e.cfg.DefaultCurrency)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("extract: llm verdict",
		zap.String("target", req.Target),
		zap.String("source", req.Source),
		zap.Bool("found", res.Found),
		zap.Float64("price", res.Price),
	)
	return res, nil
}

// ParseResult decodes the model's JSON answer. A found answer with a
// non-positive price or unknown currency is downgraded to not found.
func ParseResult(raw, defaultCurrency string) (*Result, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, eris.Wrapf(model.ErrExtractionFailure, "extract: no json object in %q", truncateUTF8(raw, 120))
	}

	var res Result
	if err := json.Unmarshal([]byte(raw[start:end+1]), &res); err != nil {
		return nil, eris.Wrapf(model.ErrExtractionFailure, "extract: decode verdict: %v", err)
	}
	if !res.Found {
		return &Result{}, nil
	}

	code := strings.TrimSpace(res.Currency)
	if code == "" {
		code = defaultCurrency
	}
	res.Currency = model.NormalizeCurrency(strings.ToUpper(code))
	if res.Currency == "" {
		res.Currency = model.NormalizeCurrency(code)
	}
	if res.Price <= 0 || res.Price > MaxPlausiblePrice || res.Currency == "" {
		return &Result{}, nil
	}
	return &res, nil
}

// MaxPlausiblePrice bounds accepted prices.
const MaxPlausiblePrice = 1_000_000

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
