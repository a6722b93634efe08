package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/price-discovery/pkg/anthropic"
)

// Intent is the condensed reading of a free-text query.
type Intent struct {
	Name          string   `json:"name"`
	RelevantSlugs []string `json:"relevant_slugs"`
}

// IntentResolver condenses a query to a canonical service name and picks
// the candidate slugs that actually fit it.
type IntentResolver interface {
	Resolve(ctx context.Context, query string, candidates []MatchedServiceType) (*Intent, error)
}

const intentPrompt = `You match a user's search query to a catalog of local service types.

1. Extract a short canonical service name (2 to 6 words) from the query. Drop filler words. Keep product and model identifiers.
2. From the candidate list, keep only the slugs relevant to the query.

Rules:
- Different brands, models or product lines never match (iPhone is not Galaxy, BMW is not Toyota).
- Generic types without a model ("Screen Repair") match any specific query in their category.
- Types in the same brand family match ("Galaxy Note 10" fits a "Galaxy" query).

Reply with only JSON: {"name": "<condensed name>", "relevant_slugs": ["slug1"]}
Use an empty array when nothing fits.`

// LLMIntentResolver resolves intent with one small model call.
type LLMIntentResolver struct {
	client anthropic.Client
	model  string
}

// NewLLMIntentResolver creates a resolver; model "" uses the client default.
func NewLLMIntentResolver(client anthropic.Client, model string) *LLMIntentResolver {
	return &LLMIntentResolver{client: client, model: model}
}

// Resolve implements IntentResolver.
func (r *LLMIntentResolver) Resolve(ctx context.Context, query string, candidates []MatchedServiceType) (*Intent, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "User query: %q\n", query)
	if len(candidates) == 0 {
		user.WriteString("No candidate service types.")
	} else {
		user.WriteString("Candidate service types:\n")
		for _, c := range candidates {
			fmt.Fprintf(&user, "- %s: %s\n", c.Slug, c.Name)
		}
	}

	temp := 0.0
	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       r.model,
		MaxTokens:   200,
		System:      anthropic.BuildCachedSystemBlocks(intentPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: user.String()}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "intent: llm call")
	}
	resp.Usage.LogCost(r.model, "intent_resolution")
	return parseIntent(resp.Text())
}

func parseIntent(raw string) (*Intent, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("intent: no JSON object in %q", raw)
	}
	var in Intent
	if err := json.Unmarshal([]byte(raw[start:end+1]), &in); err != nil {
		return nil, eris.Wrap(err, "intent: decode")
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, eris.New("intent: empty name")
	}
	return &in, nil
}

// filterRelevant keeps candidates named in slugs, in candidate order.
func filterRelevant(candidates []MatchedServiceType, slugs []string) []MatchedServiceType {
	keep := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		keep[s] = true
	}
	var out []MatchedServiceType
	for _, c := range candidates {
		if keep[c.Slug] {
			out = append(out, c)
		}
	}
	return out
}
