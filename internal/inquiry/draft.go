package inquiry

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

// Draft is the subject and plain-text body of an inquiry.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Drafter writes an inquiry for one provider and service.
type Drafter interface {
	Draft(ctx context.Context, provider model.Provider, st model.ServiceType) (*Draft, error)
}

const draftPrompt = `You write short, polite emails from a customer asking a local business for a price.

Rules:
- Ask for the price of exactly one named service.
- Under 120 words. Plain text, no markdown, no placeholders like [Your Name].
- Ask whether the price includes parts, labour and tax where that is relevant.
- Sign off with the sender name you are given.

Reply with only JSON: {"subject": "...", "body": "..."}`

// LLMDrafter drafts with one model call and falls back to a fixed template
// when the call or its output fails.
type LLMDrafter struct {
	client   anthropic.Client
	model    string
	fromName string
}

// NewLLMDrafter creates a drafter signing as fromName.
func NewLLMDrafter(client anthropic.Client, model, fromName string) *LLMDrafter {
	return &LLMDrafter{client: client, model: model, fromName: fromName}
}

// Draft implements Drafter. It never returns an error.
func (d *LLMDrafter) Draft(ctx context.Context, provider model.Provider, st model.ServiceType) (*Draft, error) {
	draft, err := d.draftLLM(ctx, provider, st)
	if err != nil {
		zap.L().Warn("inquiry: llm draft failed, using template",
			zap.String("provider_id", provider.ID),
			zap.Error(err),
		)
		return TemplateDraft(provider, st, d.fromName), nil
	}
	return draft, nil
}

func (d *LLMDrafter) draftLLM(ctx context.Context, provider model.Provider, st model.ServiceType) (*Draft, error) {
	if d.client == nil {
		return nil, eris.New("inquiry: no llm client")
	}
	var user strings.Builder
	fmt.Fprintf(&user, "Business: %s\n", provider.Name)
	if provider.City != "" {
		fmt.Fprintf(&user, "City: %s\n", provider.City)
	}
	fmt.Fprintf(&user, "Service: %s\n", st.Name)
	if st.Description != "" {
		fmt.Fprintf(&user, "Service details: %s\n", st.Description)
	}
	fmt.Fprintf(&user, "Sender name: %s\n", d.fromName)

	resp, err := d.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     d.model,
		MaxTokens: 400,
		System:    anthropic.BuildCachedSystemBlocks(draftPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: user.String()}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "inquiry: draft call")
	}
	resp.Usage.LogCost(d.model, "inquiry_draft")

	raw := resp.Text()
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("inquiry: no JSON in draft %q", raw)
	}
	var draft Draft
	if err := json.Unmarshal([]byte(raw[start:end+1]), &draft); err != nil {
		return nil, eris.Wrap(err, "inquiry: decode draft")
	}
	draft.Subject = strings.TrimSpace(draft.Subject)
	draft.Body = strings.TrimSpace(draft.Body)
	if draft.Subject == "" || draft.Body == "" || strings.Contains(draft.Body, "[") {
		return nil, eris.New("inquiry: incomplete draft")
	}
	return &draft, nil
}

// TemplateDraft is the deterministic inquiry used without a model.
func TemplateDraft(provider model.Provider, st model.ServiceType, fromName string) *Draft {
	greeting := "Hello"
	if provider.Name != "" {
		greeting = "Hello " + provider.Name
	}
	if fromName == "" {
		fromName = "Thanks"
	}
	body := fmt.Sprintf("%s,\n\n"+
		"Could you tell me how much you charge for %s? "+
		"If the price depends on the job, a typical range is fine. "+
		"Please mention whether it includes parts, labour and tax.\n\n"+
		"Many thanks,\n%s",
		greeting, strings.ToLower(st.Name), fromName)
	return &Draft{
		Subject: "Price enquiry: " + st.Name,
		Body:    body,
	}
}
