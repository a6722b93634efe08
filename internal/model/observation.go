package model

import (
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/currency"
)

// SourceType records how an observation was obtained.
type SourceType string

const (
	SourceScrape     SourceType = "scrape"
	SourceManual     SourceType = "manual"
	SourceReceipt    SourceType = "receipt"
	SourceQuote      SourceType = "quote"
	SourceEmailReply SourceType = "email_reply"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceScrape, SourceManual, SourceReceipt, SourceQuote, SourceEmailReply:
		return true
	}
	return false
}

// Observation is an append-only price fact: provider P charges Price for
// service S, observed via SourceType at ObservedAt.
type Observation struct {
	ID          string     `json:"id"`
	ProviderID  string     `json:"provider_id"`
	ServiceType string     `json:"service_type"`
	Price       float64    `json:"price"`
	Currency    string     `json:"currency"`
	SourceType  SourceType `json:"source_type"`
	SourceURL   string     `json:"source_url,omitempty"`
	ObservedAt  time.Time  `json:"observed_at"`
}

// Validate checks the observation invariants before it is persisted.
func (o Observation) Validate() error {
	if o.ProviderID == "" {
		return eris.New("observation: provider_id is required")
	}
	if o.ServiceType == "" {
		return eris.New("observation: service_type is required")
	}
	if !(o.Price > 0) {
		return eris.Errorf("observation: price must be positive, got %v", o.Price)
	}
	if _, err := currency.ParseISO(o.Currency); err != nil {
		return eris.Wrapf(err, "observation: unknown currency %q", o.Currency)
	}
	if !o.SourceType.Valid() {
		return eris.Errorf("observation: unknown source type %q", o.SourceType)
	}
	return nil
}

// CurrencyFromSymbol maps a currency symbol to its ISO-4217 code.
func CurrencyFromSymbol(sym string) string {
	switch sym {
	case "£":
		return currency.GBP.String()
	case "€":
		return currency.EUR.String()
	case "$":
		return currency.USD.String()
	}
	return ""
}

// NormalizeCurrency returns the canonical ISO code for a code or symbol, or
// "" when it is not recognized.
func NormalizeCurrency(s string) string {
	if code := CurrencyFromSymbol(s); code != "" {
		return code
	}
	unit, err := currency.ParseISO(s)
	if err != nil {
		return ""
	}
	return unit.String()
}
