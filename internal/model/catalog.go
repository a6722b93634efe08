// Package model defines the domain types shared by the price discovery pipeline.
package model

import (
	"strings"
	"time"
	"unicode"
)

// ServiceType is a priced service that providers offer (e.g. "oil_change").
type ServiceType struct {
	Slug        string     `json:"slug" yaml:"slug"`
	Name        string     `json:"name" yaml:"name"`
	Category    string     `json:"category" yaml:"category"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Embedding   []float32  `json:"-" yaml:"-"`
	EmbeddedAt  *time.Time `json:"embedded_at,omitempty" yaml:"-"`
	CreatedAt   time.Time  `json:"created_at" yaml:"-"`
}

// EmbeddingText is the text fed to the embedding model for this service type.
func (st ServiceType) EmbeddingText() string {
	parts := []string{st.Name}
	if st.Category != "" {
		parts = append(parts, st.Category)
	}
	if st.Description != "" {
		parts = append(parts, st.Description)
	}
	return strings.Join(parts, ". ")
}

// TargetDescription describes the service for LLM extraction prompts.
func (st ServiceType) TargetDescription() string {
	if st.Description != "" {
		return st.Name + " (" + st.Description + ")"
	}
	return st.Name
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Provider is a local business that may offer priced services.
type Provider struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Category  string    `json:"category" yaml:"category"`
	Location  Point     `json:"location" yaml:"location"`
	Address   string    `json:"address" yaml:"address"`
	City      string    `json:"city,omitempty" yaml:"city,omitempty"`
	Website   string    `json:"website,omitempty" yaml:"website,omitempty"`
	Email     string    `json:"email,omitempty" yaml:"email,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// NameToSlug converts a display name into a service type slug
// ("Brake Pad Replacement" -> "brake_pad_replacement").
func NameToSlug(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// SlugToLabel renders a slug for display when no ServiceType name is known.
func SlugToLabel(slug string) string {
	words := strings.Fields(strings.ReplaceAll(slug, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
