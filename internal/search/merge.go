// Package search answers "who near me charges what for this" by merging
// lexical and vector matches over the service catalog and joining them to
// nearby providers' price observations.
package search

import (
	"sort"

	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/store"
)

// MatchSource records which matcher qualified a service type.
type MatchSource string

const (
	MatchText   MatchSource = "text"
	MatchVector MatchSource = "vector"
	MatchBoth   MatchSource = "both"
)

// Default merge thresholds.
const (
	DefaultVectorThreshold = 0.75
	DefaultTextThreshold   = 0.10
)

// Thresholds decide when a matcher's score qualifies a service type.
type Thresholds struct {
	Vector float64
	Text   float64
}

// DefaultThresholds returns the product-tuned cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Vector: DefaultVectorThreshold, Text: DefaultTextThreshold}
}

// MatchedServiceType is a qualifying service type with both matcher scores.
type MatchedServiceType struct {
	Slug        string      `json:"slug"`
	Name        string      `json:"name"`
	Category    string      `json:"category"`
	MatchSource MatchSource `json:"match_source"`
	Score       float64     `json:"score"`
	TextScore   float64     `json:"text_score"`
	VectorScore float64     `json:"vector_score"`

	serviceType model.ServiceType
}

// ServiceType returns the full catalog record.
func (m MatchedServiceType) ServiceType() model.ServiceType { return m.serviceType }

// Merge unions the two matcher outputs. A service type qualifies when its
// vector score reaches th.Vector or its text score reaches th.Text; a type
// qualified by both is tagged MatchBoth. Output is ordered by the best
// qualifying score descending, then slug.
func Merge(text, vector []store.ScoredServiceType, th Thresholds) []MatchedServiceType {
	type acc struct {
		st           model.ServiceType
		text, vector float64
		hasT, hasV   bool
	}
	bySlug := make(map[string]*acc)
	var order []string
	get := func(st model.ServiceType) *acc {
		a, ok := bySlug[st.Slug]
		if !ok {
			a = &acc{st: st}
			bySlug[st.Slug] = a
			order = append(order, st.Slug)
		}
		return a
	}
	for _, s := range text {
		a := get(s.ServiceType)
		if !a.hasT || s.Score > a.text {
			a.text, a.hasT = s.Score, true
		}
	}
	for _, s := range vector {
		a := get(s.ServiceType)
		if !a.hasV || s.Score > a.vector {
			a.vector, a.hasV = s.Score, true
		}
	}

	var out []MatchedServiceType
	for _, slug := range order {
		a := bySlug[slug]
		textOK := a.hasT && a.text >= th.Text
		vecOK := a.hasV && a.vector >= th.Vector
		m := MatchedServiceType{
			Slug:        a.st.Slug,
			Name:        a.st.Name,
			Category:    a.st.Category,
			TextScore:   a.text,
			VectorScore: a.vector,
			serviceType: a.st,
		}
		switch {
		case textOK && vecOK:
			m.MatchSource, m.Score = MatchBoth, max(a.text, a.vector)
		case textOK:
			m.MatchSource, m.Score = MatchText, a.text
		case vecOK:
			m.MatchSource, m.Score = MatchVector, a.vector
		default:
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Slug < out[j].Slug
	})
	return out
}
