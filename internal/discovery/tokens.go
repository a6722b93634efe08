// Package discovery runs the price discovery cascade: a regex crawl of the
// provider's site, then LLM extraction on the best page, then domain-scoped
// external search guarded by per-dependency circuit breakers.
package discovery

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// foldAccents maps "é" to "e" so queries and pages compare on base letters.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Tokenize lowercases q and returns its alphanumeric words longer than one
// character, in order.
func Tokenize(q string) []string {
	var out []string
	for _, t := range tokenRe.FindAllString(foldAccents(strings.ToLower(q)), -1) {
		if len(t) > 1 {
			out = append(out, t)
		}
	}
	return out
}

// BuildPhrases returns the distinct trigrams and bigrams of tokens, longest
// first.
func BuildPhrases(tokens []string) []string {
	var phrases []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			phrases = append(phrases, p)
		}
	}
	for i := 0; i+2 < len(tokens); i++ {
		add(tokens[i] + " " + tokens[i+1] + " " + tokens[i+2])
	}
	for i := 0; i+1 < len(tokens); i++ {
		add(tokens[i] + " " + tokens[i+1])
	}
	sort.SliceStable(phrases, func(i, j int) bool { return len(phrases[i]) > len(phrases[j]) })
	return phrases
}

// phrasePresent matches a phrase on word boundaries, allowing whitespace or
// hyphens between its words ("oil-change" matches "oil change").
func phrasePresent(textLower, phrase string) bool {
	parts := strings.Fields(phrase)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile(`\b` + strings.Join(parts, `[\s\-]+`) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(textLower)
}

// containsAll reports whether every token is a substring of textLower.
func containsAll(textLower string, tokens []string) bool {
	for _, t := range tokens {
		if !strings.Contains(textLower, t) {
			return false
		}
	}
	return true
}

// Overlap counts the distinct tokens that occur in text.
func Overlap(text string, tokens []string) int {
	lower := foldAccents(strings.ToLower(text))
	seen := make(map[string]bool, len(tokens))
	n := 0
	for _, t := range tokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

// matcher decides whether a container's text is about the query.
type matcher struct {
	tokens     []string
	topPhrases []string
}

func newMatcher(tokens []string) matcher {
	phrases := BuildPhrases(tokens)
	if len(phrases) > 3 {
		phrases = phrases[:3]
	}
	return matcher{tokens: tokens, topPhrases: phrases}
}

func (m matcher) matches(textLower string) bool {
	if len(m.tokens) > 0 && !containsAll(textLower, m.tokens) {
		return false
	}
	if len(m.topPhrases) == 0 {
		return true
	}
	for _, p := range m.topPhrases {
		if phrasePresent(textLower, p) {
			return true
		}
	}
	return false
}
