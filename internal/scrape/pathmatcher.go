package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip assets and account areas that never list prices.
var defaultExcludePatterns = []string{
	"/wp-admin/*",
	"/wp-json/*",
	"/cart/*",
	"/checkout/*",
	"/account/*",
	"/login",
	"/*.pdf",
	"/*.jpg",
	"/*.jpeg",
	"/*.png",
	"/*.gif",
	"/*.zip",
}

// PathMatcher filters URLs by glob-style path patterns. "/blog/*" also
// matches deeper paths such as "/blog/2024/post".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher; nil or empty patterns use the defaults.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lowered}
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether a URL matches any pattern. Unparseable URLs are
// excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	if m == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchSegmented(pattern, p) {
			return true
		}
	}
	return false
}

func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if strings.HasPrefix(pattern, "/*.") {
		return strings.HasSuffix(urlPath, pattern[2:])
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/")
	}
	return false
}
