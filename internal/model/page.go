package model

// CrawledPage represents a page fetched during discovery.
type CrawledPage struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Markdown   string `json:"markdown"`
	HTML       string `json:"html,omitempty"`
	StatusCode int    `json:"status_code"`
}

// Text returns the best plain-text rendering of the page.
func (p CrawledPage) Text() string {
	return p.Markdown
}
