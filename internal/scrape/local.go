package scrape

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/resilience"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; PriceDiscoveryBot/1.0)"
	maxPageBytes     = 2 << 20
	minPageBytes     = 100
)

// LocalScraperConfig tunes direct HTTP fetching.
type LocalScraperConfig struct {
	Timeout      time.Duration
	UserAgent    string
	PerHostRPS   float64
	PerHostBurst int
	Retry        resilience.RetryConfig
}

// LocalScraper fetches HTML via net/http, detects blocks, and keeps both the
// raw HTML and a plain-text rendering. Requests to one host are rate limited.
type LocalScraper struct {
	client    *http.Client
	userAgent string
	rps       rate.Limit
	burst     int
	retry     resilience.RetryConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalScraper creates a LocalScraper. Zero config fields take defaults.
func NewLocalScraper(cfg LocalScraperConfig) *LocalScraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.PerHostRPS <= 0 {
		cfg.PerHostRPS = 2
	}
	if cfg.PerHostBurst <= 0 {
		cfg.PerHostBurst = 2
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	// Timeouts are left to the caller's tier budget.
	cfg.Retry.ShouldRetry = func(err error) bool {
		var te *resilience.TransientError
		return errors.As(err, &te)
	}
	return &LocalScraper{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		userAgent: cfg.UserAgent,
		rps:       rate.Limit(cfg.PerHostRPS),
		burst:     cfg.PerHostBurst,
		retry:     cfg.Retry,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (l *LocalScraper) Name() string { return "local_http" }

// Supports accepts http(s) URLs.
func (l *LocalScraper) Supports(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}

func (l *LocalScraper) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[host] = lim
	}
	return lim
}

// Scrape fetches a URL, detects blocks, and parses the document.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: parse url")
	}
	if err := l.limiter(strings.ToLower(u.Host)).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "local_http: rate limit wait")
	}

	cfg := l.retry
	cfg.OnRetry = resilience.RetryLogger("local_http", "fetch")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
		return l.fetch(ctx, targetURL)
	})
}

func (l *LocalScraper) fetch(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if bt := DetectBlock(resp, body); bt != BlockNone {
		return nil, eris.Errorf("local_http: blocked (%s)", bt)
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(eris.Errorf("local_http: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}
	if len(body) < minPageBytes {
		return nil, eris.New("local_http: empty page")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: parse html")
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		Page: model.CrawledPage{
			URL:        finalURL,
			Title:      strings.TrimSpace(doc.Find("title").First().Text()),
			Markdown:   DocumentText(doc),
			HTML:       string(body),
			StatusCode: resp.StatusCode,
		},
		Source: "local_http",
	}, nil
}

// NoiseSelector matches elements that never carry page content.
const NoiseSelector = "script, style, nav, footer, header, noscript, svg, iframe"

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "td": true, "th": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "br": true, "table": true, "ul": true,
	"ol": true, "main": true, "dt": true, "dd": true,
}

// DocumentText renders a document's body as plain text with one line per
// block element, after removing noise elements. The document is not modified.
func DocumentText(doc *goquery.Document) string {
	body := doc.Clone().Find("body")
	if body.Length() == 0 {
		return ""
	}
	body.Find(NoiseSelector).Remove()

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if blockElements[n.Data] {
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteByte('\n')
		}
	}
	for _, n := range body.Nodes {
		walk(n)
	}
	return collapseWhitespace(b.String())
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
