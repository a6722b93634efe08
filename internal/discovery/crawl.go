package discovery

import (
	"context"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/scrape"
)

// linkSkipSubstrings mark links that never carry a price list.
var linkSkipSubstrings = []string{
	"blog", "news", "about", "contact", "privacy", "terms", "login", "cart",
	"facebook", "instagram", ".pdf",
}

// pricingWords count as query overlap when they appear in a link path.
var pricingWords = map[string]bool{
	"price": true, "prices": true, "pricing": true, "tariff": true, "tariffs": true,
	"rates": true, "fees": true, "cost": true, "costs": true, "services": true, "menu": true,
}

var mdLinkRe = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)

// RegistrableDomain returns the eTLD+1 of a URL or bare host
// ("https://www.kwikgarage.co.uk/x" -> "kwikgarage.co.uk"). IP hosts and
// hosts without a public suffix are returned as-is.
func RegistrableDomain(raw string) string {
	host := hostOf(raw)
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// SameSite reports whether two URLs belong to the same registrable domain.
// IP hosts must also agree on port.
func SameSite(a, b string) bool {
	da, db := RegistrableDomain(a), RegistrableDomain(b)
	if da == "" || da != db {
		return false
	}
	if net.ParseIP(da) != nil {
		return portOf(a) == portOf(b)
	}
	return true
}

func portOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Port()
}

// OnDomain reports whether raw is hosted on domain or one of its subdomains.
func OnDomain(raw, domain string) bool {
	host := hostOf(raw)
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	return host != "" && domain != "" && (host == domain || strings.HasSuffix(host, "."+domain))
}

// ScoreURL ranks a link by how many query tokens its path names. Each
// matched token is worth 10, each unrelated path word costs 1.
func ScoreURL(raw string, tokens []string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	words := tokenRe.FindAllString(foldAccents(strings.ToLower(u.Path)), -1)
	want := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		want[t] = true
	}
	matched := make(map[string]bool)
	extra := 0
	for _, w := range words {
		switch {
		case want[w]:
			matched[w] = true
		case pricingWords[w]:
			matched["#"+w] = true
		default:
			extra++
		}
	}
	return len(matched)*10 - extra
}

// ExtractLinks returns the absolute http(s) links on a page, without
// fragments, in first-seen order.
func ExtractLinks(page *model.CrawledPage) []string {
	if page == nil {
		return nil
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil
	}

	var hrefs []string
	if page.HTML != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err == nil {
			doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
				if h, ok := s.Attr("href"); ok {
					hrefs = append(hrefs, h)
				}
			})
		}
	}
	for _, m := range mdLinkRe.FindAllStringSubmatch(page.Markdown, -1) {
		hrefs = append(hrefs, m[1])
	}

	seen := make(map[string]bool)
	var out []string
	for _, h := range hrefs {
		h = strings.TrimSpace(h)
		if h == "" || strings.HasPrefix(h, "#") || strings.HasPrefix(h, "mailto:") || strings.HasPrefix(h, "tel:") {
			continue
		}
		ref, err := url.Parse(h)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		abs.Fragment = ""
		s := abs.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

type scoredLink struct {
	url   string
	score int
}

// RankLinks orders same-site candidates by ScoreURL, best first. Links
// whose path names a skip word are dropped; ties keep page order.
func RankLinks(links []string, site string, tokens []string, exclude *scrape.PathMatcher, visited map[string]bool) []string {
	var scored []scoredLink
	for _, l := range links {
		if visited[normalizeURL(l)] || !SameSite(l, site) || exclude.IsExcluded(l) || skipLink(l) {
			continue
		}
		scored = append(scored, scoredLink{url: l, score: ScoreURL(l, tokens)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.url
	}
	return out
}

// skipLink reports whether the link path contains a skip word. The host
// is not checked, so cartwrightmotors.co.uk is still crawled.
func skipLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	path := strings.ToLower(u.Path)
	for _, s := range linkSkipSubstrings {
		if strings.Contains(path, s) {
			return true
		}
	}
	return false
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if u.Path == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.Scheme + "://" + u.Host + u.Path + queryPart(u)
}

func queryPart(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

// CrawlConfig bounds the regex-tier crawl.
type CrawlConfig struct {
	TopLinks     int           // links followed from the homepage
	SubLinks     int           // links followed from each of those
	MaxPages     int           // hard cap on fetches
	FetchTimeout time.Duration // per page
}

// DefaultCrawlConfig returns 1 + 3 + 3*2 = 10 pages at 15s each.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{TopLinks: 3, SubLinks: 2, MaxPages: 10, FetchTimeout: 15 * time.Second}
}

// crawlResult is what one provider crawl produced.
type crawlResult struct {
	match       *PriceMatch
	matchURL    string
	bestPage    *model.CrawledPage
	bestOverlap int
	pages       int
}

type crawler struct {
	fetcher scrape.Fetcher
	exclude *scrape.PathMatcher
	cfg     CrawlConfig
}

func (c *crawler) crawl(ctx context.Context, homepage string, tokens []string) (*crawlResult, error) {
	log := zap.L().With(zap.String("homepage", homepage))
	res := &crawlResult{}
	visited := make(map[string]bool)

	// visit fetches one page and reports whether a price was found.
	visit := func(u string) (*model.CrawledPage, bool, error) {
		visited[normalizeURL(u)] = true
		res.pages++
		fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		page, err := c.fetcher.Fetch(fctx, u)
		cancel()
		if err != nil {
			return nil, false, err
		}
		if page.URL == "" {
			page.URL = u
		}
		visited[normalizeURL(page.URL)] = true

		if ov := Overlap(page.Title+"\n"+page.Text(), tokens); ov > res.bestOverlap || res.bestPage == nil {
			res.bestPage, res.bestOverlap = page, ov
		}
		if pm, ok := FindPrice(page, tokens); ok {
			res.match, res.matchURL = pm, page.URL
			return page, true, nil
		}
		return page, false, nil
	}

	home, found, err := visit(homepage)
	if err != nil {
		return res, err
	}
	if found {
		return res, nil
	}

	top := RankLinks(ExtractLinks(home), homepage, tokens, c.exclude, visited)
	if len(top) > c.cfg.TopLinks {
		top = top[:c.cfg.TopLinks]
	}
	for _, link := range top {
		if ctx.Err() != nil || res.pages >= c.cfg.MaxPages {
			return res, nil
		}
		if visited[normalizeURL(link)] {
			continue
		}
		page, found, err := visit(link)
		if err != nil {
			log.Debug("discovery: crawl fetch failed", zap.String("url", link), zap.Error(err))
			continue
		}
		if found {
			return res, nil
		}

		subs := RankLinks(ExtractLinks(page), homepage, tokens, c.exclude, visited)
		if len(subs) > c.cfg.SubLinks {
			subs = subs[:c.cfg.SubLinks]
		}
		for _, sub := range subs {
			if ctx.Err() != nil || res.pages >= c.cfg.MaxPages {
				return res, nil
			}
			if visited[normalizeURL(sub)] {
				continue
			}
			if _, found, err := visit(sub); err != nil {
				log.Debug("discovery: crawl fetch failed", zap.String("url", sub), zap.Error(err))
			} else if found {
				return res, nil
			}
		}
	}
	return res, nil
}
