// Package inquiry emails providers that have no published prices and turns
// their replies into price observations.
package inquiry

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/discovery"
	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/scrape"
	"github.com/sells-group/price-discovery/pkg/mail"
)

// ContactPaths are fetched in order, relative to the provider's site root.
var ContactPaths = []string{"", "/contact", "/contact-us", "/about", "/impressum", "/legal"}

var emailRe = regexp.MustCompile(`(?i)\b[a-z0-9][a-z0-9._%+\-]*@[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?)*\.[a-z]{2,24}\b`)

// platformDomains belong to site builders, hosts and trackers, never the
// business itself.
var platformDomains = []string{
	"wix.com", "wixpress.com", "squarespace.com", "godaddy.com", "secureserver.net",
	"sentry.io", "sentry-next.wixpress.com", "example.com", "example.org", "domain.com",
	"email.com", "yourdomain.com", "shopify.com", "wordpress.com", "wordpress.org",
	"weebly.com", "jimdo.com", "webflow.io", "ionos.com", "1and1.com", "mailchimp.com",
	"cloudflare.com", "google.com", "facebook.com", "schema.org", "w3.org",
}

// assetSuffixes catch retina image names like logo@2x.png.
var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// ContactFinder locates a provider's email address on its website.
type ContactFinder struct {
	fetcher scrape.Fetcher
	timeout time.Duration
}

// NewContactFinder creates a finder; timeout bounds each page fetch.
func NewContactFinder(fetcher scrape.Fetcher, timeout time.Duration) *ContactFinder {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ContactFinder{fetcher: fetcher, timeout: timeout}
}

// Find scans the contact pages of website. An address on the site's own
// domain wins; otherwise the first acceptable address found is returned.
// Errors wrap model.ErrContactNotFound.
func (f *ContactFinder) Find(ctx context.Context, website string) (string, error) {
	base, err := url.Parse(website)
	if err != nil || base.Host == "" {
		return "", eris.Wrapf(model.ErrContactNotFound, "inquiry: bad website %q", website)
	}
	domain := discovery.RegistrableDomain(website)
	log := zap.L().With(zap.String("website", website))

	var fallback string
	for _, p := range ContactPaths {
		target := base.Scheme + "://" + base.Host + p
		fctx, cancel := context.WithTimeout(ctx, f.timeout)
		page, err := f.fetcher.Fetch(fctx, target)
		cancel()
		if err != nil {
			log.Debug("inquiry: contact page fetch failed", zap.String("url", target), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		for _, addr := range ExtractEmails(page) {
			if d := mail.DomainOf(addr); d == domain || strings.HasSuffix(d, "."+domain) {
				return addr, nil
			}
			if fallback == "" {
				fallback = addr
			}
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", eris.Wrapf(model.ErrContactNotFound, "inquiry: no address on %s", website)
}

// ExtractEmails returns acceptable addresses on a page: mailto links first,
// then addresses in the visible text, deduplicated and lowercased.
func ExtractEmails(page *model.CrawledPage) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || seen[addr] || !acceptable(addr) {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}

	if page.HTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML)); err == nil {
			doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).Each(func(_ int, s *goquery.Selection) {
				href, _ := s.Attr("href")
				addr := href[len("mailto:"):]
				if i := strings.IndexByte(addr, '?'); i >= 0 {
					addr = addr[:i]
				}
				if dec, err := url.PathUnescape(addr); err == nil {
					addr = dec
				}
				for _, a := range strings.Split(addr, ",") {
					if emailRe.MatchString(a) {
						add(emailRe.FindString(a))
					}
				}
			})
		}
	}
	for _, m := range emailRe.FindAllString(page.Text(), -1) {
		add(m)
	}
	if page.HTML != "" {
		for _, m := range emailRe.FindAllString(page.HTML, -1) {
			add(m)
		}
	}
	return out
}

func acceptable(addr string) bool {
	for _, s := range assetSuffixes {
		if strings.HasSuffix(addr, s) {
			return false
		}
	}
	d := mail.DomainOf(addr)
	for _, p := range platformDomains {
		if d == p || strings.HasSuffix(d, "."+p) {
			return false
		}
	}
	return true
}
