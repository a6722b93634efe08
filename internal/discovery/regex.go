package discovery

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/sells-group/price-discovery/internal/extract"
	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/scrape"
)

const amountPattern = `([0-9]{1,3}(?:,[0-9]{3})+|[0-9]{1,6})(?:[.,]([0-9]{1,2}))?`

var (
	prefixPriceRe = regexp.MustCompile(`([£€$])\s*` + amountPattern)
	suffixPriceRe = regexp.MustCompile(amountPattern + `\s*([£€$])`)
	codeNoiseRe   = regexp.MustCompile(`[{}=<>]|function\s*\(|\bvar\s|\bconst\s`)
	mdLinkTailRe  = regexp.MustCompile(`\]\([^)]*\)`)
)

// maxAncestorWalk bounds how far a price climbs looking for a container
// that names the service.
const maxAncestorWalk = 12

var containerTags = map[string]bool{
	"div": true, "li": true, "article": true, "section": true, "main": true,
	"body": true, "p": true, "td": true, "tr": true, "table": true,
}

var codeTags = map[string]bool{"code": true, "pre": true, "textarea": true}

// PriceMatch is a price found next to text that names the service.
type PriceMatch struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
	Raw      string  `json:"raw"`
	Context  string  `json:"context"`
}

type rawPrice struct {
	value    float64
	currency string
	raw      string
	start    int
	end      int
}

func hasCurrencySymbol(s string) bool {
	return strings.ContainsAny(s, "£€$")
}

// findPrices returns the plausible prices in s, in order. Prefix forms
// ("£45") win over suffix forms ("45 €") when both are present.
func findPrices(s string) []rawPrice {
	var out []rawPrice
	for _, loc := range prefixPriceRe.FindAllStringSubmatchIndex(s, -1) {
		sym := s[loc[2]:loc[3]]
		frac := ""
		if loc[6] >= 0 {
			frac = s[loc[6]:loc[7]]
		}
		if p, ok := buildPrice(s, sym, s[loc[4]:loc[5]], frac, loc[0], loc[1]); ok {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, loc := range suffixPriceRe.FindAllStringSubmatchIndex(s, -1) {
		frac := ""
		if loc[4] >= 0 {
			frac = s[loc[4]:loc[5]]
		}
		if p, ok := buildPrice(s, s[loc[6]:loc[7]], s[loc[2]:loc[3]], frac, loc[0], loc[1]); ok {
			out = append(out, p)
		}
	}
	return out
}

func buildPrice(s, sym, whole, frac string, start, end int) (rawPrice, bool) {
	// "£1234567" is cut at six digits by the pattern; reject it.
	if end < len(s) && s[end] >= '0' && s[end] <= '9' {
		return rawPrice{}, false
	}
	if start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		return rawPrice{}, false
	}
	num := strings.ReplaceAll(whole, ",", "")
	if frac != "" {
		num += "." + frac
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v <= 0 || v > extract.MaxPlausiblePrice {
		return rawPrice{}, false
	}
	if insideCodeNoise(s, start, end) {
		return rawPrice{}, false
	}
	return rawPrice{
		value:    v,
		currency: model.CurrencyFromSymbol(sym),
		raw:      s[start:end],
		start:    start,
		end:      end,
	}, true
}

// insideCodeNoise looks at a small window around the match for markup or
// script fragments that survived noise stripping.
func insideCodeNoise(s string, start, end int) bool {
	lo := max(0, start-20)
	hi := min(len(s), end+20)
	return codeNoiseRe.MatchString(s[lo:hi])
}

// FindPriceInHTML scans the page's text nodes in document order and
// returns the first price whose enclosing container names the service.
func FindPriceInHTML(rawHTML string, tokens []string) (*PriceMatch, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, false
	}
	doc.Find(scrape.NoiseSelector).Remove()

	m := newMatcher(tokens)
	texts := make(map[*html.Node]string)
	containerText := func(n *html.Node) string {
		if t, ok := texts[n]; ok {
			return t
		}
		t := foldAccents(strings.ToLower(nodeText(n)))
		texts[n] = t
		return t
	}

	var found *PriceMatch
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.TextNode && hasCurrencySymbol(n.Data) && !underCode(n) {
			prices := findPrices(n.Data)
			if len(prices) > 0 {
				if c := matchingContainer(n, m, containerText); c != nil {
					p := prices[0]
					found = &PriceMatch{
						Value:    p.value,
						Currency: p.currency,
						Raw:      p.raw,
						Context:  snippet(containerText(c), 240),
					}
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	for _, root := range doc.Nodes {
		if walk(root) {
			return found, true
		}
	}
	return nil, false
}

func matchingContainer(n *html.Node, m matcher, text func(*html.Node) string) *html.Node {
	depth := 0
	for p := n.Parent; p != nil && depth < maxAncestorWalk; p = p.Parent {
		depth++
		if p.Type != html.ElementNode || !containerTags[p.Data] {
			continue
		}
		if m.matches(text(p)) {
			return p
		}
	}
	return nil
}

func underCode(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && codeTags[p.Data] {
			return true
		}
	}
	return false
}

// nodeText joins the trimmed text pieces under n with single spaces.
func nodeText(n *html.Node) string {
	var parts []string
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return strings.Join(parts, " ")
}

// FindPriceInText is the markdown counterpart of FindPriceInHTML. Each
// price is tried against its line, then its paragraph, then its heading
// section.
func FindPriceInText(text string, tokens []string) (*PriceMatch, bool) {
	m := newMatcher(tokens)
	for _, section := range splitSections(text) {
		sectionLower := foldAccents(strings.ToLower(section))
		for _, block := range strings.Split(section, "\n\n") {
			blockLower := foldAccents(strings.ToLower(block))
			for _, line := range strings.Split(block, "\n") {
				if !hasCurrencySymbol(line) {
					continue
				}
				clean := mdLinkTailRe.ReplaceAllString(line, "]")
				prices := findPrices(clean)
				if len(prices) == 0 {
					continue
				}
				lineLower := foldAccents(strings.ToLower(clean))
				var ctx string
				switch {
				case m.matches(lineLower):
					ctx = lineLower
				case m.matches(blockLower):
					ctx = blockLower
				case m.matches(sectionLower):
					ctx = sectionLower
				default:
					continue
				}
				p := prices[0]
				return &PriceMatch{
					Value:    p.value,
					Currency: p.currency,
					Raw:      p.raw,
					Context:  snippet(collapseSpaces(ctx), 240),
				}, true
			}
		}
	}
	return nil, false
}

// splitSections cuts markdown at heading lines, keeping each heading with
// the body under it.
func splitSections(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var sections []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") && cur.Len() > 0 {
			sections = append(sections, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	if cur.Len() > 0 {
		sections = append(sections, cur.String())
	}
	return sections
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// FastHit is a cheap precheck: pages with no currency symbol, or missing a
// query token, cannot yield a regex match.
func FastHit(page *model.CrawledPage, tokens []string) bool {
	if page == nil {
		return false
	}
	body := page.HTML + "\n" + page.Markdown
	if !hasCurrencySymbol(body) {
		return false
	}
	return containsAll(foldAccents(strings.ToLower(body)), tokens)
}

// FindPrice runs the regex tier over one page: the DOM scan first, then
// the markdown scan.
func FindPrice(page *model.CrawledPage, tokens []string) (*PriceMatch, bool) {
	if !FastHit(page, tokens) {
		return nil, false
	}
	if page.HTML != "" {
		if pm, ok := FindPriceInHTML(page.HTML, tokens); ok {
			return pm, true
		}
	}
	if page.Markdown != "" {
		return FindPriceInText(page.Markdown, tokens)
	}
	return nil, false
}
