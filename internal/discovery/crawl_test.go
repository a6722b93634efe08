package discovery

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/scrape"
)

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "kwikgarage.co.uk", RegistrableDomain("https://www.kwikgarage.co.uk/prices"))
	assert.Equal(t, "kwikgarage.co.uk", RegistrableDomain("shop.kwikgarage.co.uk"))
	assert.Equal(t, "example.com", RegistrableDomain("http://example.com:8080/"))
	assert.Equal(t, "127.0.0.1", RegistrableDomain("http://127.0.0.1:5555/x"))
	assert.Equal(t, "", RegistrableDomain(""))
}

func TestSameSite(t *testing.T) {
	assert.True(t, SameSite("https://www.kwikgarage.co.uk", "https://kwikgarage.co.uk/services"))
	assert.True(t, SameSite("https://shop.kwikgarage.co.uk/a", "https://kwikgarage.co.uk"))
	assert.False(t, SameSite("https://kwikgarage.co.uk", "https://facebook.com/kwikgarage"))
	assert.True(t, SameSite("http://127.0.0.1:5555/a", "http://127.0.0.1:5555/b"))
	assert.False(t, SameSite("http://127.0.0.1:5555/a", "http://127.0.0.1:6666/b"))
}

func TestOnDomain(t *testing.T) {
	assert.True(t, OnDomain("https://kwikgarage.co.uk/prices", "kwikgarage.co.uk"))
	assert.True(t, OnDomain("https://www.kwikgarage.co.uk/prices", "kwikgarage.co.uk"))
	assert.False(t, OnDomain("https://notkwikgarage.co.uk/prices", "kwikgarage.co.uk"))
	assert.False(t, OnDomain("https://yell.com/kwikgarage", "kwikgarage.co.uk"))
	assert.False(t, OnDomain("", "kwikgarage.co.uk"))
}

func TestScoreURL(t *testing.T) {
	tokens := []string{"oil", "change"}
	assert.Equal(t, 20, ScoreURL("https://x.co.uk/oil-change", tokens))
	assert.Equal(t, 29, ScoreURL("https://x.co.uk/services/oil-change-filter", tokens))
	assert.Equal(t, 10, ScoreURL("https://x.co.uk/prices", tokens))
	assert.Equal(t, -2, ScoreURL("https://x.co.uk/our-team", tokens))
}

func TestExtractLinks(t *testing.T) {
	page := &model.CrawledPage{
		URL: "https://kwikgarage.co.uk/",
		HTML: `<a href="/services">Services</a>
			<a href="/services#top">dup</a>
			<a href="mailto:hi@kwikgarage.co.uk">mail</a>
			<a href="javascript:void(0)">js</a>
			<a href="https://facebook.com/kwik">fb</a>`,
		Markdown: "[Prices](/prices)",
	}
	assert.Equal(t, []string{
		"https://kwikgarage.co.uk/services",
		"https://facebook.com/kwik",
		"https://kwikgarage.co.uk/prices",
	}, ExtractLinks(page))
	assert.Nil(t, ExtractLinks(nil))
}

func TestRankLinks(t *testing.T) {
	links := []string{
		"https://kwikgarage.co.uk/our-team",
		"https://kwikgarage.co.uk/prices",
		"https://kwikgarage.co.uk/blog/oil-change-tips",
		"https://kwikgarage.co.uk/oil-change",
		"https://facebook.com/oil-change",
		"https://kwikgarage.co.uk/checkout/oil-change",
		"https://kwikgarage.co.uk/seen",
	}
	visited := map[string]bool{"https://kwikgarage.co.uk/seen": true}
	got := RankLinks(links, "https://kwikgarage.co.uk", []string{"oil", "change"}, scrape.NewPathMatcher(nil), visited)
	assert.Equal(t, []string{
		"https://kwikgarage.co.uk/oil-change",
		"https://kwikgarage.co.uk/prices",
		"https://kwikgarage.co.uk/our-team",
	}, got)
}

func TestRankLinks_SkipWordsInHostIgnored(t *testing.T) {
	tests := []struct {
		name string
		site string
	}{
		{name: "cart in host", site: "https://cartwrightmotors.co.uk/"},
		{name: "news in host", site: "https://newsomegarage.co.uk/"},
		{name: "about in host", site: "https://aboutfaceautos.co.uk/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := strings.TrimSuffix(tt.site, "/") + "/services/oil-change"
			got := RankLinks([]string{link}, tt.site, Tokenize("oil change"), nil, map[string]bool{})
			assert.Equal(t, []string{link}, got)
		})
	}
}

func TestRankLinks_KeepsLinksWithoutOverlap(t *testing.T) {
	links := []string{
		"https://kwik.co.uk/our-work",
		"https://kwik.co.uk/workshop",
		"https://kwik.co.uk/news/offers",
	}
	got := RankLinks(links, "https://kwik.co.uk/", Tokenize("oil change"), nil, map[string]bool{})
	assert.Equal(t, []string{
		"https://kwik.co.uk/workshop",
		"https://kwik.co.uk/our-work",
	}, got)
}

func TestCrawler_FollowsGenericLinks(t *testing.T) {
	f := newSiteFetcher(
		&model.CrawledPage{
			URL:  "https://kwik.co.uk",
			HTML: `<h1>Kwik</h1><a href="/workshop">Workshop</a>`,
		},
		&model.CrawledPage{
			URL:  "https://kwik.co.uk/workshop",
			HTML: `<ul><li>Oil change £39</li></ul>`,
		},
	)
	c := crawler{fetcher: f, cfg: DefaultCrawlConfig()}

	res, err := c.crawl(context.Background(), "https://kwik.co.uk", Tokenize("oil change"))
	require.NoError(t, err)
	require.NotNil(t, res.match)
	assert.Equal(t, 39.0, res.match.Value)
	assert.Equal(t, "https://kwik.co.uk/workshop", res.matchURL)
}

func garageSite() *siteFetcher {
	return newSiteFetcher(
		&model.CrawledPage{
			URL:  "https://kwikgarage.co.uk",
			HTML: `<h1>Kwik Garage</h1><a href="/services">Our services</a><a href="/blog">Blog</a><a href="/contact">Contact</a>`,
		},
		&model.CrawledPage{
			URL:      "https://kwikgarage.co.uk/services",
			HTML:     `<p>We do oil changes and brakes.</p><a href="/services/oil-change">Oil change</a><a href="/services/brakes">Brakes</a>`,
			Markdown: "We do oil changes and brakes.",
		},
		&model.CrawledPage{
			URL:      "https://kwikgarage.co.uk/services/oil-change",
			HTML:     `<ul><li>Oil change: £45</li><li>MOT £54.85</li></ul>`,
			Markdown: "Oil change: £45",
		},
	)
}

func TestCrawler_FindsPriceOnSubLink(t *testing.T) {
	f := garageSite()
	c := crawler{fetcher: f, cfg: DefaultCrawlConfig()}

	res, err := c.crawl(context.Background(), "https://kwikgarage.co.uk", Tokenize("oil change"))
	require.NoError(t, err)
	require.NotNil(t, res.match)
	assert.Equal(t, 45.0, res.match.Value)
	assert.Equal(t, "https://kwikgarage.co.uk/services/oil-change", res.matchURL)
	assert.Equal(t, []string{
		"https://kwikgarage.co.uk",
		"https://kwikgarage.co.uk/services",
		"https://kwikgarage.co.uk/services/oil-change",
	}, f.Fetched())
}

func TestCrawler_RespectsPageCap(t *testing.T) {
	home := &model.CrawledPage{URL: "https://kwikgarage.co.uk", HTML: ""}
	pages := []*model.CrawledPage{home}
	for _, p := range []string{"a", "b", "c", "d"} {
		home.HTML += `<a href="/oil-change-` + p + `">x</a>`
		sub := &model.CrawledPage{URL: "https://kwikgarage.co.uk/oil-change-" + p, Markdown: "oil change tips"}
		for _, q := range []string{"1", "2", "3"} {
			sub.HTML += `<a href="/oil-change-` + p + `/oil-` + q + `">y</a>`
		}
		pages = append(pages, sub)
	}
	f := newSiteFetcher(pages...)
	c := crawler{fetcher: f, cfg: DefaultCrawlConfig()}

	res, err := c.crawl(context.Background(), "https://kwikgarage.co.uk", Tokenize("oil change"))
	require.NoError(t, err)
	assert.Nil(t, res.match)
	// 1 homepage + 3 top links + 2 sub-links each.
	assert.Len(t, f.Fetched(), 10)
	assert.Equal(t, 10, res.pages)
	require.NotNil(t, res.bestPage)
	assert.Equal(t, 2, res.bestOverlap)
}

func TestCrawler_HomepageFailure(t *testing.T) {
	c := crawler{fetcher: newSiteFetcher(), cfg: DefaultCrawlConfig()}
	_, err := c.crawl(context.Background(), "https://down.example.com", Tokenize("oil change"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrFetchFailure)
}
