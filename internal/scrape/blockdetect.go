package scrape

import (
	"bytes"
	"net/http"
)

// BlockType describes the kind of anti-bot block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

var (
	cloudflareMarkers = [][]byte{[]byte("checking your browser"), []byte("cf-browser-verification"), []byte("cf-chl-")}
	captchaMarkers    = [][]byte{[]byte("g-recaptcha"), []byte("h-captcha"), []byte("hcaptcha.com"), []byte("captcha-delivery"), []byte("turnstile")}
)

// DetectBlock inspects a response for a challenge page. Blocked pages fall
// through to the next scraper in the chain.
func DetectBlock(resp *http.Response, body []byte) BlockType {
	if resp == nil {
		return BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-mitigated") != "" ||
			resp.Header.Get("server") == "cloudflare" {
			return BlockCloudflare
		}
	}

	lower := bytes.ToLower(body)
	for _, m := range cloudflareMarkers {
		if bytes.Contains(lower, m) {
			return BlockCloudflare
		}
	}
	// Small pages only: booking widgets embed captchas on real content pages.
	if len(body) < 20000 {
		for _, m := range captchaMarkers {
			if bytes.Contains(lower, m) {
				return BlockCaptcha
			}
		}
	}

	if len(body) < 2000 {
		if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
			return BlockJSShell
		}
		if bytes.Contains(lower, []byte(`http-equiv="refresh"`)) {
			return BlockJSShell
		}
	}

	return BlockNone
}
