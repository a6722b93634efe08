package scrape

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"cloudflare ray", 403, http.Header{"Cf-Ray": {"abc"}}, "", BlockCloudflare},
		{"cloudflare server", 503, http.Header{"Server": {"cloudflare"}}, "", BlockCloudflare},
		{"challenge body", 200, nil, "<p>Checking your browser before accessing</p>", BlockCloudflare},
		{"recaptcha", 200, nil, `<div class="g-recaptcha"></div>`, BlockCaptcha},
		{"captcha on large page ignored", 200, nil, `<div class="g-recaptcha"></div>` + strings.Repeat("<p>Oil change £45</p>", 2000), BlockNone},
		{"js shell", 200, nil, `<noscript>Please enable JavaScript</noscript>`, BlockJSShell},
		{"meta refresh", 200, nil, `<meta http-equiv="refresh" content="0;url=/x">`, BlockJSShell},
		{"plain 403", 403, nil, "forbidden", BlockNone},
		{"normal page", 200, nil, "<h1>Prices</h1><p>Oil change £45</p>", BlockNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: tt.header}
			if resp.Header == nil {
				resp.Header = http.Header{}
			}
			assert.Equal(t, tt.want, DetectBlock(resp, []byte(tt.body)))
		})
	}
}

func TestDetectBlock_NilResponse(t *testing.T) {
	t.Parallel()
	assert.Equal(t, BlockNone, DetectBlock(nil, []byte("captcha")))
}
