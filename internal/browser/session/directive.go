// internal/browser/session/directive.go
package session

import (
	"fmt"
	"math/rand/v2"

	"github.com/xkilldash9x/streamwatch/internal/proxy"
)

const (
	DefaultLocale   = "en-US"
	DefaultTimezone = "America/New_York"

	minViewportWidth  = 1280
	maxViewportWidth  = 1440
	minViewportHeight = 720
	maxViewportHeight = 900
)

// Viewport is the emulated window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Directive describes how to open the browsing session for one job.
type Directive struct {
	// Proxy is nil when the session connects directly.
	Proxy             *proxy.Endpoint
	Viewport          Viewport
	Locale            string
	Timezone          string
	UserAgent         string
	Platform          string
	AcceptLanguage    string
	IgnoreHTTPSErrors bool
	BypassCSP         bool
}

// ProxyLabel returns the redacted proxy for logs and result records.
func (d Directive) ProxyLabel() string {
	if d.Proxy == nil {
		return ""
	}
	return d.Proxy.Redacted()
}

func randomViewport(rnd *rand.Rand) Viewport {
	return Viewport{
		Width:  minViewportWidth + rnd.IntN(maxViewportWidth-minViewportWidth+1),
		Height: minViewportHeight + rnd.IntN(maxViewportHeight-minViewportHeight+1),
	}
}

type uaPlatform struct {
	token string
	// navigator.platform reported alongside the user agent.
	navigator string
}

var uaPlatforms = []uaPlatform{
	{"Windows NT 10.0; Win64; x64", "Win32"},
	{"Macintosh; Intel Mac OS X 10_15_7", "MacIntel"},
	{"X11; Linux x86_64", "Linux x86_64"},
}

// randomUserAgent returns a Chrome shaped user agent, occasionally the Edge
// variant, together with the matching navigator.platform.
func randomUserAgent(rnd *rand.Rand) (string, string) {
	p := uaPlatforms[rnd.IntN(len(uaPlatforms))]
	major := 120 + rnd.IntN(12)
	build := 6000 + rnd.IntN(800)
	patch := rnd.IntN(200)
	version := fmt.Sprintf("%d.0.%d.%d", major, build, patch)

	ua := fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", p.token, version)
	if rnd.IntN(4) == 0 {
		ua += " Edg/" + version
	}
	return ua, p.navigator
}
