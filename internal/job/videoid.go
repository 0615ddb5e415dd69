// internal/job/videoid.go
package job

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	youTubeIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	rumblePagePattern   = regexp.MustCompile(`(?i)^/(v[a-z0-9]+)-[^/]*\.html$`)
	rumbleEmbedPattern  = regexp.MustCompile(`(?i)^/embed/([a-z0-9]+)/?$`)
	youTubePathPrefixes = []string{"/shorts/", "/embed/", "/live/", "/v/"}
)

// Classify determines the platform of a raw URL and extracts its video id.
// The id is empty when the platform is recognised but the URL does not point
// at a single video (channel pages, search results and the like).
func Classify(raw string) (Platform, string) {
	platform, id, _ := classify(raw)
	return platform, id
}

// classify also returns the parsed URL, with https:// added when the input
// had no scheme.
func classify(raw string) (Platform, string, *url.URL) {
	u, ok := parseLoose(raw)
	if !ok {
		return PlatformUnknown, "", nil
	}

	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "m.", "music."} {
		host = strings.TrimPrefix(host, prefix)
	}

	switch host {
	case "youtube.com", "youtube-nocookie.com":
		return PlatformYouTube, youTubeID(u), u
	case "youtu.be":
		return PlatformYouTube, validYouTubeID(firstSegment(u.Path)), u
	case "rumble.com":
		return PlatformRumble, rumbleID(u), u
	default:
		return PlatformUnknown, "", u
	}
}

func parseLoose(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

func youTubeID(u *url.URL) string {
	if u.Path == "/watch" {
		return validYouTubeID(u.Query().Get("v"))
	}
	for _, prefix := range youTubePathPrefixes {
		if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
			return validYouTubeID(firstSegment(rest))
		}
	}
	return ""
}

func rumbleID(u *url.URL) string {
	if m := rumblePagePattern.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	if m := rumbleEmbedPattern.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}

func validYouTubeID(id string) string {
	if youTubeIDPattern.MatchString(id) {
		return id
	}
	return ""
}

func firstSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
