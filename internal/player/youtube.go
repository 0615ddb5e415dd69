// internal/player/youtube.go
package player

import (
	"context"
	"time"

	"github.com/xkilldash9x/streamwatch/internal/job"
)

// segmentSeconds is the nominal length attributed to each ad progress segment.
const segmentSeconds = 5

// YouTubeProbe reads the YouTube HTML5 player.
type YouTubeProbe struct {
	selectorProbe
}

var _ Probe = (*YouTubeProbe)(nil)

func NewYouTubeProbe() *YouTubeProbe {
	return &YouTubeProbe{newSelectorProbe(
		job.PlatformYouTube,
		[]string{".html5-video-player.ad-showing", ".ad-showing", ".ytp-ad-player-overlay"},
		[]string{".ytp-skip-ad-button", ".ytp-ad-skip-button-modern", ".ytp-ad-skip-button", "button.ytp-ad-skip-button-container"},
		[]string{".ytp-large-play-button", "video"},
		".ytp-ad-progress-list",
		[]string{".ytp-ad-duration-remaining", ".ytp-time-duration", ".ytp-ad-text"},
	)}
}

// AdTiming approximates elapsed time from the number of progress segments
// drawn so far. The remaining-time label, when readable, gives the total.
func (p *YouTubeProbe) AdTiming(ctx context.Context, page Page) (AdTiming, error) {
	raw, err := p.rawTiming(ctx, page)
	if err != nil {
		return AdTiming{Total: FallbackAdTotal}, err
	}
	return youTubeTiming(raw), nil
}

func youTubeTiming(raw adTimingRaw) AdTiming {
	elapsed := time.Duration(raw.Segments*segmentSeconds) * time.Second
	if remaining, ok := ParseCountdown(raw.Text); ok {
		return AdTiming{Elapsed: elapsed, Total: elapsed + seconds(remaining)}
	}
	if raw.AdDuration > 0 {
		return AdTiming{Elapsed: elapsed, Total: seconds(raw.AdDuration)}
	}
	return AdTiming{Elapsed: elapsed, Total: FallbackAdTotal}
}
