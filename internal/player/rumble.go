// internal/player/rumble.go
package player

import (
	"context"

	"github.com/xkilldash9x/streamwatch/internal/job"
)

// RumbleProbe reads the Rumble player and its IMA ad overlay.
type RumbleProbe struct {
	selectorProbe
}

var _ Probe = (*RumbleProbe)(nil)

func NewRumbleProbe() *RumbleProbe {
	return &RumbleProbe{newSelectorProbe(
		job.PlatformRumble,
		[]string{".videoAdUi", ".video-ad-indicator", "[class*='ad-playing']", ".rumble-ad-overlay"},
		[]string{".videoAdUiSkipButton", "button[aria-label='Skip Ad']", ".rumble-ad-skip"},
		[]string{".bigPlayUIInner", ".bigPlayUI", "video"},
		"",
		[]string{".videoAdUiAttribution", ".videoAdUiPreSkipText", ".video-ad-countdown"},
	)}
}

// AdTiming reads the countdown label, which shows the remaining seconds.
func (p *RumbleProbe) AdTiming(ctx context.Context, page Page) (AdTiming, error) {
	raw, err := p.rawTiming(ctx, page)
	if err != nil {
		return AdTiming{Total: FallbackAdTotal}, err
	}
	return rumbleTiming(raw), nil
}

func rumbleTiming(raw adTimingRaw) AdTiming {
	total := FallbackAdTotal
	if raw.AdDuration > 0 {
		total = seconds(raw.AdDuration)
	}
	remaining, ok := ParseCountdown(raw.Text)
	if !ok {
		return AdTiming{Total: total}
	}
	elapsed := total - seconds(remaining)
	if elapsed < 0 {
		elapsed = 0
	}
	return AdTiming{Elapsed: elapsed, Total: total}
}
