// internal/player/probe.go
package player

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/xkilldash9x/streamwatch/internal/browser/jsexpr"
	"github.com/xkilldash9x/streamwatch/internal/job"
)

const (
	// FallbackAdTotal is assumed when the ad length cannot be read.
	FallbackAdTotal = 30 * time.Second

	skipClickTimeout = 2 * time.Second
)

// AdTiming is a best-effort estimate of the running ad. Neither value is exact.
type AdTiming struct {
	Elapsed time.Duration
	Total   time.Duration
}

// Probe inspects and drives the platform specific player chrome.
type Probe interface {
	Platform() job.Platform
	AdPlaying(ctx context.Context, page Page) (bool, error)
	CanSkip(ctx context.Context, page Page) (bool, error)
	// AdTiming never fails on unparseable text; it falls back to zero elapsed
	// and FallbackAdTotal.
	AdTiming(ctx context.Context, page Page) (AdTiming, error)
	Skip(ctx context.Context, page Page) error
	// PlaySelectors lists click targets that start playback, most specific first.
	PlaySelectors() []string
}

// ProbeFor returns the probe of a platform.
func ProbeFor(p job.Platform) (Probe, error) {
	switch p {
	case job.PlatformYouTube:
		return NewYouTubeProbe(), nil
	case job.PlatformRumble:
		return NewRumbleProbe(), nil
	default:
		return nil, fmt.Errorf("no player probe for platform %q", p)
	}
}

// adTimingRaw is what the page reports about the running ad.
type adTimingRaw struct {
	Segments   int     `json:"segments"`
	Text       string  `json:"text"`
	AdDuration float64 `json:"adDuration"`
}

const adPresenceFn = `(selectors) => selectors.some((sel) => document.querySelector(sel) !== null)`

// firstVisibleFn returns the first selector matching a visible element, or "".
const firstVisibleFn = `(selectors) => {
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (!el) {
			continue;
		}
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		if (rect.width > 0 && rect.height > 0 && style.visibility !== 'hidden' && style.display !== 'none') {
			return sel;
		}
	}
	return '';
}`

const adTimingFn = `(progressSelector, textSelectors) => {
	const progress = progressSelector ? document.querySelector(progressSelector) : null;
	let text = '';
	for (const sel of textSelectors) {
		const el = document.querySelector(sel);
		if (el && el.textContent && el.textContent.trim()) {
			text = el.textContent.trim();
			break;
		}
	}
	const video = document.querySelector('video');
	const d = video ? video.duration : 0;
	return {
		segments: progress ? progress.children.length : 0,
		text: text,
		adDuration: Number.isFinite(d) && d > 0 ? d : 0,
	};
}`

// selectorProbe implements the DOM plumbing shared by the platform probes.
type selectorProbe struct {
	platform      job.Platform
	playSelectors []string

	presenceScript string
	skipScript     string
	timingScript   string
}

func newSelectorProbe(p job.Platform, adSelectors, skipSelectors, playSelectors []string, progressSelector string, textSelectors []string) selectorProbe {
	return selectorProbe{
		platform:       p,
		playSelectors:  playSelectors,
		presenceScript: jsexpr.MustCall(adPresenceFn, adSelectors),
		skipScript:     jsexpr.MustCall(firstVisibleFn, skipSelectors),
		timingScript:   jsexpr.MustCall(adTimingFn, progressSelector, textSelectors),
	}
}

func (s selectorProbe) Platform() job.Platform { return s.platform }

func (s selectorProbe) PlaySelectors() []string {
	return append([]string(nil), s.playSelectors...)
}

func (s selectorProbe) AdPlaying(ctx context.Context, page Page) (bool, error) {
	var present bool
	if err := page.Evaluate(ctx, s.presenceScript, &present); err != nil {
		return false, err
	}
	return present, nil
}

func (s selectorProbe) visibleSkip(ctx context.Context, page Page) (string, error) {
	var sel string
	if err := page.Evaluate(ctx, s.skipScript, &sel); err != nil {
		return "", err
	}
	return sel, nil
}

func (s selectorProbe) CanSkip(ctx context.Context, page Page) (bool, error) {
	sel, err := s.visibleSkip(ctx, page)
	return sel != "", err
}

func (s selectorProbe) Skip(ctx context.Context, page Page) error {
	sel, err := s.visibleSkip(ctx, page)
	if err != nil {
		return err
	}
	if sel == "" {
		return fmt.Errorf("no visible skip button")
	}
	return page.Click(ctx, sel, skipClickTimeout)
}

func (s selectorProbe) rawTiming(ctx context.Context, page Page) (adTimingRaw, error) {
	var raw adTimingRaw
	err := page.Evaluate(ctx, s.timingScript, &raw)
	return raw, err
}

var (
	clockPattern   = regexp.MustCompile(`(\d+):(\d{2})(?::(\d{2}))?`)
	secondsPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:s\b|sec|second)`)
	barePattern    = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*$`)
)

// ParseCountdown extracts a duration in seconds from on-screen countdown text
// such as "0:15", "Ad 1 of 2 · 1:05", "1:02:03", "Skip in 5s" or "12". It
// reports false when nothing numeric can be found.
func ParseCountdown(text string) (float64, bool) {
	if m := clockPattern.FindStringSubmatch(text); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		if m[3] != "" {
			c, _ := strconv.Atoi(m[3])
			return float64(a*3600 + b*60 + c), true
		}
		return float64(a*60 + b), true
	}
	if m := secondsPattern.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		return v, err == nil
	}
	if m := barePattern.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		return v, err == nil
	}
	return 0, false
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
