// internal/player/adskip.go
package player

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xkilldash9x/streamwatch/internal/clock"
	"github.com/xkilldash9x/streamwatch/internal/config"
	"go.uber.org/zap"
)

const (
	adPollInterval = 5 * time.Second
	adSkipSettle   = time.Second
	// adBoundSlack is added to the poll bound derived from the ad cap.
	adBoundSlack = 5
)

// AdState classifies the player on one poll.
type AdState int

const (
	NoAd AdState = iota
	AdUnskippable
	AdSkippable
)

func (s AdState) String() string {
	switch s {
	case NoAd:
		return "no_ad"
	case AdUnskippable:
		return "ad_unskippable"
	case AdSkippable:
		return "ad_skippable"
	default:
		return fmt.Sprintf("ad_state(%d)", int(s))
	}
}

// AdReport summarises one AdSkipper run.
type AdReport struct {
	Polls     int
	Skips     int
	LastState AdState
	// BoundHit is set when the poll bound ran out while an ad was still showing.
	BoundHit bool
}

// AdSkipper polls the player for ads and skips them according to the
// configured policy. It holds no per-run state and may be reused.
type AdSkipper struct {
	autoSkip   bool
	skipAfter  time.Duration
	maxSeconds time.Duration
	clock      clock.Clock
	logger     *zap.Logger
}

func NewAdSkipper(cfg config.AdsConfig, clk clock.Clock, logger *zap.Logger) *AdSkipper {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdSkipper{
		autoSkip:   cfg.AutoSkip,
		skipAfter:  time.Duration(cfg.SkipAfter) * time.Second,
		maxSeconds: time.Duration(cfg.MaxSeconds) * time.Second,
		clock:      clk,
		logger:     logger.Named("ad_skipper"),
	}
}

// MaxPolls is the iteration bound of a single Run.
func (a *AdSkipper) MaxPolls() int {
	ms := float64(a.maxSeconds.Milliseconds())
	return int(math.Ceil(ms/float64(adPollInterval.Milliseconds()))) + adBoundSlack
}

// Run polls until no ad is showing or the bound is exhausted. The only error
// it returns is the context's.
func (a *AdSkipper) Run(ctx context.Context, page Page, probe Probe) (AdReport, error) {
	log := a.logger.With(zap.String("platform", string(probe.Platform())))
	var report AdReport
	bound := a.MaxPolls()

	for poll := 1; poll <= bound; poll++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Polls = poll

		state, timing, err := a.inspect(ctx, page, probe)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if err != nil {
			log.Warn("Ad probe failed, treating poll as ad-free.", zap.Int("poll", poll), zap.Error(fmt.Errorf("%w: %w", ErrAdProbe, err)))
			report.LastState = NoAd
			if err := a.sleepUnlessLast(ctx, poll, bound, adPollInterval); err != nil {
				return report, err
			}
			continue
		}

		report.LastState = state
		if state == NoAd {
			return report, nil
		}

		reason := a.skipReason(state, timing)
		if reason == "" && timing.Elapsed >= a.maxSeconds {
			log.Info("Ad cap reached but the ad cannot be skipped yet.",
				zap.Duration("elapsed", timing.Elapsed), zap.Duration("cap", a.maxSeconds))
		}
		if reason != "" {
			if err := probe.Skip(ctx, page); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return report, ctxErr
				}
				log.Warn("Ad skip click failed.", zap.String("reason", reason), zap.Error(err))
			} else {
				report.Skips++
				log.Debug("Ad skipped.", zap.String("reason", reason),
					zap.Duration("elapsed", timing.Elapsed), zap.Duration("total", timing.Total))
				if err := a.clock.Sleep(ctx, adSkipSettle); err != nil {
					return report, err
				}
				continue
			}
		}

		if err := a.sleepUnlessLast(ctx, poll, bound, adPollInterval); err != nil {
			return report, err
		}
	}

	if report.LastState != NoAd {
		report.BoundHit = true
		log.Warn("Ad poll bound exhausted with an ad still showing.", zap.Int("polls", report.Polls))
	}
	return report, nil
}

func (a *AdSkipper) inspect(ctx context.Context, page Page, probe Probe) (AdState, AdTiming, error) {
	playing, err := probe.AdPlaying(ctx, page)
	if err != nil || !playing {
		return NoAd, AdTiming{}, err
	}
	skippable, err := probe.CanSkip(ctx, page)
	if err != nil {
		return NoAd, AdTiming{}, err
	}
	timing, err := probe.AdTiming(ctx, page)
	if err != nil {
		// Timing is an estimate; a failed read only loses the elapsed rules.
		a.logger.Debug("Ad timing unavailable.", zap.Error(err))
		timing = AdTiming{Total: FallbackAdTotal}
	}
	if skippable {
		return AdSkippable, timing, nil
	}
	return AdUnskippable, timing, nil
}

// skipReason applies the policy in order and returns "" when the ad should run on.
func (a *AdSkipper) skipReason(state AdState, t AdTiming) string {
	if state != AdSkippable {
		return ""
	}
	switch {
	case a.autoSkip:
		return "auto"
	case t.Elapsed >= a.skipAfter:
		return "threshold"
	case t.Elapsed >= a.maxSeconds:
		return "cap"
	}
	return ""
}

func (a *AdSkipper) sleepUnlessLast(ctx context.Context, poll, bound int, d time.Duration) error {
	if poll >= bound {
		return nil
	}
	return a.clock.Sleep(ctx, d)
}
