// internal/player/watcher.go
package player

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xkilldash9x/streamwatch/internal/clock"
	"github.com/xkilldash9x/streamwatch/internal/humanoid"
	"go.uber.org/zap"
)

const (
	durationPolls    = 10
	durationInterval = time.Second
	watchInterval    = 5 * time.Second
	// watchBoundSlack is added to target/5 to bound the progress loop.
	watchBoundSlack  = 10
	wanderEvery      = 6
	playClickTimeout = 3 * time.Second
)

const (
	playScript = `(async () => {
	const v = document.querySelector('video');
	if (!v) {
		return false;
	}
	try {
		await v.play();
		return true;
	} catch (e) {
		return false;
	}
})()`

	unmuteScript = `(() => {
	const v = document.querySelector('video');
	if (!v) {
		return false;
	}
	v.muted = false;
	if (v.volume === 0) {
		v.volume = 0.5;
	}
	return true;
})()`

	durationScript = `(() => {
	const v = document.querySelector('video');
	const d = v ? v.duration : 0;
	return Number.isFinite(d) && d > 0 ? d : 0;
})()`

	mediaStateScript = `(() => {
	const v = document.querySelector('video');
	return {
		present: !!v,
		currentTime: v ? v.currentTime : 0,
		paused: v ? v.paused : true,
		ended: v ? v.ended : false,
		width: window.innerWidth,
		height: window.innerHeight,
	};
})()`
)

// mediaState is one reading of the primary media element.
type mediaState struct {
	Present     bool    `json:"present"`
	CurrentTime float64 `json:"currentTime"`
	Paused      bool    `json:"paused"`
	Ended       bool    `json:"ended"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// WatchReport describes how far playback got. Fields are filled as they
// become known, so a failed watch still reports the duration it found.
type WatchReport struct {
	DurationSec float64
	TargetSec   int
	WatchedSec  float64
	Iterations  int
	Ended       bool
}

// TargetSeconds is floor(duration * percentage / 100).
func TargetSeconds(duration float64, percentage int) int {
	return int(math.Floor(duration * float64(percentage) / 100))
}

// Watcher drives playback to the configured share of the media duration.
type Watcher struct {
	percentage int
	ads        *AdSkipper
	pointer    *humanoid.Pointer
	clock      clock.Clock
	logger     *zap.Logger
}

func NewWatcher(percentage int, ads *AdSkipper, pointer *humanoid.Pointer, clk clock.Clock, logger *zap.Logger) *Watcher {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pointer == nil {
		pointer = humanoid.NewPointer(clk, nil)
	}
	return &Watcher{
		percentage: percentage,
		ads:        ads,
		pointer:    pointer,
		clock:      clk,
		logger:     logger.Named("watcher"),
	}
}

// Watch starts playback, resolves the duration and keeps the media playing
// until the target is reached, playback ends or the loop bound runs out.
func (w *Watcher) Watch(ctx context.Context, page Page, probe Probe) (WatchReport, error) {
	log := w.logger.With(zap.String("platform", string(probe.Platform())))
	var report WatchReport

	w.startPlayback(ctx, page, probe, log)
	var unmuted bool
	if err := page.Evaluate(ctx, unmuteScript, &unmuted); err != nil {
		log.Debug("Unmute failed.", zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	duration, err := w.resolveDuration(ctx, page)
	if err != nil {
		return report, err
	}
	report.DurationSec = duration
	report.TargetSec = TargetSeconds(duration, w.percentage)
	log.Info("Media duration found.", zap.Float64("duration_sec", duration), zap.Int("target_sec", report.TargetSec))

	bound := report.TargetSec/int(watchInterval/time.Second) + watchBoundSlack
	for i := 1; i <= bound; i++ {
		report.Iterations = i
		if w.ads != nil {
			if _, err := w.ads.Run(ctx, page, probe); err != nil {
				return report, err
			}
		}

		var st mediaState
		if err := page.Evaluate(ctx, mediaStateScript, &st); err != nil {
			return report, fmt.Errorf("reading playback state: %w", err)
		}
		if !st.Present {
			return report, ErrMediaElementMissing
		}
		report.WatchedSec = st.CurrentTime
		report.Ended = st.Ended
		if st.CurrentTime >= float64(report.TargetSec) || st.Ended {
			log.Info("Watch finished.", zap.Float64("watched_sec", st.CurrentTime), zap.Bool("ended", st.Ended))
			return report, nil
		}

		if st.Paused {
			log.Debug("Playback paused, resuming.", zap.Float64("current_time", st.CurrentTime))
			w.resume(ctx, page, probe, log)
		}
		if i%wanderEvery == 0 {
			if err := w.pointer.Wander(ctx, page, st.Width, st.Height); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return report, ctxErr
				}
				log.Debug("Pointer wander failed.", zap.Error(err))
			}
		}

		if err := w.clock.Sleep(ctx, watchInterval); err != nil {
			return report, err
		}
	}

	log.Warn("Watch loop bound reached below target.",
		zap.Float64("watched_sec", report.WatchedSec), zap.Int("target_sec", report.TargetSec))
	return report, nil
}

// startPlayback tries each play selector until one click lands, then falls
// back to calling play() on the element. Every failure here is tolerated.
func (w *Watcher) startPlayback(ctx context.Context, page Page, probe Probe, log *zap.Logger) {
	for _, sel := range probe.PlaySelectors() {
		if err := page.Click(ctx, sel, playClickTimeout); err != nil {
			log.Debug("Play click missed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		return
	}
	var started bool
	if err := page.Evaluate(ctx, playScript, &started); err != nil || !started {
		log.Debug("Scripted play did not start playback.", zap.Error(err))
	}
}

func (w *Watcher) resume(ctx context.Context, page Page, probe Probe, log *zap.Logger) {
	var started bool
	if err := page.Evaluate(ctx, playScript, &started); err == nil && started {
		return
	}
	sels := probe.PlaySelectors()
	if len(sels) == 0 {
		return
	}
	if err := page.Click(ctx, sels[len(sels)-1], playClickTimeout); err != nil {
		log.Debug("Resume click failed.", zap.Error(err))
	}
}

func (w *Watcher) resolveDuration(ctx context.Context, page Page) (float64, error) {
	for i := 0; i < durationPolls; i++ {
		var d float64
		err := page.Evaluate(ctx, durationScript, &d)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if err == nil && d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d) {
			return d, nil
		}
		if i < durationPolls-1 {
			if err := w.clock.Sleep(ctx, durationInterval); err != nil {
				return 0, err
			}
		}
	}
	return 0, ErrDurationUnavailable
}
