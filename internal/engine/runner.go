// internal/engine/runner.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/streamwatch/internal/browser/session"
	"github.com/xkilldash9x/streamwatch/internal/clock"
	"github.com/xkilldash9x/streamwatch/internal/job"
	"github.com/xkilldash9x/streamwatch/internal/player"
)

// ErrNavigationTimeout means the page did not load within the navigation timeout.
var ErrNavigationTimeout = errors.New("navigation timed out")

const defaultTeardownTimeout = 15 * time.Second

// -- Interfaces for Dependency Inversion --

// DirectiveSource decides how the session of a job is opened.
type DirectiveSource interface {
	Acquire(ctx context.Context, j job.Job) (session.Directive, error)
}

// AdRunner clears whatever ad is showing.
type AdRunner interface {
	Run(ctx context.Context, page player.Page, probe player.Probe) (player.AdReport, error)
}

// PlaybackWatcher keeps the media playing up to its watch target.
type PlaybackWatcher interface {
	Watch(ctx context.Context, page player.Page, probe player.Probe) (player.WatchReport, error)
}

// ProbeFactory returns the player probe for a platform.
type ProbeFactory func(job.Platform) (player.Probe, error)

// RunnerOptions carries the timeouts of a Runner.
type RunnerOptions struct {
	NavigationTimeout time.Duration
	TeardownTimeout   time.Duration
}

// Runner executes one job end to end and always returns a terminal result.
type Runner struct {
	directives DirectiveSource
	launcher   session.Launcher
	ads        AdRunner
	watcher    PlaybackWatcher
	probes     ProbeFactory
	opts       RunnerOptions
	clock      clock.Clock
	logger     *zap.Logger
}

// NewRunner validates its dependencies. A nil probes factory uses player.ProbeFor.
func NewRunner(
	directives DirectiveSource,
	launcher session.Launcher,
	ads AdRunner,
	watcher PlaybackWatcher,
	probes ProbeFactory,
	opts RunnerOptions,
	clk clock.Clock,
	logger *zap.Logger,
) (*Runner, error) {
	if directives == nil {
		return nil, errors.New("directive source cannot be nil")
	}
	if launcher == nil {
		return nil, errors.New("launcher cannot be nil")
	}
	if ads == nil {
		return nil, errors.New("ad runner cannot be nil")
	}
	if watcher == nil {
		return nil, errors.New("watcher cannot be nil")
	}
	if opts.NavigationTimeout <= 0 {
		return nil, errors.New("navigation timeout must be positive")
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = defaultTeardownTimeout
	}
	if probes == nil {
		probes = player.ProbeFor
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Runner{
		directives: directives,
		launcher:   launcher,
		ads:        ads,
		watcher:    watcher,
		probes:     probes,
		opts:       opts,
		clock:      clk,
		logger:     logger.With(zap.String("component", "job_runner")),
	}, nil
}

// Run executes j. Errors and panics are folded into the returned result as a
// failure; the session is closed on every path.
func (r *Runner) Run(ctx context.Context, j job.Job) (res *job.Result) {
	res = job.NewResult(j, r.clock.Now())
	log := r.logger.With(
		zap.String("job_id", j.ID),
		zap.String("platform", string(j.Platform)),
		zap.String("video_id", j.VideoID),
	)
	log.Info("Job started.", zap.String("url", j.URL))

	var sess session.Session
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Job panicked.", zap.Any("panic", rec))
			_ = res.Fail(r.clock.Now(), fmt.Errorf("panic: %v", rec), string(debug.Stack()))
		}
		r.teardown(ctx, sess, log)
	}()

	err := r.execute(ctx, j, res, &sess, log)
	now := r.clock.Now()
	if err != nil {
		log.Warn("Job failed.", zap.Error(err))
		_ = res.Fail(now, err, errorTrace(err))
		return res
	}
	_ = res.Succeed(now)
	log.Info("Job succeeded.",
		zap.Int("target_sec", res.WatchTimeRequestedSec),
		zap.Float64("watched_sec", res.WatchTimeActualSec),
		zap.Duration("elapsed", now.Sub(res.StartedAt)))
	return res
}

func (r *Runner) execute(ctx context.Context, j job.Job, res *job.Result, sess *session.Session, log *zap.Logger) error {
	probe, err := r.probes(j.Platform)
	if err != nil {
		return err
	}

	d, err := r.directives.Acquire(ctx, j)
	if err != nil {
		return fmt.Errorf("acquiring session: %w", err)
	}
	res.ProxyUsed = d.ProxyLabel()

	s, err := r.launcher.Launch(ctx, d)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	*sess = s
	log.Debug("Session open.", zap.String("proxy", res.ProxyUsed),
		zap.Int("width", d.Viewport.Width), zap.Int("height", d.Viewport.Height))

	if err := r.navigate(ctx, s, j.URL); err != nil {
		return err
	}

	if report, err := r.ads.Run(ctx, s, probe); err != nil {
		return fmt.Errorf("clearing pre-roll ads: %w", err)
	} else if report.Skips > 0 || report.BoundHit {
		log.Info("Pre-roll ads handled.", zap.Int("polls", report.Polls), zap.Int("skips", report.Skips))
	}

	report, err := r.watcher.Watch(ctx, s, probe)
	if report.DurationSec > 0 {
		res.SetDuration(report.DurationSec)
	}
	res.WatchTimeRequestedSec = report.TargetSec
	res.WatchTimeActualSec = report.WatchedSec
	if err != nil {
		return fmt.Errorf("watching: %w", err)
	}
	if report.WatchedSec < float64(report.TargetSec) && !report.Ended {
		log.Warn("Watched less than the target.",
			zap.Float64("watched_sec", report.WatchedSec), zap.Int("target_sec", report.TargetSec))
	}
	return nil
}

func (r *Runner) navigate(ctx context.Context, s session.Session, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, r.opts.NavigationTimeout)
	defer cancel()

	err := s.Navigate(navCtx, url)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrNavigationTimeout, r.opts.NavigationTimeout, err)
	}
	return fmt.Errorf("navigating: %w", err)
}

// teardown closes the session on a context detached from the job, so a
// cancelled run still releases its browser.
func (r *Runner) teardown(ctx context.Context, s session.Session, log *zap.Logger) {
	if s == nil {
		return
	}
	tctx, cancel := context.WithTimeout(session.Detach(ctx), r.opts.TeardownTimeout)
	defer cancel()
	if err := s.Close(tctx); err != nil {
		log.Warn("Session teardown failed.", zap.Error(err))
	}
}

// errorTrace lists every layer of a wrapped error, outermost first. Errors
// joined or wrapped with several %w are walked branch by branch, each branch
// indented under its parent.
func errorTrace(err error) string {
	var lines []string
	var walk func(e error, depth int)
	walk = func(e error, depth int) {
		for e != nil {
			lines = append(lines, fmt.Sprintf("%s%T: %s", strings.Repeat("  ", depth), e, e.Error()))
			switch u := e.(type) {
			case interface{ Unwrap() []error }:
				for _, child := range u.Unwrap() {
					walk(child, depth+1)
				}
				return
			case interface{ Unwrap() error }:
				e = u.Unwrap()
			default:
				return
			}
		}
	}
	walk(err, 0)
	return strings.Join(lines, "\n")
}
