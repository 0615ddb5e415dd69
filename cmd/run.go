package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/streamwatch/internal/browser/session"
	"github.com/xkilldash9x/streamwatch/internal/browser/stealth"
	"github.com/xkilldash9x/streamwatch/internal/clock"
	"github.com/xkilldash9x/streamwatch/internal/config"
	"github.com/xkilldash9x/streamwatch/internal/engine"
	"github.com/xkilldash9x/streamwatch/internal/humanoid"
	"github.com/xkilldash9x/streamwatch/internal/job"
	"github.com/xkilldash9x/streamwatch/internal/observability"
	"github.com/xkilldash9x/streamwatch/internal/platform"
	"github.com/xkilldash9x/streamwatch/internal/player"
	"github.com/xkilldash9x/streamwatch/internal/proxy"
	"github.com/xkilldash9x/streamwatch/internal/store"
)

// flagKeys maps command line flags onto configuration keys, so flags
// override the config file and environment.
var flagKeys = map[string]string{
	"watch-time-percentage": "watch.watch_time_percentage",
	"navigation-timeout":    "watch.navigation_timeout",
	"concurrency":           "scheduler.concurrency",
	"concurrency-interval":  "scheduler.concurrency_interval",
	"use-proxies":           "proxy.use_proxies",
	"proxy-url":             "proxy.urls",
	"proxy-group":           "proxy.groups",
	"proxy-country":         "proxy.country",
	"auto-skip-ads":         "ads.auto_skip",
	"skip-ads-after":        "ads.skip_after",
	"max-seconds-ads":       "ads.max_seconds",
	"headless":              "browser.headless",
	"dataset-dir":           "results.dataset_dir",
	"postgres":              "results.postgres",
}

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [urls...]",
		Short: "Watch every given video once, each in its own browser session",
		Long: `Watch every given video once, each in its own browser session.

URLs come from the arguments or, when none are given, from watch.urls in the
configuration. Unsupported or malformed URLs are skipped. The exit status is 0
when at least one video was watched, 1 when every job failed and 2 when no
valid URL was given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.WatchCfg.URLs = args
			}
			return runWatch(ctx, cfg, observability.GetLogger(), cmd.OutOrStdout(), defaultComponents)
		},
	}

	flags := runCmd.Flags()
	flags.IntP("watch-time-percentage", "p", 0, "Share of each video to watch, 1-100. (Overrides config/env)")
	flags.Duration("navigation-timeout", 0, "Page load timeout. (Overrides config/env)")
	flags.IntP("concurrency", "j", 0, "Number of concurrent browser sessions. (Overrides config/env)")
	flags.Duration("concurrency-interval", 0, "Pause between session starts. (Overrides config/env)")
	flags.Bool("use-proxies", true, "Route sessions through proxies. (Overrides config/env)")
	flags.StringSlice("proxy-url", nil, "Static proxy, repeatable. (Overrides config/env)")
	flags.StringSlice("proxy-group", nil, "Rotating proxy group, repeatable. (Overrides config/env)")
	flags.String("proxy-country", "", "Rotating proxy country code. (Overrides config/env)")
	flags.Bool("auto-skip-ads", true, "Skip ads as soon as they allow it. (Overrides config/env)")
	flags.Int("skip-ads-after", 0, "Seconds of ad before skipping. (Overrides config/env)")
	flags.Int("max-seconds-ads", 0, "Seconds of ad after which a skippable ad is always skipped. (Overrides config/env)")
	flags.Bool("headless", true, "Run Chrome headless. (Overrides config/env)")
	flags.String("dataset-dir", "", "Directory for results.jsonl and overall.json. (Overrides config/env)")
	flags.Bool("postgres", false, "Also write results to PostgreSQL. (Overrides config/env)")

	return runCmd
}

// runComponents holds the initialized services of one run.
type runComponents struct {
	Scheduler *engine.Scheduler
	closers   []func()
}

// Shutdown releases everything in reverse construction order.
func (rc *runComponents) Shutdown() {
	for i := len(rc.closers) - 1; i >= 0; i-- {
		rc.closers[i]()
	}
}

// componentFactory builds the services of a run; tests swap it out.
type componentFactory func(ctx context.Context, cfg config.Interface, runID string, logger *zap.Logger) (*runComponents, error)

// runWatch turns URLs into jobs, runs them and maps the outcome to an exit status.
func runWatch(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, build componentFactory) error {
	jobs, rejected := job.FromURLs(cfg.Watch().URLs)
	for _, r := range rejected {
		logger.Warn("Skipping URL.", zap.String("url", r.URL), zap.String("reason", r.Reason))
	}
	if len(jobs) == 0 {
		return &ExitError{Code: ExitNoJobs, Err: engine.ErrNoJobs}
	}

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("Starting run.", zap.Int("jobs", len(jobs)), zap.Int("rejected", len(rejected)))

	components, err := build(ctx, cfg, runID, logger)
	if err != nil {
		if components != nil {
			components.Shutdown()
		}
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("failed to initialize run components: %w", err)}
	}
	defer components.Shutdown()

	overall, err := components.Scheduler.Run(ctx, jobs)
	if overall != nil {
		printSummary(out, runID, overall.Snapshot())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Run aborted.")
		}
		return &ExitError{Code: ExitFailure, Err: err}
	}

	_, ok, _ := overall.Counts()
	if ok == 0 {
		return &ExitError{Code: ExitFailure, Err: errors.New("every job failed")}
	}
	return nil
}

func printSummary(out io.Writer, runID string, s job.Summary) {
	fmt.Fprintf(out, "\nRun %s: %d jobs, %d succeeded, %d failed", runID, s.TotalJobs, s.SuccessfulJobs, s.FailedJobs)
	if s.FinishedAt != nil {
		fmt.Fprintf(out, " in %s", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	}
	fmt.Fprintln(out)
	for _, r := range s.Results {
		line := fmt.Sprintf("  %-22s %-10s %s", r.Status, r.Platform, r.URL)
		if r.Error != nil {
			line += "  (" + r.Error.Message + ")"
		}
		fmt.Fprintln(out, line)
	}
}

// defaultComponents handles dependency injection for a real run.
func defaultComponents(ctx context.Context, cfg config.Interface, runID string, logger *zap.Logger) (*runComponents, error) {
	rc := &runComponents{}
	clk := clock.Real{}

	// 1. Proxies
	proxyCfg := cfg.Proxy()
	endpoints, errs := proxy.ParseList(proxyCfg.URLs)
	for _, err := range errs {
		logger.Warn("Ignoring proxy entry.", zap.Error(err))
	}
	var rotating session.RotatingIssuer
	if proxyCfg.UseProxies && len(endpoints) == 0 {
		r, err := proxy.NewRotating(proxyCfg)
		if err != nil {
			logger.Warn("Rotating proxy service unavailable.", zap.Error(err))
		} else {
			rotating = r
		}
	}
	acquirer := session.NewAcquirer(proxyCfg.UseProxies, proxy.NewPool(endpoints, nil), rotating, logger)

	// 2. Browser
	injector, err := stealth.NewInjector(logger)
	if err != nil {
		return rc, fmt.Errorf("failed to load fingerprint overrides: %w", err)
	}
	launcher := session.NewChromeLauncher(cfg.Browser(), injector, logger)

	// 3. Player
	ads := player.NewAdSkipper(cfg.Ads(), clk, logger)
	watcher := player.NewWatcher(cfg.Watch().WatchTimePercentage, ads, humanoid.NewPointer(clk, nil), clk, logger)

	runner, err := engine.NewRunner(acquirer, launcher, ads, watcher, nil, engine.RunnerOptions{
		NavigationTimeout: cfg.Watch().NavigationTimeout,
		TeardownTimeout:   cfg.Browser().TeardownTimeout,
	}, clk, logger)
	if err != nil {
		return rc, fmt.Errorf("failed to create job runner: %w", err)
	}

	// 4. Result sinks
	sink, err := buildSinks(ctx, cfg, runID, logger, rc)
	if err != nil {
		return rc, err
	}

	// 5. Host capacity
	var capacity engine.CapacityProbe
	if url := cfg.Platform().EventsWSURL; url != "" {
		events := platform.NewEventsProbe(url, logger)
		if err := events.Connect(ctx); err != nil {
			logger.Warn("Platform events unavailable, running without capacity checks.", zap.Error(err))
		} else {
			rc.closers = append(rc.closers, func() { _ = events.Close() })
			capacity = events
		}
	}

	scheduler, err := engine.NewScheduler(cfg.Scheduler(), runner, sink, capacity, clk, logger)
	if err != nil {
		return rc, fmt.Errorf("failed to create scheduler: %w", err)
	}
	rc.Scheduler = scheduler
	return rc, nil
}

// buildSinks opens the configured result sinks and registers their closers on rc.
func buildSinks(ctx context.Context, cfg config.Interface, runID string, logger *zap.Logger, rc *runComponents) (engine.ResultSink, error) {
	var sinks store.Multi

	if dir := cfg.Results().DatasetDir; dir != "" {
		ds, err := store.NewDataset(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open dataset: %w", err)
		}
		rc.closers = append(rc.closers, func() {
			if err := ds.Close(); err != nil {
				logger.Warn("Failed to close dataset.", zap.Error(err))
			}
		})
		logger.Info("Writing results to dataset.", zap.String("dir", ds.Dir()))
		sinks = append(sinks, ds)
	}

	if cfg.Results().Postgres {
		pg, closePool, err := store.OpenPostgres(ctx, cfg.Database().URL, runID, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database store: %w", err)
		}
		rc.closers = append(rc.closers, closePool)
		sinks = append(sinks, pg)
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}
