package player

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/streamwatch/internal/clock"
	"github.com/xkilldash9x/streamwatch/internal/config"
	"github.com/xkilldash9x/streamwatch/internal/humanoid"
	"go.uber.org/zap"
)

func TestTargetSeconds(t *testing.T) {
	assert.Equal(t, 104, TargetSeconds(130.0, 80))
	assert.Equal(t, 0, TargetSeconds(0.9, 100))
	assert.Equal(t, 59, TargetSeconds(59.99, 100))
	assert.Equal(t, 1, TargetSeconds(10, 10))
}

type watchFixture struct {
	start   time.Time
	clk     *clock.Fake
	page    *fakePage
	watcher *Watcher
}

func newWatchFixture(pct int) *watchFixture {
	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewFake(start)
	ads := NewAdSkipper(config.AdsConfig{AutoSkip: true, SkipAfter: 5, MaxSeconds: 15}, clk, zap.NewNop())
	pointer := humanoid.NewPointer(clk, rand.New(rand.NewPCG(3, 4)))
	f := &watchFixture{
		start:   start,
		clk:     clk,
		page:    newFakePage(),
		watcher: NewWatcher(pct, ads, pointer, clk, zap.NewNop()),
	}
	f.page.on(unmuteScript, func() (any, error) { return true, nil })
	f.page.on(playScript, func() (any, error) { return true, nil })
	return f
}

func (f *watchFixture) elapsed() float64 {
	return f.clk.Now().Sub(f.start).Seconds()
}

func (f *watchFixture) playing(duration float64) {
	f.page.on(durationScript, func() (any, error) { return duration, nil })
	f.page.on(mediaStateScript, func() (any, error) {
		return mediaState{Present: true, CurrentTime: f.elapsed(), Width: 1280, Height: 720}, nil
	})
}

func TestWatcherReachesTarget(t *testing.T) {
	f := newWatchFixture(80)
	f.playing(130)

	report, err := f.watcher.Watch(context.Background(), f.page, &scriptedProbe{})
	require.NoError(t, err)

	assert.Equal(t, 130.0, report.DurationSec)
	assert.Equal(t, 104, report.TargetSec)
	assert.GreaterOrEqual(t, report.WatchedSec, 104.0)
	assert.Equal(t, 22, report.Iterations)
	assert.False(t, report.Ended)
	assert.Equal(t, []string{".large-play"}, f.page.clicks)
	assert.Positive(t, f.page.moves, "pointer wanders every sixth iteration")
	assert.Zero(t, f.page.evalCount(playScript), "never paused")
}

func TestWatcherStuckPlayerTerminates(t *testing.T) {
	f := newWatchFixture(80)
	f.page.on(durationScript, func() (any, error) { return 130.0, nil })
	f.page.on(mediaStateScript, func() (any, error) {
		return mediaState{Present: true, CurrentTime: 3, Paused: true, Width: 1280, Height: 720}, nil
	})

	report, err := f.watcher.Watch(context.Background(), f.page, &scriptedProbe{})
	require.NoError(t, err, "falling short of the target is not an error")

	assert.Equal(t, 104/5+10, report.Iterations)
	assert.Equal(t, 3.0, report.WatchedSec)
	assert.Equal(t, report.Iterations, f.page.evalCount(playScript), "play re-issued on every paused reading")
}

func TestWatcherEndedExitsEarly(t *testing.T) {
	f := newWatchFixture(100)
	f.page.on(durationScript, func() (any, error) { return 600.0, nil })
	f.page.on(mediaStateScript, func() (any, error) {
		return mediaState{Present: true, CurrentTime: 42, Ended: true}, nil
	})

	report, err := f.watcher.Watch(context.Background(), f.page, &scriptedProbe{})
	require.NoError(t, err)
	assert.True(t, report.Ended)
	assert.Equal(t, 1, report.Iterations)
}

func TestWatcherDurationUnavailable(t *testing.T) {
	f := newWatchFixture(80)
	f.page.on(durationScript, func() (any, error) { return 0, nil })

	report, err := f.watcher.Watch(context.Background(), f.page, &scriptedProbe{})
	assert.ErrorIs(t, err, ErrDurationUnavailable)
	assert.Zero(t, report.DurationSec)
	assert.Equal(t, 10, f.page.evalCount(durationScript))
	assert.Equal(t, 9*time.Second, f.clk.Slept())
}

func TestWatcherMediaElementMissing(t *testing.T) {
	f := newWatchFixture(80)
	f.page.on(durationScript, func() (any, error) { return 130.0, nil })
	f.page.on(mediaStateScript, func() (any, error) { return mediaState{Present: false}, nil })

	report, err := f.watcher.Watch(context.Background(), f.page, &scriptedProbe{})
	assert.ErrorIs(t, err, ErrMediaElementMissing)
	assert.Equal(t, 130.0, report.DurationSec, "duration survives a later failure")
}

func TestWatcherPlayTiers(t *testing.T) {
	f := newWatchFixture(80)
	f.playing(130)
	f.page.clickErr[".large-play"] = errBoom
	f.page.clickErr["video"] = errBoom

	_, err := f.watcher.Watch(context.Background(), f.page, &scriptedProbe{})
	require.NoError(t, err)
	assert.Equal(t, []string{".large-play", "video"}, f.page.clicks[:2])
	assert.Equal(t, 1, f.page.evalCount(playScript), "scripted play is the last resort")
}

func TestWatcherUnmuteFailureTolerated(t *testing.T) {
	f := newWatchFixture(50)
	f.playing(20)
	f.page.on(unmuteScript, func() (any, error) { return nil, errBoom })

	report, err := f.watcher.Watch(context.Background(), f.page, &scriptedProbe{})
	require.NoError(t, err)
	assert.Equal(t, 10, report.TargetSec)
}

func TestWatcherCancelled(t *testing.T) {
	f := newWatchFixture(80)
	f.playing(130)
	ctx, cancel := context.WithCancel(context.Background())
	f.clk.OnSleep = func(time.Duration) {
		if f.elapsed() >= 20 {
			cancel()
		}
	}

	report, err := f.watcher.Watch(ctx, f.page, &scriptedProbe{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, report.WatchedSec, 104.0)
}
