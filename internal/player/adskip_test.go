package player

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/streamwatch/internal/clock"
	"github.com/xkilldash9x/streamwatch/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newSkipper(cfg config.AdsConfig) (*AdSkipper, *clock.Fake) {
	clk := clock.NewFake(time.Unix(0, 0))
	return NewAdSkipper(cfg, clk, zap.NewNop()), clk
}

func TestAdSkipperMaxPolls(t *testing.T) {
	for _, tt := range []struct{ max, want int }{{15, 8}, {0, 5}, {5, 6}, {16, 9}} {
		s, _ := newSkipper(config.AdsConfig{MaxSeconds: tt.max})
		assert.Equal(t, tt.want, s.MaxPolls(), "max %d", tt.max)
	}
}

func TestAdSkipper(t *testing.T) {
	ctx := context.Background()

	t.Run("no ad exits after one poll", func(t *testing.T) {
		s, clk := newSkipper(config.AdsConfig{AutoSkip: true, MaxSeconds: 15})
		report, err := s.Run(ctx, newFakePage(), &scriptedProbe{})
		require.NoError(t, err)
		assert.Equal(t, AdReport{Polls: 1, LastState: NoAd}, report)
		assert.Empty(t, clk.Sleeps())
	})

	t.Run("auto skip skips immediately then waits a second", func(t *testing.T) {
		s, clk := newSkipper(config.AdsConfig{AutoSkip: true, SkipAfter: 5, MaxSeconds: 15})
		probe := &scriptedProbe{polls: []adPoll{{playing: true, skippable: true}, {}}}
		report, err := s.Run(ctx, newFakePage(), probe)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Skips)
		assert.Equal(t, 2, report.Polls)
		assert.Equal(t, NoAd, report.LastState)
		assert.Equal(t, []time.Duration{time.Second}, clk.Sleeps())
	})

	t.Run("threshold waits for elapsed time", func(t *testing.T) {
		s, clk := newSkipper(config.AdsConfig{AutoSkip: false, SkipAfter: 5, MaxSeconds: 15})
		probe := &scriptedProbe{polls: []adPoll{
			{playing: true, skippable: true, timing: AdTiming{Elapsed: 0, Total: 30 * time.Second}},
			{playing: true, skippable: true, timing: AdTiming{Elapsed: 5 * time.Second, Total: 30 * time.Second}},
			{},
		}}
		report, err := s.Run(ctx, newFakePage(), probe)
		require.NoError(t, err)
		assert.Equal(t, 1, probe.skips)
		assert.Equal(t, 3, report.Polls)
		assert.Equal(t, []time.Duration{5 * time.Second, time.Second}, clk.Sleeps())
	})

	t.Run("cap skips before a longer threshold", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		clk := clock.NewFake(time.Unix(0, 0))
		s := NewAdSkipper(config.AdsConfig{AutoSkip: false, SkipAfter: 20, MaxSeconds: 10}, clk, zap.New(core))
		probe := &scriptedProbe{polls: []adPoll{
			{playing: true, skippable: true, timing: AdTiming{Elapsed: 5 * time.Second, Total: 30 * time.Second}},
			{playing: true, skippable: true, timing: AdTiming{Elapsed: 10 * time.Second, Total: 30 * time.Second}},
			{},
		}}

		report, err := s.Run(ctx, newFakePage(), probe)
		require.NoError(t, err)
		assert.Equal(t, 1, probe.skips)
		assert.Equal(t, 1, report.Skips)
		assert.Equal(t, 3, report.Polls)
		assert.Equal(t, []time.Duration{5 * time.Second, time.Second}, clk.Sleeps())

		skipped := logs.FilterMessage("Ad skipped.").All()
		require.Len(t, skipped, 1)
		assert.Equal(t, "cap", skipped[0].ContextMap()["reason"])
	})

	t.Run("unskippable ad runs to the poll bound", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		clk := clock.NewFake(time.Unix(0, 0))
		s := NewAdSkipper(config.AdsConfig{AutoSkip: true, SkipAfter: 5, MaxSeconds: 15}, clk, zap.New(core))
		probe := &scriptedProbe{polls: []adPoll{{playing: true, timing: AdTiming{Elapsed: 20 * time.Second, Total: 30 * time.Second}}}}

		report, err := s.Run(ctx, newFakePage(), probe)
		require.NoError(t, err)
		assert.Equal(t, 8, report.Polls)
		assert.True(t, report.BoundHit)
		assert.Equal(t, AdUnskippable, report.LastState)
		assert.Zero(t, probe.skips)
		assert.Len(t, clk.Sleeps(), 7)
		assert.Equal(t, 8, logs.FilterMessage("Ad cap reached but the ad cannot be skipped yet.").Len())
	})

	t.Run("probe errors count as ad free and polling continues", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		clk := clock.NewFake(time.Unix(0, 0))
		s := NewAdSkipper(config.AdsConfig{AutoSkip: true, MaxSeconds: 15}, clk, zap.New(core))
		probe := &scriptedProbe{polls: []adPoll{{err: errBoom}, {playing: true, skippable: true}, {}}}

		report, err := s.Run(ctx, newFakePage(), probe)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Skips)
		assert.Equal(t, 3, report.Polls)
		require.Equal(t, 1, logs.Len())
		var logged error
		for _, f := range logs.All()[0].Context {
			if f.Key == "error" {
				logged, _ = f.Interface.(error)
			}
		}
		assert.ErrorIs(t, logged, ErrAdProbe)
	})

	t.Run("failed skip click keeps polling", func(t *testing.T) {
		s, _ := newSkipper(config.AdsConfig{AutoSkip: true, MaxSeconds: 0})
		probe := &scriptedProbe{skipErr: errBoom, polls: []adPoll{{playing: true, skippable: true}}}
		report, err := s.Run(ctx, newFakePage(), probe)
		require.NoError(t, err)
		assert.Zero(t, report.Skips)
		assert.Equal(t, 5, report.Polls)
		assert.True(t, report.BoundHit)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s, _ := newSkipper(config.AdsConfig{MaxSeconds: 15})
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Run(cctx, newFakePage(), &scriptedProbe{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
