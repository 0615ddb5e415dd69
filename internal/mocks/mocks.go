// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/streamwatch/internal/browser/session"
	"github.com/xkilldash9x/streamwatch/internal/config"
	"github.com/xkilldash9x/streamwatch/internal/job"
	"github.com/xkilldash9x/streamwatch/internal/player"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Watch() config.WatchConfig {
	args := m.Called()
	return args.Get(0).(config.WatchConfig)
}

func (m *MockConfig) Proxy() config.ProxyConfig {
	args := m.Called()
	return args.Get(0).(config.ProxyConfig)
}

func (m *MockConfig) Scheduler() config.SchedulerConfig {
	args := m.Called()
	return args.Get(0).(config.SchedulerConfig)
}

func (m *MockConfig) Ads() config.AdsConfig {
	args := m.Called()
	return args.Get(0).(config.AdsConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Results() config.ResultsConfig {
	args := m.Called()
	return args.Get(0).(config.ResultsConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Platform() config.PlatformConfig {
	args := m.Called()
	return args.Get(0).(config.PlatformConfig)
}

// -- Browser Mocks --

// MockDirectiveSource mocks the session acquirer.
type MockDirectiveSource struct {
	mock.Mock
}

func (m *MockDirectiveSource) Acquire(ctx context.Context, j job.Job) (session.Directive, error) {
	args := m.Called(ctx, j)
	return args.Get(0).(session.Directive), args.Error(1)
}

// MockLauncher mocks session.Launcher.
type MockLauncher struct {
	mock.Mock
}

var _ session.Launcher = (*MockLauncher)(nil)

func (m *MockLauncher) Launch(ctx context.Context, d session.Directive) (session.Session, error) {
	args := m.Called(ctx, d)
	if s := args.Get(0); s != nil {
		return s.(session.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSession mocks session.Session.
type MockSession struct {
	mock.Mock
}

var _ session.Session = (*MockSession)(nil)

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockSession) Evaluate(ctx context.Context, script string, out any) error {
	return m.Called(ctx, script, out).Error(0)
}

func (m *MockSession) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return m.Called(ctx, selector, timeout).Error(0)
}

func (m *MockSession) Visible(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}

func (m *MockSession) MoveMouse(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockSession) AddScriptOnNewDocument(ctx context.Context, source string) error {
	return m.Called(ctx, source).Error(0)
}

func (m *MockSession) Viewport() session.Viewport {
	return m.Called().Get(0).(session.Viewport)
}

func (m *MockSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Player Mocks --

// MockAdRunner mocks the ad skipper.
type MockAdRunner struct {
	mock.Mock
}

func (m *MockAdRunner) Run(ctx context.Context, page player.Page, probe player.Probe) (player.AdReport, error) {
	args := m.Called(ctx, page, probe)
	return args.Get(0).(player.AdReport), args.Error(1)
}

// MockWatcher mocks the playback watcher.
type MockWatcher struct {
	mock.Mock
}

func (m *MockWatcher) Watch(ctx context.Context, page player.Page, probe player.Probe) (player.WatchReport, error) {
	args := m.Called(ctx, page, probe)
	return args.Get(0).(player.WatchReport), args.Error(1)
}

// -- Engine Mocks --

// MockResultSink mocks engine.ResultSink.
type MockResultSink struct {
	mock.Mock
}

func (m *MockResultSink) WriteResult(ctx context.Context, r *job.Result) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockResultSink) WriteSummary(ctx context.Context, s job.Summary) error {
	return m.Called(ctx, s).Error(0)
}

// MockCapacityProbe mocks engine.CapacityProbe.
type MockCapacityProbe struct {
	mock.Mock
}

func (m *MockCapacityProbe) Overloaded(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}
