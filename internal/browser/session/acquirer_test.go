package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/streamwatch/internal/job"
	"github.com/xkilldash9x/streamwatch/internal/proxy"
)

// mockIssuer is a testify mock for the rotating proxy service.
type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) NewEndpoint(token string) (proxy.Endpoint, error) {
	args := m.Called(token)
	return args.Get(0).(proxy.Endpoint), args.Error(1)
}

var testJob = job.Job{ID: "job-1", URL: "https://youtu.be/dQw4w9WgXcQ", VideoID: "dQw4w9WgXcQ", Platform: job.PlatformYouTube}

var uaPattern = regexp.MustCompile(`^Mozilla/5\.0 \((Windows NT 10\.0; Win64; x64|Macintosh; Intel Mac OS X 10_15_7|X11; Linux x86_64)\) AppleWebKit/537\.36 \(KHTML, like Gecko\) Chrome/(\d+)\.0\.\d+\.\d+ Safari/537\.36( Edg/\d+\.0\.\d+\.\d+)?$`)

func TestAcquireBrowsingContext(t *testing.T) {
	a := NewAcquirer(false, nil, nil, zap.NewNop(), WithRand(rand.New(rand.NewPCG(7, 7))))

	sawEdge := false
	for range 200 {
		d, err := a.Acquire(context.Background(), testJob)
		require.NoError(t, err)

		assert.Nil(t, d.Proxy)
		assert.Empty(t, d.ProxyLabel())
		assert.GreaterOrEqual(t, d.Viewport.Width, 1280)
		assert.LessOrEqual(t, d.Viewport.Width, 1440)
		assert.GreaterOrEqual(t, d.Viewport.Height, 720)
		assert.LessOrEqual(t, d.Viewport.Height, 900)
		assert.Equal(t, "en-US", d.Locale)
		assert.Equal(t, "America/New_York", d.Timezone)
		assert.True(t, d.IgnoreHTTPSErrors)
		assert.True(t, d.BypassCSP)
		assert.NotEmpty(t, d.Platform)

		m := uaPattern.FindStringSubmatch(d.UserAgent)
		require.NotNil(t, m, d.UserAgent)
		assert.Contains(t, []string{"120", "121", "122", "123", "124", "125", "126", "127", "128", "129", "130", "131"}, m[2])
		if strings.Contains(d.UserAgent, "Edg/") {
			sawEdge = true
		}
	}
	assert.True(t, sawEdge, "the Edge variant should appear over many draws")
}

func TestAcquireProxyPolicy(t *testing.T) {
	static := proxy.Endpoint{Scheme: "http", Host: "10.0.0.1", Port: 8080, Username: "u", Password: "secret-static"}
	rotated := proxy.Endpoint{Scheme: "http", Host: "proxy.apify.com", Port: 8000, Username: "session-tok", Password: "secret-rotating"}

	t.Run("pool wins over rotating service", func(t *testing.T) {
		issuer := &mockIssuer{}
		a := NewAcquirer(true, proxy.NewPool([]proxy.Endpoint{static}, nil), issuer, zap.NewNop())

		d, err := a.Acquire(context.Background(), testJob)
		require.NoError(t, err)
		require.NotNil(t, d.Proxy)
		assert.Equal(t, static, *d.Proxy)
		assert.Equal(t, "http://10.0.0.1:8080", d.ProxyLabel())
		issuer.AssertNotCalled(t, "NewEndpoint", mock.Anything)
	})

	t.Run("rotating service gets a fresh token per job", func(t *testing.T) {
		issuer := &mockIssuer{}
		issuer.On("NewEndpoint", mock.MatchedBy(func(tok string) bool {
			return regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(tok)
		})).Return(rotated, nil).Twice()

		a := NewAcquirer(true, proxy.NewPool(nil, nil), issuer, zap.NewNop())
		for range 2 {
			d, err := a.Acquire(context.Background(), testJob)
			require.NoError(t, err)
			require.NotNil(t, d.Proxy)
			assert.Equal(t, rotated, *d.Proxy)
		}
		issuer.AssertExpectations(t)

		tokens := map[string]bool{}
		for _, call := range issuer.Calls {
			tokens[call.Arguments.String(0)] = true
		}
		assert.Len(t, tokens, 2, "tokens are never reused")
	})

	t.Run("proxies disabled", func(t *testing.T) {
		issuer := &mockIssuer{}
		a := NewAcquirer(false, proxy.NewPool([]proxy.Endpoint{static}, nil), issuer, zap.NewNop())
		d, err := a.Acquire(context.Background(), testJob)
		require.NoError(t, err)
		assert.Nil(t, d.Proxy)
	})

	t.Run("unavailable proxy is logged and the job proceeds", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		issuer := &mockIssuer{}
		issuer.On("NewEndpoint", mock.Anything).Return(proxy.Endpoint{}, errors.New("quota exhausted"))

		a := NewAcquirer(true, nil, issuer, zap.New(core))
		d, err := a.Acquire(context.Background(), testJob)
		require.NoError(t, err)
		assert.Nil(t, d.Proxy)

		warn := logs.FilterLevelExact(zapcore.WarnLevel).All()
		require.Len(t, warn, 1)
		assert.Contains(t, warn[0].ContextMap()["error"], proxy.ErrProxyUnavailable.Error())
	})

	t.Run("no source at all", func(t *testing.T) {
		a := NewAcquirer(true, nil, nil, zap.NewNop())
		d, err := a.Acquire(context.Background(), testJob)
		require.NoError(t, err)
		assert.Nil(t, d.Proxy)
	})

	t.Run("credentials never reach the logs", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		issuer := &mockIssuer{}
		issuer.On("NewEndpoint", mock.Anything).Return(rotated, nil)

		a := NewAcquirer(true, nil, issuer, zap.New(core), WithTokenSource(func() string { return "tok" }))
		_, err := a.Acquire(context.Background(), testJob)
		require.NoError(t, err)

		require.NotZero(t, logs.Len())
		for _, entry := range logs.All() {
			for k, v := range entry.ContextMap() {
				assert.NotContains(t, k+"="+toString(v), "secret-rotating")
				assert.NotContains(t, toString(v), "session-tok")
			}
		}
		issuer.AssertCalled(t, "NewEndpoint", "tok")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewAcquirer(false, nil, nil, nil).Acquire(ctx, testJob)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
