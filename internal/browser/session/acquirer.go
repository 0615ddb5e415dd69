// internal/browser/session/acquirer.go
package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/streamwatch/internal/job"
	"github.com/xkilldash9x/streamwatch/internal/proxy"
)

// RotatingIssuer hands out a fresh endpoint per session token.
type RotatingIssuer interface {
	NewEndpoint(sessionToken string) (proxy.Endpoint, error)
}

// Acquirer decides the launch directive of each job: proxy choice and the
// randomized browsing context.
type Acquirer struct {
	useProxies bool
	pool       *proxy.Pool
	rotating   RotatingIssuer
	logger     *zap.Logger

	mu  sync.Mutex
	rnd *rand.Rand

	newToken func() string
}

// AcquirerOption customizes an Acquirer.
type AcquirerOption func(*Acquirer)

// WithRand fixes the randomness source, for reproducible directives.
func WithRand(rnd *rand.Rand) AcquirerOption {
	return func(a *Acquirer) { a.rnd = rnd }
}

// WithTokenSource replaces the session token generator.
func WithTokenSource(fn func() string) AcquirerOption {
	return func(a *Acquirer) { a.newToken = fn }
}

// NewAcquirer builds an Acquirer. pool may be empty and rotating may be nil.
func NewAcquirer(useProxies bool, pool *proxy.Pool, rotating RotatingIssuer, logger *zap.Logger, opts ...AcquirerOption) *Acquirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Acquirer{
		useProxies: useProxies,
		pool:       pool,
		rotating:   rotating,
		logger:     logger.Named("acquirer"),
		rnd:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		newToken:   newSessionToken,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func newSessionToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Acquire returns the directive for j. Proxy problems never fail the job: the
// session then connects directly.
func (a *Acquirer) Acquire(ctx context.Context, j job.Job) (Directive, error) {
	if err := ctx.Err(); err != nil {
		return Directive{}, err
	}

	a.mu.Lock()
	viewport := randomViewport(a.rnd)
	ua, platform := randomUserAgent(a.rnd)
	a.mu.Unlock()

	d := Directive{
		Viewport:          viewport,
		Locale:            DefaultLocale,
		Timezone:          DefaultTimezone,
		UserAgent:         ua,
		Platform:          platform,
		AcceptLanguage:    "en-US,en;q=0.9",
		IgnoreHTTPSErrors: true,
		BypassCSP:         true,
	}

	log := a.logger.With(zap.String("job_id", j.ID))
	if !a.useProxies {
		return d, nil
	}

	endpoint, err := a.selectProxy()
	if err != nil {
		log.Warn("Proxy requested but unavailable; continuing without proxy.", zap.Error(err))
		return d, nil
	}
	d.Proxy = &endpoint
	log.Debug("Proxy assigned.", zap.Stringer("proxy", endpoint))
	return d, nil
}

func (a *Acquirer) selectProxy() (proxy.Endpoint, error) {
	if e, ok := a.pool.Pick(); ok {
		return e, nil
	}
	if a.rotating == nil {
		return proxy.Endpoint{}, errors.Join(proxy.ErrProxyUnavailable, errors.New("no proxy list and no rotating service"))
	}
	e, err := a.rotating.NewEndpoint(a.newToken())
	if err != nil {
		return proxy.Endpoint{}, errors.Join(proxy.ErrProxyUnavailable, err)
	}
	return e, nil
}
