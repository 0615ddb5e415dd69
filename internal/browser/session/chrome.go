// internal/browser/session/chrome.go
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/streamwatch/internal/browser/jsexpr"
	"github.com/xkilldash9x/streamwatch/internal/browser/stealth"
	"github.com/xkilldash9x/streamwatch/internal/config"
	"github.com/xkilldash9x/streamwatch/internal/proxy"
)

// FingerprintInstaller installs page level overrides into a fresh session.
type FingerprintInstaller interface {
	Install(ctx context.Context, target stealth.ScriptInstaller)
}

// ChromeLauncher starts one Chrome process per session through chromedp.
// Separate processes keep cookies, cache and proxy settings isolated per job.
type ChromeLauncher struct {
	cfg         config.BrowserConfig
	fingerprint FingerprintInstaller
	logger      *zap.Logger
}

// NewChromeLauncher builds a launcher. fingerprint, when non-nil, runs against
// every new session before it is returned, so it precedes any navigation.
func NewChromeLauncher(cfg config.BrowserConfig, fingerprint FingerprintInstaller, logger *zap.Logger) *ChromeLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeLauncher{cfg: cfg, fingerprint: fingerprint, logger: logger.Named("chrome")}
}

// Launch starts the browser, applies the directive's emulation settings and
// installs the fingerprint overrides.
func (l *ChromeLauncher) Launch(ctx context.Context, d Directive) (Session, error) {
	log := l.logger.With(zap.String("proxy", d.ProxyLabel()))

	var (
		fwd         *proxy.Forwarder
		proxyServer string
	)
	if d.Proxy != nil {
		if d.Proxy.HasCredentials() || d.Proxy.Scheme == "socks5h" {
			f, err := proxy.NewForwarder(*d.Proxy, l.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to start proxy forwarder: %w", err)
			}
			fwd = f
			proxyServer = f.Addr()
		} else {
			proxyServer = d.Proxy.Redacted()
		}
	}

	flags := allocatorFlags(l.cfg, d, proxyServer)
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, name := range sortedKeys(flags) {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}

	// The browser outlives operation deadlines; Close owns its lifetime.
	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(log.Sugar().Debugf))

	s := &chromeSession{
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		forwarder:     fwd,
		viewport:      d.Viewport,
		logger:        log,
	}

	// The first Run allocates the browser and ties it to browserCtx, so it
	// cannot take the caller's deadline directly.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			_ = s.Close(Detach(ctx))
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		_ = s.Close(Detach(ctx))
		<-started
		return nil, fmt.Errorf("failed to start browser: %w", ctx.Err())
	}

	if err := s.run(ctx, emulationActions(d)...); err != nil {
		_ = s.Close(Detach(ctx))
		return nil, fmt.Errorf("failed to apply session emulation: %w", err)
	}

	if l.fingerprint != nil {
		l.fingerprint.Install(ctx, s)
	}

	log.Debug("Browser session started.",
		zap.Int("width", d.Viewport.Width),
		zap.Int("height", d.Viewport.Height),
		zap.Bool("headless", l.cfg.Headless),
	)
	return s, nil
}

// allocatorFlags returns the Chrome command line flags for a session on top of
// chromedp's defaults. A false value removes a default flag.
func allocatorFlags(cfg config.BrowserConfig, d Directive, proxyServer string) map[string]any {
	flags := map[string]any{
		"headless":               cfg.Headless,
		"enable-automation":      false,
		"disable-blink-features": "AutomationControlled",
		"autoplay-policy":        "no-user-gesture-required",
		"window-size":            fmt.Sprintf("%d,%d", d.Viewport.Width, d.Viewport.Height),
		"user-agent":             d.UserAgent,
		"lang":                   d.Locale,
		"disable-extensions":     true,
	}
	if d.IgnoreHTTPSErrors {
		flags["ignore-certificate-errors"] = true
	}
	if proxyServer != "" {
		flags["proxy-server"] = proxyServer
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}

	// Containers rarely allow the setuid sandbox.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}

func emulationActions(d Directive) []chromedp.Action {
	return []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(d.Viewport.Width), int64(d.Viewport.Height), 1, false),
		emulation.SetUserAgentOverride(d.UserAgent).
			WithAcceptLanguage(d.AcceptLanguage).
			WithPlatform(d.Platform),
		emulation.SetTimezoneOverride(d.Timezone),
		emulation.SetLocaleOverride().WithLocale(d.Locale),
		page.SetBypassCSP(d.BypassCSP),
		security.SetIgnoreCertificateErrors(d.IgnoreHTTPSErrors),
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const visibilityCheck = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) {
		return false;
	}
	const rect = el.getBoundingClientRect();
	const style = window.getComputedStyle(el);
	return rect.width > 0 && rect.height > 0 && style.visibility !== 'hidden' && style.display !== 'none' && style.opacity !== '0';
}`

type chromeSession struct {
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	forwarder     *proxy.Forwarder
	viewport      Viewport
	logger        *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ Session = (*chromeSession)(nil)

// run executes actions against the browser bounded by the operation ctx.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		// Report the caller's deadline rather than the derived cancellation.
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (s *chromeSession) Viewport() Viewport { return s.viewport }

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromeSession) Evaluate(ctx context.Context, script string, out any) error {
	return s.run(ctx, chromedp.Evaluate(script, out, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

func (s *chromeSession) Click(ctx context.Context, selector string, timeout time.Duration) error {
	clickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.run(clickCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (s *chromeSession) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	if err := s.Evaluate(ctx, jsexpr.MustCall(visibilityCheck, selector), &visible); err != nil {
		return false, err
	}
	return visible, nil
}

func (s *chromeSession) MoveMouse(ctx context.Context, x, y float64) error {
	return s.run(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y))
}

func (s *chromeSession) AddScriptOnNewDocument(ctx context.Context, source string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	}))
}

// Close asks Chrome to exit gracefully, bounded by ctx, then kills whatever
// is left and stops the proxy forwarder.
func (s *chromeSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()

		var err error
		select {
		case err = <-done:
			if errors.Is(err, context.Canceled) {
				err = nil
			}
		case <-ctx.Done():
			err = fmt.Errorf("browser did not exit in time: %w", ctx.Err())
		}

		s.browserCancel()
		s.allocCancel()
		if s.forwarder != nil {
			err = errors.Join(err, s.forwarder.Close())
		}
		s.closeErr = err
	})
	return s.closeErr
}
