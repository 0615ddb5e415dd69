// internal/proxy/forwarder.go
package proxy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
	xproxy "golang.org/x/net/proxy"
)

// Forwarder is a local, unauthenticated forward proxy that relays every
// request to one upstream endpoint, adding the upstream credentials on the
// way. Chrome cannot take proxy credentials on its command line, so sessions
// point --proxy-server at the forwarder instead.
type Forwarder struct {
	upstream Endpoint
	listener net.Listener
	server   *http.Server
	logger   *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewForwarder starts a forwarder on a random loopback port.
func NewForwarder(upstream Endpoint, logger *zap.Logger) (*Forwarder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("proxy_forwarder").With(zap.Stringer("upstream", upstream))

	p := goproxy.NewProxyHttpServer()
	p.Verbose = false

	transport := &http.Transport{
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	switch upstream.Scheme {
	case "socks5", "socks5h":
		dialer, err := xproxy.FromURL(upstream.URL(), xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to build socks dialer for %s: %w", upstream, err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
		p.ConnectDial = dialer.Dial
	default:
		// Plain requests go through Transport.Proxy, which sends Proxy-Authorization
		// from the URL userinfo. CONNECT tunnels need the header set explicitly.
		transport.Proxy = http.ProxyURL(upstream.URL())
		authHeader := basicProxyAuth(upstream)
		hostOnly := Endpoint{Scheme: upstream.Scheme, Host: upstream.Host, Port: upstream.Port}
		p.ConnectDial = p.NewConnectDialToProxyWithHandler(hostOnly.URL().String(), func(req *http.Request) {
			if authHeader != "" {
				req.Header.Set("Proxy-Authorization", authHeader)
			}
		})
	}
	p.Tr = transport

	p.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		if resp != nil || ctx.Req == nil {
			return resp
		}
		status := http.StatusBadGateway
		var netErr net.Error
		if errors.As(ctx.Error, &netErr) && netErr.Timeout() {
			status = http.StatusGatewayTimeout
		}
		log.Debug("Upstream proxy request failed.", zap.Error(ctx.Error))
		return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, status, "upstream proxy request failed")
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen for proxy forwarder: %w", err)
	}

	f := &Forwarder{
		upstream: upstream,
		listener: ln,
		server: &http.Server{
			Handler:           p,
			ReadHeaderTimeout: 30 * time.Second,
		},
		logger: log,
	}

	go func() {
		if err := f.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Proxy forwarder stopped unexpectedly.", zap.Error(err))
		}
	}()

	log.Debug("Proxy forwarder listening.", zap.String("addr", ln.Addr().String()))
	return f, nil
}

// Addr returns the proxy URL Chrome should use, e.g. http://127.0.0.1:41234.
func (f *Forwarder) Addr() string {
	return "http://" + f.listener.Addr().String()
}

// Upstream returns the endpoint traffic is forwarded to.
func (f *Forwarder) Upstream() Endpoint {
	return f.upstream
}

// Close stops the listener and drops open tunnels. Safe to call repeatedly.
func (f *Forwarder) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.server.Close()
	})
	return f.closeErr
}

func basicProxyAuth(e Endpoint) string {
	if !e.HasCredentials() {
		return ""
	}
	token := base64.StdEncoding.EncodeToString([]byte(e.Username + ":" + e.Password))
	return "Basic " + token
}
