// internal/proxy/rotating.go
package proxy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/streamwatch/internal/config"
)

var sessionTokenPattern = regexp.MustCompile(`^[\w.~]{1,50}$`)

// Rotating issues endpoints from a remote rotating proxy service. The session
// token is encoded in the username, so every token maps to its own exit IP.
type Rotating struct {
	hostname string
	port     int
	password string
	groups   []string
	country  string
}

// NewRotating builds the service client from configuration. Without a
// password there is nothing to authenticate with.
func NewRotating(cfg config.ProxyConfig) (*Rotating, error) {
	if cfg.Password == "" {
		return nil, fmt.Errorf("%w: rotating service password is not set", ErrProxyUnavailable)
	}
	if cfg.Hostname == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("%w: rotating service address is incomplete", ErrProxyUnavailable)
	}
	return &Rotating{
		hostname: cfg.Hostname,
		port:     cfg.Port,
		password: cfg.Password,
		groups:   append([]string(nil), cfg.Groups...),
		country:  strings.ToUpper(strings.TrimSpace(cfg.Country)),
	}, nil
}

// NewEndpoint returns the endpoint for sessionToken.
func (r *Rotating) NewEndpoint(sessionToken string) (Endpoint, error) {
	if !sessionTokenPattern.MatchString(sessionToken) {
		return Endpoint{}, fmt.Errorf("invalid proxy session token %q", sessionToken)
	}
	return Endpoint{
		Scheme:   "http",
		Host:     r.hostname,
		Port:     r.port,
		Username: r.username(sessionToken),
		Password: r.password,
	}, nil
}

func (r *Rotating) username(sessionToken string) string {
	var parts []string
	if len(r.groups) > 0 {
		parts = append(parts, "groups-"+strings.Join(r.groups, "+"))
	}
	parts = append(parts, "session-"+sessionToken)
	if r.country != "" {
		parts = append(parts, "country-"+r.country)
	}
	return strings.Join(parts, ",")
}
