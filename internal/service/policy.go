package service

import (
	"slices"
	"strings"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/model"
)

// Policy holds the optional access checks. The zero value allows everything.
type Policy struct {
	allowOrigins  []string
	denyOrigins   []string
	allowedHosts  []string
	requireHeader bool
}

// NewPolicy builds a Policy from config. Hosts compare case-insensitively.
func NewPolicy(cfg config.PolicyConfig) *Policy {
	hosts := make([]string, 0, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Policy{
		allowOrigins:  trimAll(cfg.OriginAllowlist),
		denyOrigins:   trimAll(cfg.OriginDenylist),
		allowedHosts:  hosts,
		requireHeader: cfg.RequireHeader,
	}
}

// CheckRequest applies the origin lists and the required-header rule.
func (p *Policy) CheckRequest(h model.HeaderList) error {
	origin := h.Get("Origin")
	if !p.OriginAllowed(origin) {
		return ErrOriginNotAllowed
	}
	if p.requireHeader && origin == "" && h.Get("X-Requested-With") == "" {
		return ErrMissingRequiredHeader
	}
	return nil
}

// OriginAllowed reports whether origin may use the proxy. Requests without an
// Origin are allowed, and the denylist wins over the allowlist.
func (p *Policy) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	if slices.Contains(p.denyOrigins, origin) {
		return false
	}
	if len(p.allowOrigins) > 0 && !slices.Contains(p.allowOrigins, origin) {
		return false
	}
	return true
}

// CheckHost returns ErrHostNotAllowed when an allowlist is set and host is not on it.
func (p *Policy) CheckHost(host string) error {
	if len(p.allowedHosts) == 0 || slices.Contains(p.allowedHosts, strings.ToLower(host)) {
		return nil
	}
	return ErrHostNotAllowed
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
