// Package service implements the core forwarding logic.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/target"
)

// Upstream performs the forwarded call. *client.UpstreamClient implements it.
type Upstream interface {
	Do(ctx context.Context, req *model.UpstreamRequest) (*model.UpstreamResponse, error)
}

// preflightHeaders answer every OPTIONS request.
var preflightHeaders = model.HeaderList{
	{Name: "Access-Control-Allow-Origin", Value: "*"},
	{Name: "Access-Control-Allow-Methods", Value: "GET,POST,PUT,DELETE,OPTIONS,HEAD,CONNECT"},
	{Name: "Access-Control-Allow-Headers", Value: "Content-Type"},
	{Name: "Access-Control-Max-Age", Value: "360000"},
}

// fixedHeaders are prepended to every proxied response.
var fixedHeaders = model.HeaderList{
	{Name: "Cache-Control", Value: "public, max-age=3600"},
	{Name: "Access-Control-Allow-Origin", Value: "*"},
}

// CORSProbePath is served locally with no CORS headers.
const CORSProbePath = "/iscorsneeded"

// RequestURLHeader carries the normalized target URL on proxied responses.
const RequestURLHeader = "X-Request-URL"

// excludedResponseHeaders are dropped from upstream responses, compared lowercased.
var excludedResponseHeaders = map[string]bool{
	"transfer-encoding":           true,
	"connection":                  true,
	"content-encoding":            true,
	"access-control-allow-origin": true,
	"cache-control":               true,
	"set-cookie":                  true,
}

// Forwarder turns an inbound request into an outbound response.
type Forwarder struct {
	upstream Upstream
	resolver *target.Resolver
	policy   *Policy
	logger   *slog.Logger
}

// NewForwarder creates a Forwarder from the upstream and policy settings in cfg.
func NewForwarder(up Upstream, cfg *config.Config, logger *slog.Logger) (*Forwarder, error) {
	resolver, err := target.NewResolver(target.Strategy(cfg.Upstream.Strategy), cfg.Upstream.DefaultScheme)
	if err != nil {
		return nil, fmt.Errorf("target resolver: %w", err)
	}
	return &Forwarder{
		upstream: up,
		resolver: resolver,
		policy:   NewPolicy(cfg.Policy),
		logger:   logger.With("component", "forwarder"),
	}, nil
}

// Strategy reports the target derivation strategy in use.
func (f *Forwarder) Strategy() target.Strategy {
	return f.resolver.Strategy()
}

// Handle runs the decision sequence: preflight, health check, policy, forward.
// A returned error means no usable response was produced; StatusFor maps it
// to the status the caller should see.
func (f *Forwarder) Handle(ctx context.Context, in *model.InboundRequest) (*model.OutboundResponse, error) {
	if in.Method == http.MethodOptions {
		return Preflight(), nil
	}
	if len(in.Path) <= 1 {
		return &model.OutboundResponse{StatusCode: http.StatusOK, Body: []byte("OK")}, nil
	}
	if in.Path == CORSProbePath {
		return corsProbe(), nil
	}

	if err := f.policy.CheckRequest(in.Header); err != nil {
		return nil, err
	}

	targetURL, err := f.resolver.Resolve(in.Path, in.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	u, err := checkTarget(targetURL)
	if err != nil {
		return nil, err
	}
	if err := f.policy.CheckHost(u.Hostname()); err != nil {
		return nil, err
	}

	f.logger.Info("forwarding", "url", u.Redacted(), "method", in.Method)

	resp, err := f.upstream.Do(ctx, &model.UpstreamRequest{
		Method: in.Method,
		URL:    targetURL,
		Header: ForwardHeaders(in.Header),
		Body:   in.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	return &model.OutboundResponse{
		StatusCode: resp.StatusCode,
		Header:     ResponseHeaders(targetURL, resp.Header),
		Body:       resp.Body,
	}, nil
}

// Preflight returns the fixed CORS preflight response.
func Preflight() *model.OutboundResponse {
	return &model.OutboundResponse{
		StatusCode: http.StatusNoContent,
		Header:     append(model.HeaderList(nil), preflightHeaders...),
	}
}

// ForwardHeaders returns the inbound headers to send upstream: all of them
// except Host, which must come from the target URL.
func ForwardHeaders(in model.HeaderList) model.HeaderList {
	return in.Filter(func(h model.Header) bool {
		return !strings.EqualFold(h.Name, "Host")
	})
}

// ResponseHeaders returns the fixed cache and CORS headers, X-Request-URL
// naming the target, then the upstream headers that are not excluded.
func ResponseHeaders(targetURL string, upstream model.HeaderList) model.HeaderList {
	kept := upstream.Without(excludedResponseHeaders)
	out := make(model.HeaderList, 0, len(fixedHeaders)+1+len(kept))
	out = append(out, fixedHeaders...)
	out = append(out, model.Header{Name: RequestURLHeader, Value: targetURL})
	return append(out, kept...)
}

// corsProbe answers CORSProbePath without any CORS header, so a page can
// check whether the browser needs the proxy at all.
func corsProbe() *model.OutboundResponse {
	return &model.OutboundResponse{
		StatusCode: http.StatusOK,
		Header:     model.HeaderList{{Name: "Content-Type", Value: "text/plain; charset=utf-8"}},
		Body:       []byte("No CORS headers on this response"),
	}
}

// checkTarget rejects normalized URLs a request could never reach.
func checkTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: no host in %q", ErrInvalidTarget, raw)
	}
	return u, nil
}
