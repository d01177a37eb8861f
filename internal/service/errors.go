package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
)

var (
	// ErrInvalidTarget is returned when the request does not name a reachable URL.
	ErrInvalidTarget = errors.New("invalid target URL")
	// ErrOriginNotAllowed is returned when the Origin header is denied by policy.
	ErrOriginNotAllowed = errors.New("origin not allowed")
	// ErrHostNotAllowed is returned when the target host is not in the allowlist.
	ErrHostNotAllowed = errors.New("target host not allowed")
	// ErrMissingRequiredHeader is returned when neither Origin nor X-Requested-With is set
	// and the policy requires one.
	ErrMissingRequiredHeader = errors.New("missing Origin or X-Requested-With header")
)

// StatusFor maps a Forwarder error to the response status and a message safe
// to return to the caller. Upstream error details are never part of the message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidTarget):
		return http.StatusBadRequest, "invalid target URL"
	case errors.Is(err, ErrMissingRequiredHeader):
		return http.StatusBadRequest, "missing required header: set Origin or X-Requested-With"
	case errors.Is(err, ErrOriginNotAllowed):
		return http.StatusForbidden, "origin is not allowed to use this proxy"
	case errors.Is(err, ErrHostNotAllowed):
		return http.StatusForbidden, "target host is not allowed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream request timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusBadGateway, "client disconnected"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, "upstream host unreachable"
	}

	// http.Client reports its own timeout as a *url.Error whose Timeout() is true.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return http.StatusGatewayTimeout, "upstream request timed out"
		}
		return http.StatusBadGateway, "upstream connection failed"
	}

	return http.StatusBadGateway, "upstream request failed"
}
