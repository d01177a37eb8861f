// Package target derives the upstream URL from an inbound request.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Strategy names a target derivation method.
type Strategy string

const (
	// StrategyPath reads the target from the request path and query.
	StrategyPath Strategy = "path"
	// StrategyParam reads the target from the "url" query parameter.
	StrategyParam Strategy = "param"
)

// ParamName is the query parameter read by StrategyParam.
const ParamName = "url"

// ErrInvalid is returned when no usable URL can be derived.
var ErrInvalid = errors.New("invalid target URL")

var (
	// schemePattern matches a raw target that carries its own scheme.
	schemePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:/`)
	// collapsedPattern matches "https:/host" left behind by path cleaning.
	collapsedPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9+.-]*):/([^/])`)
)

// Resolver derives target URLs with one fixed strategy.
type Resolver struct {
	strategy      Strategy
	defaultScheme string
}

// NewResolver creates a Resolver. An empty defaultScheme means "https".
func NewResolver(strategy Strategy, defaultScheme string) (*Resolver, error) {
	switch strategy {
	case StrategyPath, StrategyParam:
	default:
		return nil, fmt.Errorf("unknown target strategy %q", strategy)
	}
	if defaultScheme == "" {
		defaultScheme = "https"
	}
	return &Resolver{strategy: strategy, defaultScheme: defaultScheme}, nil
}

// Strategy reports the active derivation strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve builds the normalized target URL for a request path and raw query.
func (r *Resolver) Resolve(path, rawQuery string) (string, error) {
	raw, err := r.raw(path, rawQuery)
	if err != nil {
		return "", err
	}
	return Normalize(raw, r.defaultScheme)
}

func (r *Resolver) raw(path, rawQuery string) (string, error) {
	if r.strategy == StrategyParam {
		q, err := url.ParseQuery(rawQuery)
		if err != nil {
			return "", fmt.Errorf("%w: query: %v", ErrInvalid, err)
		}
		v := q.Get(ParamName)
		if v == "" {
			return "", fmt.Errorf("%w: missing %q parameter", ErrInvalid, ParamName)
		}
		return v, nil
	}

	raw := strings.TrimPrefix(path, "/")
	if rawQuery != "" {
		raw += "?" + rawQuery
	}
	return raw, nil
}

// Normalize parses raw as an absolute or scheme-relative URL and reassembles it.
// A raw string without a scheme gets defaultScheme. The result is
// scheme://netloc/path?query, or scheme:/path?query when there is no netloc;
// the query part is present only when non-empty.
func Normalize(raw, defaultScheme string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}

	raw = collapsedPattern.ReplaceAllString(raw, "$1://$2")
	if !schemePattern.MatchString(raw) {
		if !strings.HasPrefix(raw, "//") {
			raw = "//" + raw
		}
		raw = defaultScheme + ":" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return reassemble(u), nil
}

func reassemble(u *url.URL) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))

	// netloc carries userinfo so credentials in the target reach the upstream.
	netloc := u.Host
	if u.User != nil {
		netloc = u.User.String() + "@" + netloc
	}

	path := u.EscapedPath()
	if netloc != "" {
		b.WriteString("://")
		b.WriteString(netloc)
		if path != "" && !strings.HasPrefix(path, "/") {
			b.WriteByte('/')
		}
		b.WriteString(path)
	} else {
		b.WriteString(":/")
		b.WriteString(strings.TrimLeft(path, "/"))
	}

	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}
