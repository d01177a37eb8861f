// Package client provides the HTTP client used to reach proxy targets.
package client

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/model"
)

// UpstreamClient sends forwarded requests to their targets.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient that never follows redirects.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do sends req and returns the fully read response. A 3xx response is
// returned as-is. Gzip, deflate and brotli bodies are decoded.
func (c *UpstreamClient) Do(ctx context.Context, req *model.UpstreamRequest) (*model.UpstreamResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header = requestHeader(req.Header)

	c.logger.Debug("upstream request",
		"method", httpReq.Method,
		"host", httpReq.URL.Host,
		"path", httpReq.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	method := metrics.NormalizeMethod(httpReq.Method)
	if err != nil {
		c.observe(method, "", start)
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, decoded, err := readBody(resp)
	c.observe(method, strconv.Itoa(resp.StatusCode), start)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	header := model.FromHTTP(resp.Header)
	if decoded {
		header = withContentLength(header, len(body))
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

func (c *UpstreamClient) observe(method, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if status == "" {
		c.metrics.UpstreamFailures.WithLabelValues(method).Inc()
		return
	}
	c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
}

// supportedCodings are the content codings readBody can remove.
var supportedCodings = map[string]bool{
	"gzip":     true,
	"x-gzip":   true,
	"deflate":  true,
	"br":       true,
	"identity": true,
}

// ErrUnsupportedEncoding is returned for a response body in a content coding
// readBody cannot remove.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// requestHeader converts the forwarded list to an http.Header. Framing headers
// are left to the transport, which derives them from the buffered body, and
// Accept-Encoding is narrowed to the codings readBody supports.
func requestHeader(l model.HeaderList) http.Header {
	out := make(model.HeaderList, 0, len(l))
	for _, h := range l {
		switch {
		case strings.EqualFold(h.Name, "Content-Length"), strings.EqualFold(h.Name, "Transfer-Encoding"):
			continue
		case strings.EqualFold(h.Name, "Accept-Encoding"):
			if v := narrowAcceptEncoding(h.Value); v != "" {
				out = append(out, model.Header{Name: h.Name, Value: v})
			}
			continue
		}
		out = append(out, h)
	}
	return out.ToHTTP()
}

// narrowAcceptEncoding drops codings outside supportedCodings, wildcard
// included, keeping any q-values. An empty result means the header is
// omitted and the transport negotiates gzip on its own.
func narrowAcceptEncoding(v string) string {
	var kept []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		coding, _, _ := strings.Cut(part, ";")
		if supportedCodings[strings.ToLower(strings.TrimSpace(coding))] {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ", ")
}

// readBody reads the whole response body, decoding gzip, deflate and brotli
// content codings. decoded reports whether a coding was removed.
func readBody(resp *http.Response) (body []byte, decoded bool, err error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	coding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if len(raw) == 0 || coding == "" || coding == "identity" {
		return raw, false, nil
	}

	var r io.ReadCloser
	switch coding {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, false, fmt.Errorf("gzip: %w", err)
		}
		r = gz
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			r = zr
		} else {
			r = flate.NewReader(bytes.NewReader(raw))
		}
	case "br":
		r = io.NopCloser(brotli.NewReader(bytes.NewReader(raw)))
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, coding)
	}
	defer func() { _ = r.Close() }()

	body, err = io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s body: %w", coding, err)
	}
	return body, true, nil
}

func withContentLength(l model.HeaderList, n int) model.HeaderList {
	out := l.Filter(func(h model.Header) bool {
		return !strings.EqualFold(h.Name, "Content-Length")
	})
	return append(out, model.Header{Name: "Content-Length", Value: strconv.Itoa(n)})
}
