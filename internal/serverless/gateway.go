// Package serverless adapts the Forwarder to AWS API Gateway proxy events.
//
// REST APIs deliver payload format 1.0 (Handle). HTTP APIs deliver payload
// format 2.0 (HandleHTTP), which keeps the raw query string.
package serverless

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"

	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/service"
)

// Handler serves API Gateway proxy integration events.
type Handler struct {
	forwarder *service.Forwarder
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(fwd *service.Forwarder, logger *slog.Logger) *Handler {
	return &Handler{
		forwarder: fwd,
		logger:    logger.With("component", "gateway_handler"),
	}
}

// Handle serves a REST API event. The event only carries decoded query
// parameters, so the query is re-encoded with sorted keys.
// Request-level failures become error responses; a non-nil error would make
// API Gateway answer with an opaque 502.
func (h *Handler) Handle(ctx context.Context, ev events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	in := &model.InboundRequest{
		Method:   ev.HTTPMethod,
		Path:     ev.Path,
		RawQuery: rawQuery(ev),
		Header:   headerList(ev.MultiValueHeaders, ev.Headers),
	}
	resp := h.serve(ctx, in, ev.Body, ev.IsBase64Encoded, ev.RequestContext.RequestID)

	out := events.APIGatewayProxyResponse{
		StatusCode:        resp.StatusCode,
		MultiValueHeaders: make(map[string][]string, len(resp.Header)),
	}
	for _, hdr := range resp.Header {
		out.MultiValueHeaders[hdr.Name] = append(out.MultiValueHeaders[hdr.Name], hdr.Value)
	}
	out.Body, out.IsBase64Encoded = encodeBody(resp.Body)
	return out, nil
}

// HandleHTTP serves an HTTP API event. The raw query string is passed
// through untouched.
func (h *Handler) HandleHTTP(ctx context.Context, ev events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	in := &model.InboundRequest{
		Method:   ev.RequestContext.HTTP.Method,
		Path:     ev.RawPath,
		RawQuery: ev.RawQueryString,
		Header:   httpAPIHeaders(ev.Headers, ev.Cookies),
	}
	resp := h.serve(ctx, in, ev.Body, ev.IsBase64Encoded, ev.RequestContext.RequestID)

	// Payload format 2.0 has no multi-value headers; repeats are comma-joined.
	out := events.APIGatewayV2HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Header)),
	}
	for _, hdr := range resp.Header {
		if prev, ok := out.Headers[hdr.Name]; ok {
			out.Headers[hdr.Name] = prev + ", " + hdr.Value
			continue
		}
		out.Headers[hdr.Name] = hdr.Value
	}
	out.Body, out.IsBase64Encoded = encodeBody(resp.Body)
	return out, nil
}

// serve decodes the body, runs the Forwarder and turns failures into JSON
// error responses.
func (h *Handler) serve(ctx context.Context, in *model.InboundRequest, body string, isBase64 bool, requestID string) *model.OutboundResponse {
	decoded, err := decodeBody(body, isBase64)
	if err != nil {
		h.logger.Error("decode event", "err", err, "path", in.Path, "request_id", requestID)
		return jsonError(http.StatusBadRequest, "malformed request body")
	}
	in.Body = decoded

	resp, err := h.forwarder.Handle(ctx, in)
	if err != nil {
		status, msg := service.StatusFor(err)
		h.logger.Error("proxy error",
			"err", err,
			"status", status,
			"path", in.Path,
			"request_id", requestID,
		)
		return jsonError(status, msg)
	}
	return resp
}

func decodeBody(body string, isBase64 bool) ([]byte, error) {
	if !isBase64 {
		return []byte(body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("base64 body: %w", err)
	}
	return decoded, nil
}

// encodeBody returns the body as event text, base64 encoded when it is not UTF-8.
func encodeBody(body []byte) (string, bool) {
	if utf8.Valid(body) {
		return string(body), false
	}
	return base64.StdEncoding.EncodeToString(body), true
}

func rawQuery(ev events.APIGatewayProxyRequest) string {
	q := url.Values{}
	if len(ev.MultiValueQueryStringParameters) > 0 {
		for k, vals := range ev.MultiValueQueryStringParameters {
			q[k] = append(q[k], vals...)
		}
	} else {
		for k, v := range ev.QueryStringParameters {
			q.Set(k, v)
		}
	}
	return q.Encode()
}

func headerList(multi map[string][]string, single map[string]string) model.HeaderList {
	if len(multi) > 0 {
		return model.FromHTTP(multi)
	}
	return sortedHeaders(single)
}

// httpAPIHeaders rebuilds the header list of a 2.0 event. Cookies arrive
// outside the header map and are rejoined into one Cookie header.
func httpAPIHeaders(single map[string]string, cookies []string) model.HeaderList {
	out := sortedHeaders(single)
	if len(cookies) > 0 {
		out = out.Filter(func(h model.Header) bool { return !strings.EqualFold(h.Name, "Cookie") })
		out = append(out, model.Header{Name: "Cookie", Value: strings.Join(cookies, "; ")})
	}
	return out
}

func sortedHeaders(single map[string]string) model.HeaderList {
	names := make([]string, 0, len(single))
	for name := range single {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make(model.HeaderList, 0, len(single))
	for _, name := range names {
		out = append(out, model.Header{Name: name, Value: single[name]})
	}
	return out
}

func jsonError(status int, msg string) *model.OutboundResponse {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return &model.OutboundResponse{
		StatusCode: status,
		Header:     model.HeaderList{{Name: "Content-Type", Value: "application/json"}},
		Body:       body,
	}
}
