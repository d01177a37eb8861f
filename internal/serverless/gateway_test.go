package serverless

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/service"
)

func newTestHandler(t *testing.T, strategy string) *Handler {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			Strategy:        strategy,
			DefaultScheme:   "https",
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fwd, err := service.NewForwarder(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	return NewHandler(fwd, logger)
}

func TestHandle_Preflight(t *testing.T) {
	h := newTestHandler(t, "path")

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodOptions,
		Path:       "/https://api.example.com/x",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if got := resp.MultiValueHeaders["Access-Control-Max-Age"]; len(got) != 1 || got[0] != "360000" {
		t.Errorf("Access-Control-Max-Age = %v, want [360000]", got)
	}
	if resp.Body != "" {
		t.Errorf("body = %q, want empty", resp.Body)
	}
}

func TestHandle_HealthCheck(t *testing.T) {
	h := newTestHandler(t, "path")

	for _, path := range []string{"", "/"} {
		resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
			HTTPMethod: http.MethodGet,
			Path:       path,
		})
		if err != nil {
			t.Fatalf("Handle(%q) error = %v", path, err)
		}
		if resp.StatusCode != http.StatusOK || resp.Body != "OK" {
			t.Errorf("Handle(%q) = %d %q, want 200 OK", path, resp.StatusCode, resp.Body)
		}
	}
}

func TestHandle_Forwards(t *testing.T) {
	var gotMethod, gotPath, gotQuery, gotBody, gotToken string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotToken = r.Header.Get("X-Token")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Add("X-Upstream", "a")
		w.Header().Add("X-Upstream", "b")
		w.Header().Set("Set-Cookie", "s=1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"created":true}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, "path")
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/" + upstream.URL + "/items",
		MultiValueQueryStringParameters: map[string][]string{
			"tag": {"a b"},
		},
		MultiValueHeaders: map[string][]string{
			"X-Token": {"secret"},
			"Host":    {"proxy.example.com"},
		},
		Body:            base64.StdEncoding.EncodeToString([]byte("payload")),
		IsBase64Encoded: true,
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("upstream method = %q, want POST", gotMethod)
	}
	if gotPath != "/items" {
		t.Errorf("upstream path = %q, want /items", gotPath)
	}
	if gotQuery != "tag=a+b" {
		t.Errorf("upstream query = %q, want tag=a+b", gotQuery)
	}
	if gotBody != "payload" {
		t.Errorf("upstream body = %q, want payload", gotBody)
	}
	if gotToken != "secret" {
		t.Errorf("upstream X-Token = %q, want secret", gotToken)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if resp.Body != `{"created":true}` || resp.IsBase64Encoded {
		t.Errorf("body = %q (base64=%v), want plain JSON", resp.Body, resp.IsBase64Encoded)
	}
	if got := resp.MultiValueHeaders["X-Upstream"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("X-Upstream = %v, want [a b]", got)
	}
	if got := resp.MultiValueHeaders["Cache-Control"]; len(got) != 1 || got[0] != "public, max-age=3600" {
		t.Errorf("Cache-Control = %v, want fixed value", got)
	}
	if _, ok := resp.MultiValueHeaders["Set-Cookie"]; ok {
		t.Error("Set-Cookie relayed to the browser")
	}
}

func TestHandle_BinaryBody(t *testing.T) {
	payload := []byte{0xff, 0xfe, 0x00, 0x01}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	h := newTestHandler(t, "path")
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/" + upstream.URL + "/blob",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !resp.IsBase64Encoded {
		t.Fatal("IsBase64Encoded = false, want true for binary body")
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.Body)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Errorf("body = %x, want %x", decoded, payload)
	}
}

func TestHandle_ParamStrategy(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	h := newTestHandler(t, "param")
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  "/fetch",
		QueryStringParameters: map[string]string{"url": upstream.URL + "/via-param"},
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if gotPath != "/via-param" {
		t.Errorf("upstream path = %q, want /via-param", gotPath)
	}
}

func TestHandle_Errors(t *testing.T) {
	tests := []struct {
		name       string
		ev         events.APIGatewayProxyRequest
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "invalid target",
			ev:         events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/mailto:someone"},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "invalid target URL",
		},
		{
			name: "malformed base64 body",
			ev: events.APIGatewayProxyRequest{
				HTTPMethod:      http.MethodPost,
				Path:            "/https://api.example.com/x",
				Body:            "!!not base64!!",
				IsBase64Encoded: true,
			},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "malformed request body",
		},
	}

	h := newTestHandler(t, "path")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.Handle(context.Background(), tt.ev)
			if err != nil {
				t.Fatalf("Handle() error = %v, want nil", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body map[string]string
			if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
				t.Fatalf("unmarshal body %q: %v", resp.Body, err)
			}
			if body["error"] != tt.wantMsg {
				t.Errorf("error = %q, want %q", body["error"], tt.wantMsg)
			}
		})
	}
}

func TestHeaderList_SingleValueSorted(t *testing.T) {
	got := headerList(nil, map[string]string{"X-B": "2", "X-A": "1"})
	if len(got) != 2 || got[0].Name != "X-A" || got[1].Name != "X-B" {
		t.Errorf("headerList() = %v, want X-A then X-B", got)
	}
}

func httpAPIEvent(method, rawPath, rawQuery string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath:        rawPath,
		RawQueryString: rawQuery,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			RequestID: "req-1",
			HTTP:      events.APIGatewayV2HTTPRequestContextHTTPDescription{Method: method},
		},
	}
}

func TestHandleHTTP_RawQueryAndCookies(t *testing.T) {
	var gotQuery, gotCookie string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotCookie = r.Header.Get("Cookie")
		w.Header().Add("X-Upstream", "a")
		w.Header().Add("X-Upstream", "b")
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	h := newTestHandler(t, "path")
	ev := httpAPIEvent(http.MethodGet, "/"+upstream.URL+"/items", "z=1&a=hello%20world&z=2")
	ev.Headers = map[string]string{"x-token": "secret"}
	ev.Cookies = []string{"a=1", "b=2"}

	resp, err := h.HandleHTTP(context.Background(), ev)
	if err != nil {
		t.Fatalf("HandleHTTP() error = %v", err)
	}

	if gotQuery != "z=1&a=hello%20world&z=2" {
		t.Errorf("upstream query = %q, want the raw query unchanged", gotQuery)
	}
	if gotCookie != "a=1; b=2" {
		t.Errorf("upstream Cookie = %q, want %q", gotCookie, "a=1; b=2")
	}
	if resp.StatusCode != http.StatusOK || resp.Body != "ok" {
		t.Errorf("response = %d %q, want 200 ok", resp.StatusCode, resp.Body)
	}
	if got := resp.Headers["X-Upstream"]; got != "a, b" {
		t.Errorf("X-Upstream = %q, want %q", got, "a, b")
	}
	if got := resp.Headers["X-Request-URL"]; got != upstream.URL+"/items?z=1&a=hello%20world&z=2" {
		t.Errorf("X-Request-URL = %q", got)
	}
}

func TestHandleHTTP_PreflightAndErrors(t *testing.T) {
	h := newTestHandler(t, "path")

	resp, err := h.HandleHTTP(context.Background(), httpAPIEvent(http.MethodOptions, "/anything", ""))
	if err != nil {
		t.Fatalf("HandleHTTP() error = %v", err)
	}
	if resp.StatusCode != http.StatusNoContent || resp.Headers["Access-Control-Allow-Origin"] != "*" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Headers)
	}

	resp, err = h.HandleHTTP(context.Background(), httpAPIEvent(http.MethodGet, "/mailto:someone", ""))
	if err != nil {
		t.Fatalf("HandleHTTP() error = %v, want nil", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if resp.Headers["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", resp.Headers["Content-Type"])
	}
}

func TestHandle_RESTQueryReencoded(t *testing.T) {
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
	}))
	defer upstream.Close()

	h := newTestHandler(t, "path")
	_, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  "/" + upstream.URL + "/x",
		QueryStringParameters: map[string]string{"z": "1", "a": "hello world"},
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if gotQuery != "a=hello+world&z=1" {
		t.Errorf("upstream query = %q, want sorted re-encoded form", gotQuery)
	}
}
