package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/service"
)

// ProxyHandler adapts the Forwarder to Echo.
type ProxyHandler struct {
	forwarder *service.Forwarder
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(fwd *service.Forwarder, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		forwarder: fwd,
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle runs the request through the Forwarder and writes the buffered result.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		// BodyLimit reports an oversized body through the reader.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	in := &model.InboundRequest{
		Method:   req.Method,
		Path:     req.URL.EscapedPath(),
		RawQuery: req.URL.RawQuery,
		Header:   model.FromHTTP(req.Header),
		Body:     body,
	}

	resp, err := h.forwarder.Handle(req.Context(), in)
	if err != nil {
		return h.mapError(c, err)
	}

	dst := c.Response().Header()
	for _, hdr := range resp.Header {
		dst[hdr.Name] = append(dst[hdr.Name], hdr.Value)
	}
	c.Response().WriteHeader(resp.StatusCode)

	if len(resp.Body) == 0 {
		return nil
	}
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	status, msg := service.StatusFor(err)

	h.logger.Error("proxy error",
		"err", err,
		"status", status,
		"path", c.Request().URL.Path,
	)

	return c.JSON(status, map[string]string{"error": msg})
}
