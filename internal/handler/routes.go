// Package handler exposes the proxy over Echo.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Static routes win over the catch-all, so every other path is proxied.
// Preflight is added last so it runs inside the logging and metrics middleware.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.Use(middleware.Preflight(proxy.Handle))

	e.GET("/proxy/status", health.Status)
	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}
