package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the proxy status endpoint.
type HealthHandler struct {
	cfg       *config.Config
	forwarder *service.Forwarder
	version   Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, fwd *service.Forwarder, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, forwarder: fwd, version: v}
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  string(h.version),
		"strategy": string(h.forwarder.Strategy()),
		"debug":    h.cfg.Log.Debug,
	})
}
