package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Preflight sends every OPTIONS request to h, whatever route matched. Without
// it the router would answer OPTIONS on static routes with its own 204/405.
func Preflight(h echo.HandlerFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return h(c)
			}
			return next(c)
		}
	}
}
