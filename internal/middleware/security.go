package middleware

import (
	"github.com/labstack/echo/v4"
)

// securityHeaders are added to responses that do not already carry them.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
}

// SecurityHeaders returns an Echo middleware that adds security headers to
// every response. Headers relayed from a target take precedence.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Before(func() {
				h := c.Response().Header()
				for name, value := range securityHeaders {
					if h.Get(name) == "" {
						h.Set(name, value)
					}
				}
			})
			return next(c)
		}
	}
}
