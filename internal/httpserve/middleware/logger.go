// Package middleware holds the echo middlewares in front of the
// protocol handlers: request logging, principal extraction, rate
// limiting, and metrics.
package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/pkg/logger"
)

// RequestLogger logs one line per request with method, path, status, and
// duration.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			logger.Debug("Request handled",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"remote", c.RealIP(),
			)
			return err
		}
	}
}
