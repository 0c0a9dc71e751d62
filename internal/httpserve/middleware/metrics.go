package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/metrics"
)

// Metrics records the request counter and duration histogram. The route
// label comes from the dispatcher, which names routes after it matches.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route, _ := c.Get("route").(string)
			if route == "" {
				route = "unknown"
			}
			metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(c.Response().Status)).Inc()
			metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
