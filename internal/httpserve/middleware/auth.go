package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/httpserve/handlers"
	"github.com/bnema/wharf/internal/server"
	"github.com/bnema/wharf/pkg/logger"
)

// Principal resolves the bearer token (if any) into a Principal and
// attaches it to the request. No token means anonymous; the gate decides
// later whether that is enough. A token that fails verification is
// treated as anonymous rather than rejected here, so public pulls with a
// stale credential still work where policy allows them.
func Principal(a *server.App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := auth.Anonymous()
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if token, ok := strings.CutPrefix(header, "Bearer "); ok {
				if verified, found := a.Verifier.Verify(strings.TrimSpace(token)); found {
					p = verified
				} else {
					logger.Debug("Bearer token failed verification",
						"path", c.Request().URL.Path, "remote", c.RealIP())
				}
			}
			handlers.SetPrincipal(c, p)
			return next(c)
		}
	}
}
