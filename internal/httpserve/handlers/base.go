package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/server"
)

// GetBase answers the version check. Clients probe it before anything
// else; an unauthenticated client on a gated registry gets the bearer
// challenge here.
func GetBase(c echo.Context, a *server.App) error {
	if err := a.Gate.AuthorizeBase(PrincipalFrom(c)); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			return Challenge(c, a, "")
		}
		return SendError(c, http.StatusForbidden, CodeDenied, "insufficient scope")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{})
}
