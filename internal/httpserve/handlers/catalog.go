package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/server"
)

// CatalogResponse lists repository names for /v2/_catalog.
type CatalogResponse struct {
	Repositories []string `json:"repositories"`
}

// GetCatalog lists repositories with keyset pagination.
func GetCatalog(c echo.Context, a *server.App) error {
	if err := a.Gate.AuthorizeBase(PrincipalFrom(c)); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			return Challenge(c, a, "registry:catalog:*")
		}
		return SendError(c, http.StatusForbidden, CodeDenied, "insufficient scope")
	}

	n, last, err := parsePageParams(c)
	if err != nil {
		return sendInvalidPagination(c, err)
	}

	fetch := n
	if fetch > 0 {
		fetch++
	}
	repos, err := a.Registry.ListRepositories(fetch, last)
	if err != nil {
		return SendServiceError(c, err)
	}
	repos = pageOf(c, "/v2/_catalog", n, repos)

	return c.JSON(http.StatusOK, CatalogResponse{Repositories: repos})
}
