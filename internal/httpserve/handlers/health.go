package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/server"
)

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// GetHealth reports whether the index and blob store answer.
func GetHealth(c echo.Context, a *server.App) error {
	if err := a.Registry.Health(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
