package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

// parsePageParams reads the n and last query parameters. n == 0 means
// unpaginated.
func parsePageParams(c echo.Context) (n int, last string, err error) {
	last = c.QueryParam("last")
	raw := c.QueryParam("n")
	if raw == "" {
		return 0, last, nil
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil || n < 0 {
		return 0, "", fmt.Errorf("invalid n parameter %q", raw)
	}
	return n, last, nil
}

// pageOf trims items to the requested page size and, when more results
// exist, sets the RFC 5988 next link. Callers query n+1 items so "more"
// is detectable.
func pageOf(c echo.Context, basePath string, n int, items []string) []string {
	if n <= 0 || len(items) <= n {
		return items
	}
	items = items[:n]
	next := fmt.Sprintf("<%s?n=%d&last=%s>; rel=\"next\"",
		basePath, n, url.QueryEscape(items[n-1]))
	c.Response().Header().Set("Link", next)
	return items
}

// sendInvalidPagination reports a malformed n parameter.
func sendInvalidPagination(c echo.Context, err error) error {
	return SendError(c, http.StatusBadRequest, CodeUnsupported, err.Error())
}
