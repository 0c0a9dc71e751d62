package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/server"
	"github.com/bnema/wharf/pkg/digest"
)

// GetBlob serves blob content by digest. GET honors Range requests; HEAD
// returns the same headers without a body.
func GetBlob(c echo.Context, a *server.App, repo, rawDigest string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionPull); !ok {
		return err
	}

	dgst, err := digest.Parse(rawDigest)
	if err != nil {
		return SendServiceError(c, err)
	}

	f, size, err := a.Registry.OpenBlob(repo, dgst)
	if err != nil {
		return SendServiceError(c, err)
	}
	defer f.Close()

	h := c.Response().Header()
	h.Set("Docker-Content-Digest", string(dgst))
	h.Set(echo.HeaderContentType, "application/octet-stream")

	if c.Request().Method == http.MethodHead {
		h.Set(echo.HeaderContentLength, strconv.FormatInt(size, 10))
		return c.NoContent(http.StatusOK)
	}

	// ServeContent handles Range and Content-Length.
	http.ServeContent(c.Response(), c.Request(), string(dgst), time.Time{}, f)
	return nil
}

// DeleteBlob removes a blob immediately, when deletion is enabled.
func DeleteBlob(c echo.Context, a *server.App, repo, rawDigest string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionDelete); !ok {
		return err
	}

	dgst, err := digest.Parse(rawDigest)
	if err != nil {
		return SendServiceError(c, err)
	}

	if err := a.Registry.DeleteBlob(repo, dgst); err != nil {
		return SendServiceError(c, err)
	}

	c.Response().Header().Set("Docker-Content-Digest", string(dgst))
	return c.NoContent(http.StatusAccepted)
}
