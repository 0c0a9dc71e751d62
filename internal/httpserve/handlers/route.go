// Package handlers implements the Distribution v2 protocol surface.
// Repository names may contain slashes, so routing under /v2/ is done by
// inspecting the path rather than by path parameters.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/server"
)

const principalKey = "wharf.principal"

// SetPrincipal attaches the verified principal to the request context.
func SetPrincipal(c echo.Context, p auth.Principal) {
	c.Set(principalKey, p)
}

// PrincipalFrom returns the request principal, anonymous if none was set.
func PrincipalFrom(c echo.Context) auth.Principal {
	if p, ok := c.Get(principalKey).(auth.Principal); ok {
		return p
	}
	return auth.Anonymous()
}

// requireAccess authorizes action on repo for the request principal.
// When access is refused the response has already been written and the
// first return value is false.
func requireAccess(c echo.Context, a *server.App, repo string, action auth.Action) (bool, error) {
	err := a.Gate.Authorize(PrincipalFrom(c), repo, action)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, auth.ErrUnauthorized):
		return false, Challenge(c, a, RepoScope(repo, action))
	default:
		return false, SendError(c, http.StatusForbidden, CodeDenied, "insufficient scope")
	}
}

// Dispatch routes every request under /v2/ to its handler. The route
// name is recorded on the context for the metrics middleware.
func Dispatch(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		method := c.Request().Method

		if path == "/v2/" || path == "/v2" {
			c.Set("route", "base")
			return GetBase(c, a)
		}
		if path == "/v2/_catalog" {
			c.Set("route", "catalog")
			if method != http.MethodGet {
				return SendError(c, http.StatusMethodNotAllowed, CodeUnsupported, "method not allowed")
			}
			return GetCatalog(c, a)
		}

		rest := strings.TrimPrefix(path, "/v2/")

		// /v2/{repo}/tags/list
		if repo, ok := strings.CutSuffix(rest, "/tags/list"); ok {
			c.Set("route", "tags_list")
			if method != http.MethodGet {
				return SendError(c, http.StatusMethodNotAllowed, CodeUnsupported, "method not allowed")
			}
			return GetTagsList(c, a, repo)
		}

		// /v2/{repo}/blobs/uploads/ and /v2/{repo}/blobs/uploads/{uuid}
		if idx := strings.LastIndex(rest, "/blobs/uploads/"); idx >= 0 {
			repo := rest[:idx]
			id := rest[idx+len("/blobs/uploads/"):]
			if id == "" {
				c.Set("route", "blob_upload_start")
				if method != http.MethodPost {
					return SendError(c, http.StatusMethodNotAllowed, CodeUnsupported, "method not allowed")
				}
				return PostBlobUpload(c, a, repo)
			}
			c.Set("route", "blob_upload")
			switch method {
			case http.MethodGet:
				return GetBlobUpload(c, a, repo, id)
			case http.MethodPatch:
				return PatchBlobUpload(c, a, repo, id)
			case http.MethodPut:
				return PutBlobUpload(c, a, repo, id)
			case http.MethodDelete:
				return DeleteBlobUpload(c, a, repo, id)
			}
			return SendError(c, http.StatusMethodNotAllowed, CodeUnsupported, "method not allowed")
		}

		// /v2/{repo}/manifests/{reference}
		if idx := strings.LastIndex(rest, "/manifests/"); idx >= 0 {
			repo := rest[:idx]
			reference := rest[idx+len("/manifests/"):]
			c.Set("route", "manifest")
			switch method {
			case http.MethodGet, http.MethodHead:
				return GetManifest(c, a, repo, reference)
			case http.MethodPut:
				return PutManifest(c, a, repo, reference)
			case http.MethodDelete:
				return DeleteManifest(c, a, repo, reference)
			}
			return SendError(c, http.StatusMethodNotAllowed, CodeUnsupported, "method not allowed")
		}

		// /v2/{repo}/blobs/{digest}
		if idx := strings.LastIndex(rest, "/blobs/"); idx >= 0 {
			repo := rest[:idx]
			dgst := rest[idx+len("/blobs/"):]
			c.Set("route", "blob")
			switch method {
			case http.MethodGet, http.MethodHead:
				return GetBlob(c, a, repo, dgst)
			case http.MethodDelete:
				return DeleteBlob(c, a, repo, dgst)
			}
			return SendError(c, http.StatusMethodNotAllowed, CodeUnsupported, "method not allowed")
		}

		c.Set("route", "unknown")
		return SendError(c, http.StatusNotFound, CodeUnsupported, "route not found")
	}
}
