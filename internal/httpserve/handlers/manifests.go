package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/server"
)

// acceptedTypes splits the Accept header into its media types, dropping
// quality parameters.
func acceptedTypes(r *http.Request) []string {
	var types []string
	for _, header := range r.Header.Values("Accept") {
		for _, part := range strings.Split(header, ",") {
			mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
			if mt != "" {
				types = append(types, mt)
			}
		}
	}
	return types
}

// GetManifest fetches a manifest by tag or digest. A stored media type
// outside the Accept set reports the manifest unknown.
func GetManifest(c echo.Context, a *server.App, repo, reference string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionPull); !ok {
		return err
	}

	m, err := a.Registry.GetManifest(repo, reference, acceptedTypes(c.Request()))
	if err != nil {
		return SendServiceError(c, err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, m.MediaType)
	h.Set(echo.HeaderContentLength, strconv.Itoa(len(m.Body)))
	h.Set("Docker-Content-Digest", string(m.Digest))

	if c.Request().Method == http.MethodHead {
		return c.NoContent(http.StatusOK)
	}
	return c.Blob(http.StatusOK, m.MediaType, m.Body)
}

// PutManifest stores a manifest under a tag or digest reference.
func PutManifest(c echo.Context, a *server.App, repo, reference string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionPush); !ok {
		return err
	}

	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if contentType == "" {
		return SendError(c, http.StatusBadRequest, CodeManifestInvalid, "Content-Type header required")
	}
	contentType, _, _ = strings.Cut(contentType, ";")
	contentType = strings.TrimSpace(contentType)

	body := http.MaxBytesReader(c.Response(), c.Request().Body, a.Config.Storage.MaxManifestBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return SendError(c, http.StatusBadRequest, CodeSizeInvalid, "manifest exceeds maximum size")
		}
		return SendError(c, http.StatusBadRequest, CodeManifestInvalid, "failed to read manifest body")
	}

	dgst, err := a.Registry.PutManifest(repo, reference, contentType, data)
	if err != nil {
		return SendServiceError(c, err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderLocation, fmt.Sprintf("/v2/%s/manifests/%s", repo, dgst))
	h.Set("Docker-Content-Digest", string(dgst))
	return c.NoContent(http.StatusCreated)
}

// DeleteManifest removes a manifest by digest; tag references get 405.
func DeleteManifest(c echo.Context, a *server.App, repo, reference string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionDelete); !ok {
		return err
	}

	if err := a.Registry.DeleteManifest(repo, reference); err != nil {
		return SendServiceError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}
