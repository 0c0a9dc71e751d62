package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/registry"
	"github.com/bnema/wharf/internal/server"
	"github.com/bnema/wharf/internal/storage"
	"github.com/bnema/wharf/internal/uploads"
	"github.com/bnema/wharf/pkg/digest"
)

// committedRange formats the Range header for n committed bytes. A fresh
// session reports 0-0.
func committedRange(n int64) string {
	if n <= 0 {
		return "0-0"
	}
	return fmt.Sprintf("0-%d", n-1)
}

func uploadLocation(repo, id string) string {
	return fmt.Sprintf("/v2/%s/blobs/uploads/%s", repo, id)
}

func blobLocation(repo string, dgst digest.Digest) string {
	return fmt.Sprintf("/v2/%s/blobs/%s", repo, dgst)
}

// PostBlobUpload starts an upload session. With mount and from query
// parameters it instead mounts an existing blob across repositories;
// with a digest parameter the body is the whole blob and the session is
// finalized in one round trip.
func PostBlobUpload(c echo.Context, a *server.App, repo string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionPush); !ok {
		return err
	}
	if err := registry.ValidateRepoName(repo); err != nil {
		return SendServiceError(c, err)
	}

	if mount := c.QueryParam("mount"); mount != "" {
		if from := c.QueryParam("from"); from != "" {
			if mounted, err := tryMount(c, a, repo, from, mount); mounted || err != nil {
				return err
			}
			// Mount impossible; fall through to a regular upload.
		}
	}

	if rawDigest := c.QueryParam("digest"); rawDigest != "" {
		return monolithicPost(c, a, repo, rawDigest)
	}

	sess, err := a.Uploads.Start(repo)
	if err != nil {
		return SendServiceError(c, err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderLocation, uploadLocation(repo, sess.ID))
	h.Set("Range", "0-0")
	h.Set("Docker-Upload-UUID", sess.ID)
	return c.NoContent(http.StatusAccepted)
}

// tryMount attempts the cross-repo mount. Returns mounted=true when the
// 201 response has been written.
func tryMount(c echo.Context, a *server.App, repo, from, rawDigest string) (bool, error) {
	if ok, err := requireAccess(c, a, from, auth.ActionPull); !ok {
		return true, err
	}
	dgst, err := digest.Parse(rawDigest)
	if err != nil {
		// An unparsable mount digest falls back to a regular upload.
		return false, nil
	}
	mounted, err := a.Registry.MountBlob(from, repo, dgst)
	if err != nil {
		return true, SendServiceError(c, err)
	}
	if !mounted {
		return false, nil
	}
	h := c.Response().Header()
	h.Set(echo.HeaderLocation, blobLocation(repo, dgst))
	h.Set("Docker-Content-Digest", string(dgst))
	return true, c.NoContent(http.StatusCreated)
}

// monolithicPost ingests the whole blob from the POST body.
func monolithicPost(c echo.Context, a *server.App, repo, rawDigest string) error {
	dgst, err := digest.Parse(rawDigest)
	if err != nil {
		return SendServiceError(c, err)
	}

	sess, err := a.Uploads.Start(repo)
	if err != nil {
		return SendServiceError(c, err)
	}
	if _, err := a.Uploads.Finalize(sess.ID, c.Request().Body, dgst); err != nil {
		_ = a.Uploads.Cancel(sess.ID)
		return SendServiceError(c, err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderLocation, blobLocation(repo, dgst))
	h.Set("Docker-Content-Digest", string(dgst))
	return c.NoContent(http.StatusCreated)
}

// GetBlobUpload reports upload progress so a client can resume.
func GetBlobUpload(c echo.Context, a *server.App, repo, id string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionPush); !ok {
		return err
	}

	length, err := a.Uploads.Status(id)
	if err != nil {
		return SendServiceError(c, err)
	}

	h := c.Response().Header()
	h.Set("Range", committedRange(length))
	h.Set("Docker-Upload-UUID", id)
	return c.NoContent(http.StatusNoContent)
}

// parseContentRange reads a "<start>-<end>" Content-Range header.
func parseContentRange(raw string) (start, end int64, err error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "bytes ")
	first, second, found := strings.Cut(raw, "-")
	if !found {
		return 0, 0, fmt.Errorf("unrecognized content-range %q", raw)
	}
	if start, err = strconv.ParseInt(strings.TrimSpace(first), 10, 64); err != nil {
		return 0, 0, fmt.Errorf("unrecognized content-range %q", raw)
	}
	second, _, _ = strings.Cut(second, "/")
	if end, err = strconv.ParseInt(strings.TrimSpace(second), 10, 64); err != nil {
		return 0, 0, fmt.Errorf("unrecognized content-range %q", raw)
	}
	if start < 0 || end < start {
		return 0, 0, fmt.Errorf("invalid content-range %q", raw)
	}
	return start, end, nil
}

// PatchBlobUpload appends a chunk. The chunk must start exactly at the
// committed length; anything else gets 416 with the committed range so
// the client can resume.
func PatchBlobUpload(c echo.Context, a *server.App, repo, id string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionPush); !ok {
		return err
	}

	offset := int64(-1)
	if cr := c.Request().Header.Get("Content-Range"); cr != "" {
		start, _, err := parseContentRange(cr)
		if err != nil {
			return SendError(c, http.StatusBadRequest, CodeBlobUploadInvalid, err.Error())
		}
		offset = start
	}

	length, err := a.Uploads.Append(id, c.Request().Body, offset)
	if err != nil {
		if errors.Is(err, storage.ErrRangeInvalid) {
			c.Response().Header().Set("Range", committedRange(length))
			return SendError(c, http.StatusRequestedRangeNotSatisfiable, CodeRangeInvalid, err.Error())
		}
		if errors.Is(err, uploads.ErrBlobTooLarge) {
			_ = a.Uploads.Cancel(id)
			return SendError(c, http.StatusBadRequest, CodeSizeInvalid, err.Error())
		}
		return SendServiceError(c, err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderLocation, uploadLocation(repo, id))
	h.Set("Range", committedRange(length))
	h.Set("Docker-Upload-UUID", id)
	return c.NoContent(http.StatusAccepted)
}

// PutBlobUpload finalizes a session. Any request body is a trailing
// chunk; the digest query parameter is authoritative. On digest mismatch
// the session stays open so the client may cancel or retry.
func PutBlobUpload(c echo.Context, a *server.App, repo, id string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionPush); !ok {
		return err
	}

	rawDigest := c.QueryParam("digest")
	if rawDigest == "" {
		return SendError(c, http.StatusBadRequest, CodeDigestInvalid, "digest query parameter required")
	}
	dgst, err := digest.Parse(rawDigest)
	if err != nil {
		return SendServiceError(c, err)
	}

	if _, err := a.Uploads.Finalize(id, c.Request().Body, dgst); err != nil {
		if errors.Is(err, uploads.ErrBlobTooLarge) {
			_ = a.Uploads.Cancel(id)
			return SendError(c, http.StatusBadRequest, CodeSizeInvalid, err.Error())
		}
		return SendServiceError(c, err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderLocation, blobLocation(repo, dgst))
	h.Set("Docker-Content-Digest", string(dgst))
	return c.NoContent(http.StatusCreated)
}

// DeleteBlobUpload cancels a session and removes its staged bytes.
func DeleteBlobUpload(c echo.Context, a *server.App, repo, id string) error {
	if ok, err := requireAccess(c, a, repo, auth.ActionPush); !ok {
		return err
	}

	if err := a.Uploads.Cancel(id); err != nil {
		return SendServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
