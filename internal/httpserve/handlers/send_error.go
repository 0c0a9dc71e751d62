package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bnema/wharf/internal/auth"
	"github.com/bnema/wharf/internal/registry"
	"github.com/bnema/wharf/internal/server"
	"github.com/bnema/wharf/internal/storage"
	"github.com/bnema/wharf/internal/uploads"
	"github.com/bnema/wharf/pkg/digest"
	"github.com/bnema/wharf/pkg/manifest"
)

// ErrorCode is a short registry error code, shown by docker/podman on
// pull and push failures.
type ErrorCode string

const (
	CodeBlobUnknown         ErrorCode = "BLOB_UNKNOWN"
	CodeBlobUploadInvalid   ErrorCode = "BLOB_UPLOAD_INVALID"
	CodeBlobUploadUnknown   ErrorCode = "BLOB_UPLOAD_UNKNOWN"
	CodeDigestInvalid       ErrorCode = "DIGEST_INVALID"
	CodeManifestBlobUnknown ErrorCode = "MANIFEST_BLOB_UNKNOWN"
	CodeManifestInvalid     ErrorCode = "MANIFEST_INVALID"
	CodeManifestUnknown     ErrorCode = "MANIFEST_UNKNOWN"
	CodeNameInvalid         ErrorCode = "NAME_INVALID"
	CodeNameUnknown         ErrorCode = "NAME_UNKNOWN"
	CodeRangeInvalid        ErrorCode = "RANGE_INVALID"
	CodeSizeInvalid         ErrorCode = "SIZE_INVALID"
	CodeTagInvalid          ErrorCode = "TAG_INVALID"
	CodeTooManyRequests     ErrorCode = "TOO_MANY_REQUESTS"
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeDenied              ErrorCode = "DENIED"
	CodeUnsupported         ErrorCode = "UNSUPPORTED"
	CodeInternal            ErrorCode = "INTERNAL"
)

// ErrorResponse is the JSON error envelope every 4xx/5xx carries.
type ErrorResponse struct {
	Errors []ErrorItem `json:"errors"`
}

type ErrorItem struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail"`
}

// SendError writes the error envelope with a nil detail.
func SendError(c echo.Context, status int, code ErrorCode, message string) error {
	return SendErrorDetail(c, status, code, message, nil)
}

// SendErrorDetail writes the error envelope.
func SendErrorDetail(c echo.Context, status int, code ErrorCode, message string, detail interface{}) error {
	return c.JSON(status, ErrorResponse{
		Errors: []ErrorItem{{Code: code, Message: message, Detail: detail}},
	})
}

// Challenge writes the 401 bearer challenge. scope is empty for the base
// endpoint.
func Challenge(c echo.Context, a *server.App, scope string) error {
	hdr := fmt.Sprintf("Bearer realm=%q,service=%q", a.Config.Server.Realm, a.Config.Server.Service)
	if scope != "" {
		hdr += fmt.Sprintf(",scope=%q", scope)
	}
	c.Response().Header().Set("WWW-Authenticate", hdr)
	return SendError(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
}

// RepoScope formats the challenge scope for an action on a repository.
func RepoScope(repo string, action auth.Action) string {
	return fmt.Sprintf("repository:%s:%s", repo, action)
}

// SendServiceError translates a typed core error into the wire envelope.
// Auth errors are handled by the callers, which know the scope.
func SendServiceError(c echo.Context, err error) error {
	var blobUnknown *registry.ManifestBlobUnknownError
	switch {
	case errors.As(err, &blobUnknown):
		return SendErrorDetail(c, http.StatusBadRequest, CodeManifestBlobUnknown,
			"manifest references blobs not present in the registry",
			map[string][]string{"missing": blobUnknown.Missing})

	case errors.Is(err, registry.ErrNameInvalid):
		return SendError(c, http.StatusBadRequest, CodeNameInvalid, err.Error())
	case errors.Is(err, registry.ErrTagInvalid):
		return SendError(c, http.StatusBadRequest, CodeTagInvalid, err.Error())
	case errors.Is(err, registry.ErrNameUnknown):
		return SendError(c, http.StatusNotFound, CodeNameUnknown, err.Error())
	case errors.Is(err, registry.ErrManifestUnknown):
		return SendError(c, http.StatusNotFound, CodeManifestUnknown, err.Error())
	case errors.Is(err, registry.ErrManifestTooLarge):
		return SendError(c, http.StatusBadRequest, CodeSizeInvalid, err.Error())
	case errors.Is(err, registry.ErrManifestInvalid), errors.Is(err, manifest.ErrInvalid):
		return SendError(c, http.StatusBadRequest, CodeManifestInvalid, err.Error())
	case errors.Is(err, registry.ErrDeleteByTag), errors.Is(err, registry.ErrDeleteDisabled):
		return SendError(c, http.StatusMethodNotAllowed, CodeUnsupported, err.Error())

	case errors.Is(err, digest.ErrInvalid):
		return SendError(c, http.StatusBadRequest, CodeDigestInvalid, err.Error())
	case errors.Is(err, storage.ErrBlobUnknown):
		return SendError(c, http.StatusNotFound, CodeBlobUnknown, err.Error())
	case errors.Is(err, storage.ErrDigestMismatch):
		return SendError(c, http.StatusBadRequest, CodeDigestInvalid, err.Error())
	case errors.Is(err, storage.ErrRangeInvalid):
		return SendError(c, http.StatusRequestedRangeNotSatisfiable, CodeRangeInvalid, err.Error())

	case errors.Is(err, uploads.ErrSessionUnknown):
		return SendError(c, http.StatusNotFound, CodeBlobUploadUnknown, err.Error())
	case errors.Is(err, uploads.ErrBlobTooLarge):
		return SendError(c, http.StatusBadRequest, CodeSizeInvalid, err.Error())

	case errors.Is(err, registry.ErrCorrupt):
		// Integrity failure: never serve corrupt bytes, never leak details.
		return SendError(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}

	return SendError(c, http.StatusInternalServerError, CodeInternal, "internal error")
}
