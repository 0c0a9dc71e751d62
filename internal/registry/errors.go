package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNameInvalid rejects malformed repository names.
	ErrNameInvalid = errors.New("invalid repository name")
	// ErrNameUnknown is returned for repositories that do not exist.
	ErrNameUnknown = errors.New("repository name not known")
	// ErrTagInvalid rejects malformed tag names.
	ErrTagInvalid = errors.New("invalid tag name")
	// ErrManifestUnknown is returned when a manifest cannot be resolved.
	ErrManifestUnknown = errors.New("manifest unknown")
	// ErrManifestInvalid rejects bodies that do not parse as a manifest,
	// disagree with their reference digest, or carry an unknown media type.
	ErrManifestInvalid = errors.New("manifest invalid")
	// ErrManifestTooLarge rejects manifests over the configured size cap.
	ErrManifestTooLarge = errors.New("manifest exceeds maximum size")
	// ErrDeleteByTag is returned for manifest DELETE with a tag reference;
	// the protocol only allows deletion by digest.
	ErrDeleteByTag = errors.New("manifest delete requires a digest reference")
	// ErrDeleteDisabled is returned when blob deletion is not enabled.
	ErrDeleteDisabled = errors.New("delete is disabled")
	// ErrCorrupt means stored content no longer hashes to its digest.
	ErrCorrupt = errors.New("stored content is corrupt")
)

// ManifestBlobUnknownError reports the referenced digests missing from
// the blob store at manifest-write time.
type ManifestBlobUnknownError struct {
	Missing []string
}

func (e *ManifestBlobUnknownError) Error() string {
	return fmt.Sprintf("manifest references unknown blobs: %s", strings.Join(e.Missing, ", "))
}
