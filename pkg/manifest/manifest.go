// Package manifest parses image manifests and indexes far enough to
// extract the blob digests they reference. The documents themselves are
// stored as opaque blobs; only the reference graph is interpreted.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/bnema/wharf/pkg/digest"
)

// Docker counterparts of the OCI media types. The OCI ones come from
// image-spec.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// ErrInvalid is returned when a body does not parse as its declared media type.
var ErrInvalid = errors.New("invalid manifest")

// Image is an image manifest: a config blob plus ordered layers.
// Covers both the OCI and Docker v2.2 schemas, which agree on these fields.
type Image struct {
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType,omitempty"`
	Config        ocispec.Descriptor   `json:"config"`
	Layers        []ocispec.Descriptor `json:"layers"`
	Annotations   map[string]string    `json:"annotations,omitempty"`
}

// Index is a manifest list: references to child image manifests, usually
// one per platform.
type Index struct {
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType,omitempty"`
	Manifests     []ocispec.Descriptor `json:"manifests"`
	Annotations   map[string]string    `json:"annotations,omitempty"`
}

// IsImageType reports whether mediaType is a recognized image manifest type.
func IsImageType(mediaType string) bool {
	switch mediaType {
	case ocispec.MediaTypeImageManifest, MediaTypeDockerManifest:
		return true
	}
	return false
}

// IsIndexType reports whether mediaType is a recognized manifest list type.
func IsIndexType(mediaType string) bool {
	switch mediaType {
	case ocispec.MediaTypeImageIndex, MediaTypeDockerManifestList:
		return true
	}
	return false
}

// IsManifestType reports whether mediaType is any recognized manifest type.
func IsManifestType(mediaType string) bool {
	return IsImageType(mediaType) || IsIndexType(mediaType)
}

// References parses body as mediaType and returns every blob digest it
// references: config plus layers for an image manifest, child manifest
// digests for an index.
func References(mediaType string, body []byte) ([]digest.Digest, error) {
	switch {
	case IsImageType(mediaType):
		var m Image
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("%w: parsing image manifest: %v", ErrInvalid, err)
		}
		if m.SchemaVersion != 2 {
			return nil, fmt.Errorf("%w: schemaVersion %d must be 2", ErrInvalid, m.SchemaVersion)
		}
		if m.Config.Digest == "" {
			return nil, fmt.Errorf("%w: missing config digest", ErrInvalid)
		}
		refs := make([]digest.Digest, 0, len(m.Layers)+1)
		d, err := digest.Parse(string(m.Config.Digest))
		if err != nil {
			return nil, fmt.Errorf("%w: config digest: %v", ErrInvalid, err)
		}
		refs = append(refs, d)
		for _, l := range m.Layers {
			ld, err := digest.Parse(string(l.Digest))
			if err != nil {
				return nil, fmt.Errorf("%w: layer digest %q: %v", ErrInvalid, l.Digest, err)
			}
			refs = append(refs, ld)
		}
		return refs, nil

	case IsIndexType(mediaType):
		var idx Index
		if err := json.Unmarshal(body, &idx); err != nil {
			return nil, fmt.Errorf("%w: parsing manifest index: %v", ErrInvalid, err)
		}
		if idx.SchemaVersion != 2 {
			return nil, fmt.Errorf("%w: schemaVersion %d must be 2", ErrInvalid, idx.SchemaVersion)
		}
		if len(idx.Manifests) == 0 {
			return nil, fmt.Errorf("%w: index references no manifests", ErrInvalid)
		}
		refs := make([]digest.Digest, 0, len(idx.Manifests))
		for _, m := range idx.Manifests {
			d, err := digest.Parse(string(m.Digest))
			if err != nil {
				return nil, fmt.Errorf("%w: child manifest digest %q: %v", ErrInvalid, m.Digest, err)
			}
			refs = append(refs, d)
		}
		return refs, nil
	}

	return nil, fmt.Errorf("%w: unrecognized media type %q", ErrInvalid, mediaType)
}
