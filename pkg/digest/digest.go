// Package digest handles content digests of the form "algorithm:hex".
//
// It builds on opencontainers/go-digest and enforces the canonical form
// used on the wire: lowercase hex, a recognized algorithm, and a hex
// length that matches the algorithm.
package digest

import (
	"errors"
	"fmt"
	"strings"

	godigest "github.com/opencontainers/go-digest"
)

// ErrInvalid is returned for any digest that does not parse in canonical form.
var ErrInvalid = errors.New("invalid digest")

// Digest is a parsed, validated content digest.
type Digest = godigest.Digest

// Digester accumulates bytes and yields their digest. Write paths feed it
// in parallel with disk writes so digests never require buffering content.
type Digester = godigest.Digester

// Canonical is the algorithm used for all locally computed digests.
const Canonical = godigest.SHA256

// Parse validates s and returns it as a Digest.
//
// Uppercase hex, unknown algorithms, and wrong hex lengths are rejected.
func Parse(s string) (Digest, error) {
	d, err := godigest.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	return d, nil
}

// FromBytes computes the canonical digest of b.
func FromBytes(b []byte) Digest {
	return Canonical.FromBytes(b)
}

// NewDigester returns a streaming digest accumulator for the canonical
// algorithm. Write to Hash(), read the result from Digest().
func NewDigester() Digester {
	return Canonical.Digester()
}

// Algorithm returns the algorithm part of d, e.g. "sha256".
func Algorithm(d Digest) string {
	return string(d.Algorithm())
}

// Hex returns the hex part of d.
func Hex(d Digest) string {
	return d.Encoded()
}

// IsDigest reports whether s looks like a digest rather than a tag.
// The presence of the separating colon is what distinguishes the two in
// manifest references.
func IsDigest(s string) bool {
	return strings.Contains(s, ":")
}
