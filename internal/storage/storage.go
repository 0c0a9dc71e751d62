// Package storage implements the content-addressed blob store: a
// write-once file set keyed by digest, with staged uploads promoted by
// rename. The presence of the final data file is the commit point, so
// concurrent writers of the same content need no locking.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/wharf/pkg/digest"
	"github.com/bnema/wharf/pkg/logger"
)

var (
	// ErrBlobUnknown is returned when no blob exists for a digest.
	ErrBlobUnknown = errors.New("blob unknown")
	// ErrRangeInvalid is returned for a non-contiguous stage append.
	ErrRangeInvalid = errors.New("range invalid")
	// ErrDigestMismatch is returned when staged content does not hash to
	// the expected digest.
	ErrDigestMismatch = errors.New("digest mismatch")
	// ErrStageClosed is returned for operations on an aborted or committed stage.
	ErrStageClosed = errors.New("stage closed")
)

// Store is a filesystem-backed blob store rooted at a data directory:
//
//	<root>/blobs/<alg>/<hex[0:2]>/<hex>/data
//	<root>/staging/<id>
type Store struct {
	root string
}

// New creates the directory layout under root if needed.
func New(root string) (*Store, error) {
	for _, dir := range []string{
		filepath.Join(root, "blobs"),
		filepath.Join(root, "staging"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	logger.Debug("Blob store initialized", "root", root)
	return &Store{root: root}, nil
}

// blobDir returns the directory that holds a blob's data file. The
// two-character fan-out keeps any single directory small.
func (s *Store) blobDir(d digest.Digest) string {
	hex := digest.Hex(d)
	return filepath.Join(s.root, "blobs", digest.Algorithm(d), hex[:2], hex)
}

func (s *Store) dataPath(d digest.Digest) string {
	return filepath.Join(s.blobDir(d), "data")
}

// StagingDir returns the staging directory path.
func (s *Store) StagingDir() string {
	return filepath.Join(s.root, "staging")
}

// Exists reports whether a blob is present. A single stat call.
func (s *Store) Exists(d digest.Digest) bool {
	_, err := os.Stat(s.dataPath(d))
	return err == nil
}

// Stat returns the size of a blob.
func (s *Store) Stat(d digest.Digest) (int64, error) {
	info, err := os.Stat(s.dataPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrBlobUnknown, d)
		}
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Size(), nil
}

// Open returns a seekable reader over a blob's content plus its size.
func (s *Store) Open(d digest.Digest) (*os.File, int64, error) {
	f, err := os.Open(s.dataPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrBlobUnknown, d)
		}
		return nil, 0, fmt.Errorf("failed to open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return f, info.Size(), nil
}

// Remove deletes a blob's data file and its per-digest directory.
func (s *Store) Remove(d digest.Digest) error {
	if err := os.Remove(s.dataPath(d)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBlobUnknown, d)
		}
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	// Best effort on the now-empty digest directory.
	_ = os.Remove(s.blobDir(d))
	return nil
}

// Verify re-hashes a blob's content and compares it to its digest. A
// mismatch means the file on disk is corrupt.
func (s *Store) Verify(d digest.Digest) error {
	f, _, err := s.Open(d)
	if err != nil {
		return err
	}
	defer f.Close()

	digester := digest.NewDigester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	if digester.Digest() != d {
		return fmt.Errorf("%w: blob %s hashes to %s", ErrDigestMismatch, d, digester.Digest())
	}
	return nil
}

// BlobInfo describes one blob found on disk.
type BlobInfo struct {
	Digest  digest.Digest
	Size    int64
	ModTime time.Time
}

// Walk calls fn for every blob data file on disk. Used by the garbage
// collector's sweep phase.
func (s *Store) Walk(fn func(BlobInfo) error) error {
	blobs := filepath.Join(s.root, "blobs")
	return filepath.WalkDir(blobs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "data" {
			return nil
		}
		rel, err := filepath.Rel(blobs, path)
		if err != nil {
			return err
		}
		// rel is <alg>/<hex[0:2]>/<hex>/data
		dir := filepath.Dir(rel)
		alg := filepath.Dir(filepath.Dir(dir))
		hex := filepath.Base(dir)
		dgst, perr := digest.Parse(alg + ":" + hex)
		if perr != nil {
			logger.Warn("Skipping unparsable blob path", "path", path)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(BlobInfo{Digest: dgst, Size: info.Size(), ModTime: info.ModTime()})
	})
}

// Stage is an in-flight upload: an append-only staging file paired with
// a streaming hasher fed in parallel with every disk write.
type Stage struct {
	id       string
	path     string
	f        *os.File
	digester digest.Digester
	size     int64
	closed   bool
}

// NewStage creates a staging file for id under <root>/staging.
func (s *Store) NewStage(id string) (*Stage, error) {
	path := filepath.Join(s.StagingDir(), id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	return &Stage{
		id:       id,
		path:     path,
		f:        f,
		digester: digest.NewDigester(),
	}, nil
}

// Path returns the staging file path.
func (st *Stage) Path() string { return st.path }

// Size returns the number of bytes staged so far.
func (st *Stage) Size() int64 { return st.size }

// Append writes r at offset, which must equal the current size.
// Returns the new total length.
func (st *Stage) Append(r io.Reader, offset int64) (int64, error) {
	if st.closed {
		return st.size, ErrStageClosed
	}
	if offset != st.size {
		return st.size, fmt.Errorf("%w: stage is at offset %d, got %d", ErrRangeInvalid, st.size, offset)
	}
	n, err := io.Copy(io.MultiWriter(st.f, st.digester.Hash()), r)
	st.size += n
	if err != nil {
		return st.size, fmt.Errorf("failed to write staged bytes: %w", err)
	}
	return st.size, nil
}

// Digest returns the digest of everything staged so far.
func (st *Stage) Digest() digest.Digest {
	return st.digester.Digest()
}

// Commit checks the staged content against expected and, on match,
// promotes the staging file to its blob location by rename. If the blob
// already exists the staged copy is discarded; that is the deduplication
// point. On digest mismatch the stage stays open so the caller may retry
// or cancel.
func (st *Stage) Commit(s *Store, expected digest.Digest) (int64, error) {
	if st.closed {
		return 0, ErrStageClosed
	}
	actual := st.Digest()
	if actual != expected {
		return 0, fmt.Errorf("%w: staged content is %s, expected %s", ErrDigestMismatch, actual, expected)
	}

	if err := st.f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close staging file: %w", err)
	}
	st.closed = true

	target := s.dataPath(expected)
	if _, err := os.Stat(target); err == nil {
		// Lost the race or re-uploaded content; the existing blob wins.
		_ = os.Remove(st.path)
		logger.Debug("Blob already present, staged copy discarded", "digest", expected)
		return st.size, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.Rename(st.path, target); err != nil {
		// Another finalize may have renamed first; dedup applies.
		if s.Exists(expected) {
			_ = os.Remove(st.path)
			return st.size, nil
		}
		return 0, fmt.Errorf("failed to promote staged blob: %w", err)
	}
	logger.Debug("Blob committed", "digest", expected, "size", st.size)
	return st.size, nil
}

// Abort removes the staging file.
func (st *Stage) Abort() error {
	if st.closed {
		return nil
	}
	st.closed = true
	_ = st.f.Close()
	if err := os.Remove(st.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove staging file: %w", err)
	}
	return nil
}
