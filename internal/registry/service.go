// Package registry implements the registry's core semantics on top of
// the blob store and the metadata index: manifest writes with
// referential integrity, tag resolution, listings, and blob access.
package registry

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/bnema/wharf/internal/config"
	"github.com/bnema/wharf/internal/db"
	"github.com/bnema/wharf/internal/db/queries"
	"github.com/bnema/wharf/internal/storage"
	"github.com/bnema/wharf/pkg/digest"
	"github.com/bnema/wharf/pkg/logger"
	"github.com/bnema/wharf/pkg/manifest"
)

// Service ties the blob store and metadata index together.
type Service struct {
	cfg      *config.Config
	store    *storage.Store
	database *sql.DB
}

// NewService creates the registry service.
func NewService(cfg *config.Config, store *storage.Store, database *sql.DB) *Service {
	return &Service{cfg: cfg, store: store, database: database}
}

// Store exposes the underlying blob store.
func (s *Service) Store() *storage.Store { return s.store }

// DB exposes the underlying index database.
func (s *Service) DB() *sql.DB { return s.database }

// ManifestData is a resolved manifest: its digest, stored media type,
// and raw bytes.
type ManifestData struct {
	Digest    digest.Digest
	MediaType string
	Body      []byte
}

// PutManifest validates and stores a manifest body under repo, updating
// the tag when reference is a tag name. Every digest the manifest
// references must already be present in the blob store.
func (s *Service) PutManifest(repo, reference, mediaType string, body []byte) (digest.Digest, error) {
	if err := ValidateRepoName(repo); err != nil {
		return "", err
	}
	if s.cfg.Storage.MaxManifestBytes > 0 && int64(len(body)) > s.cfg.Storage.MaxManifestBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrManifestTooLarge, len(body))
	}
	if !manifest.IsManifestType(mediaType) {
		return "", fmt.Errorf("%w: unrecognized media type %q", ErrManifestInvalid, mediaType)
	}

	dgst := digest.FromBytes(body)

	isTag := IsTag(reference)
	if !isTag {
		ref, err := digest.Parse(reference)
		if err != nil {
			return "", fmt.Errorf("%w: reference: %v", ErrManifestInvalid, err)
		}
		if ref != dgst {
			return "", fmt.Errorf("%w: body digests to %s, reference is %s", ErrManifestInvalid, dgst, ref)
		}
	}

	refs, err := manifest.References(mediaType, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}

	if missing := s.missingBlobs(refs); len(missing) > 0 {
		return "", &ManifestBlobUnknownError{Missing: missing}
	}

	// The manifest body is itself a blob; the stage commit dedups when
	// the same manifest is pushed again.
	if err := s.writeBlob(body, dgst); err != nil {
		return "", err
	}

	tx, err := db.BeginWithRetry(s.database)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-verify under the transaction: a blob that vanished since the
	// first check (a racing GC outside its safety horizon) must fail the
	// write rather than produce a dangling reference.
	if missing := s.missingBlobs(refs); len(missing) > 0 {
		return "", &ManifestBlobUnknownError{Missing: missing}
	}

	if err := queries.EnsureRepository(tx, repo); err != nil {
		return "", err
	}
	if err := queries.UpsertManifest(tx, string(dgst), mediaType, repo); err != nil {
		return "", err
	}
	refStrings := make([]string, len(refs))
	for i, r := range refs {
		refStrings[i] = string(r)
	}
	if err := queries.SetManifestRefs(tx, string(dgst), refStrings); err != nil {
		return "", err
	}
	if isTag {
		if err := ValidateTagName(reference); err != nil {
			return "", err
		}
		if err := queries.SetTag(tx, repo, reference, string(dgst)); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit manifest write: %w", err)
	}

	logger.Info("Manifest stored", "repo", repo, "reference", reference, "digest", dgst)
	return dgst, nil
}

// GetManifest resolves reference (tag or digest) within repo and returns
// the stored body. When accept is non-empty and does not cover the
// stored media type, the manifest is reported unknown; that matches
// reference registry behavior for schema mismatches.
func (s *Service) GetManifest(repo, reference string, accept []string) (*ManifestData, error) {
	if err := ValidateRepoName(repo); err != nil {
		return nil, err
	}

	var dgst digest.Digest
	if IsTag(reference) {
		d, err := queries.GetTag(s.database, repo, reference)
		if err != nil {
			if errors.Is(err, queries.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s:%s", ErrManifestUnknown, repo, reference)
			}
			return nil, err
		}
		dgst = digest.Digest(d)
	} else {
		d, err := digest.Parse(reference)
		if err != nil {
			return nil, err
		}
		dgst = d
	}

	row, err := queries.GetManifest(s.database, string(dgst))
	if err != nil {
		if errors.Is(err, queries.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrManifestUnknown, dgst)
		}
		return nil, err
	}

	if !acceptsMediaType(accept, row.MediaType) {
		return nil, fmt.Errorf("%w: stored media type %s not acceptable", ErrManifestUnknown, row.MediaType)
	}

	f, _, err := s.store.Open(dgst)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest blob: %w", err)
	}
	if digest.FromBytes(body) != dgst {
		return nil, fmt.Errorf("%w: manifest blob %s", ErrCorrupt, dgst)
	}

	return &ManifestData{Digest: dgst, MediaType: row.MediaType, Body: body}, nil
}

// DeleteManifest removes the manifest row and every tag in repo pointing
// at it. The protocol requires a digest reference; tags get 405. The
// blob itself is the garbage collector's to reclaim.
func (s *Service) DeleteManifest(repo, reference string) error {
	if err := ValidateRepoName(repo); err != nil {
		return err
	}
	if IsTag(reference) {
		return ErrDeleteByTag
	}
	dgst, err := digest.Parse(reference)
	if err != nil {
		return err
	}

	tx, err := db.BeginWithRetry(s.database)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := queries.DeleteTagsForManifest(tx, repo, string(dgst)); err != nil {
		return err
	}
	if err := queries.DeleteManifest(tx, string(dgst)); err != nil {
		if errors.Is(err, queries.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrManifestUnknown, dgst)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit manifest delete: %w", err)
	}

	logger.Info("Manifest deleted", "repo", repo, "digest", dgst)
	return nil
}

// StatBlob returns the size of a blob.
func (s *Service) StatBlob(repo string, dgst digest.Digest) (int64, error) {
	if err := ValidateRepoName(repo); err != nil {
		return 0, err
	}
	return s.store.Stat(dgst)
}

// OpenBlob returns a seekable reader over a blob plus its size.
func (s *Service) OpenBlob(repo string, dgst digest.Digest) (*os.File, int64, error) {
	if err := ValidateRepoName(repo); err != nil {
		return nil, 0, err
	}
	return s.store.Open(dgst)
}

// DeleteBlob removes a blob immediately. Only allowed when deletion is
// enabled; most deployments leave reclamation to the garbage collector.
func (s *Service) DeleteBlob(repo string, dgst digest.Digest) error {
	if err := ValidateRepoName(repo); err != nil {
		return err
	}
	if !s.cfg.Storage.EnableDelete {
		return ErrDeleteDisabled
	}
	return s.store.Remove(dgst)
}

// MountBlob implements cross-repository mounting: if the blob exists it
// is instantly available under the target repo, because the blob set is
// content addressed and shared. Returns false when the digest is absent
// and a regular upload should start instead.
func (s *Service) MountBlob(fromRepo, toRepo string, dgst digest.Digest) (bool, error) {
	if err := ValidateRepoName(fromRepo); err != nil {
		return false, err
	}
	if err := ValidateRepoName(toRepo); err != nil {
		return false, err
	}
	if !s.store.Exists(dgst) {
		return false, nil
	}
	if err := queries.EnsureRepository(s.database, toRepo); err != nil {
		return false, err
	}
	logger.Debug("Blob mounted across repositories", "digest", dgst, "from", fromRepo, "to", toRepo)
	return true, nil
}

// ListRepositories pages over repository names.
func (s *Service) ListRepositories(n int, last string) ([]string, error) {
	return queries.ListRepositories(s.database, n, last)
}

// ListTags pages over tag names within repo.
func (s *Service) ListTags(repo string, n int, last string) ([]string, error) {
	if err := ValidateRepoName(repo); err != nil {
		return nil, err
	}
	exists, err := queries.RepositoryExists(s.database, repo)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNameUnknown, repo)
	}
	return queries.ListTags(s.database, repo, n, last)
}

// DeleteRepository is the management operation that removes a repository
// and its tags. Manifests and blobs are reclaimed by the collector.
func (s *Service) DeleteRepository(name string) error {
	if err := ValidateRepoName(name); err != nil {
		return err
	}
	err := queries.DeleteRepository(s.database, name)
	if errors.Is(err, queries.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNameUnknown, name)
	}
	return err
}

// Health checks that the index answers queries and the data root exists.
func (s *Service) Health() error {
	if err := s.database.Ping(); err != nil {
		return fmt.Errorf("index database: %w", err)
	}
	if _, err := os.Stat(s.cfg.Storage.Path); err != nil {
		return fmt.Errorf("storage path: %w", err)
	}
	return nil
}

// missingBlobs returns the string forms of refs absent from the blob store.
func (s *Service) missingBlobs(refs []digest.Digest) []string {
	var missing []string
	for _, r := range refs {
		if !s.store.Exists(r) {
			missing = append(missing, string(r))
		}
	}
	return missing
}

// writeBlob stores body under dgst through the staging path, so the
// usual dedup-on-commit applies.
func (s *Service) writeBlob(body []byte, dgst digest.Digest) error {
	if s.store.Exists(dgst) {
		return nil
	}
	stage, err := s.store.NewStage("manifest-" + uuid.NewString())
	if err != nil {
		return err
	}
	if _, err := stage.Append(bytes.NewReader(body), 0); err != nil {
		_ = stage.Abort()
		return err
	}
	if _, err := stage.Commit(s.store, dgst); err != nil {
		_ = stage.Abort()
		return err
	}
	return nil
}

// acceptsMediaType reports whether stored is covered by the Accept set.
// An empty set accepts everything.
func acceptsMediaType(accept []string, stored string) bool {
	if len(accept) == 0 {
		return true
	}
	for _, a := range accept {
		switch a {
		case stored, "*/*", "application/*":
			return true
		}
	}
	return false
}
