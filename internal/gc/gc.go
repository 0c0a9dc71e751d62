// Package gc implements mark-and-sweep reclamation of unreferenced
// blobs. Roots are tagged manifests; the reference table closes the set
// transitively (indexes reference child manifests). Anything on disk
// outside the reachable set is deleted once it is older than the safety
// horizon, which is what makes running the collector online safe: a blob
// uploaded for an in-flight manifest PUT is always younger than the
// horizon, and the PUT re-verifies its references in its own transaction.
package gc

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bnema/wharf/internal/db"
	"github.com/bnema/wharf/internal/db/queries"
	"github.com/bnema/wharf/internal/storage"
	"github.com/bnema/wharf/internal/uploads"
	"github.com/bnema/wharf/pkg/digest"
	"github.com/bnema/wharf/pkg/logger"
)

// Collector runs the sweep.
type Collector struct {
	store      *storage.Store
	database   *sql.DB
	uploads    *uploads.Manager
	horizon    time.Duration
	sessionTTL time.Duration
}

// Report summarizes one collector run.
type Report struct {
	ExpiredSessions  int
	ReachableDigests int
	DeletedBlobs     int
	DeletedManifests int
	FreedBytes       int64
}

// New creates a collector. horizon is the minimum age of anything it
// deletes; sessionTTL bounds the upload-session reap prelude.
func New(store *storage.Store, database *sql.DB, uploadMgr *uploads.Manager, horizon, sessionTTL time.Duration) *Collector {
	return &Collector{
		store:      store,
		database:   database,
		uploads:    uploadMgr,
		horizon:    horizon,
		sessionTTL: sessionTTL,
	}
}

// Run performs one mark-and-sweep pass. With dryRun set, nothing is
// deleted and the report counts the blobs and manifest rows that would
// have been; the upload-session prelude is skipped, so ExpiredSessions
// stays zero.
func (c *Collector) Run(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{}
	now := time.Now()

	// Prelude: cancel expired upload sessions so their staging bytes
	// stop occupying disk.
	if c.uploads != nil && !dryRun {
		n, err := c.uploads.ExpireBefore(now.Add(-c.sessionTTL))
		if err != nil {
			return nil, err
		}
		report.ExpiredSessions = n
	}

	reachable, err := c.mark(ctx)
	if err != nil {
		return nil, err
	}
	report.ReachableDigests = len(reachable)

	cutoff := now.Add(-c.horizon)

	err = c.store.Walk(func(info storage.BlobInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if reachable[string(info.Digest)] {
			return nil
		}
		if !info.ModTime.Before(cutoff) {
			// Inside the safety horizon: may be about to be referenced.
			return nil
		}
		report.DeletedBlobs++
		report.FreedBytes += info.Size
		if dryRun {
			logger.Info("Would delete blob", "digest", info.Digest, "size", info.Size)
			return nil
		}
		if err := c.store.Remove(info.Digest); err != nil && !errors.Is(err, storage.ErrBlobUnknown) {
			return err
		}
		logger.Debug("Deleted unreferenced blob", "digest", info.Digest, "size", info.Size)
		return nil
	})
	if err != nil {
		return nil, err
	}

	n, err := c.pruneManifestRows(reachable, cutoff, dryRun)
	if err != nil {
		return nil, err
	}
	report.DeletedManifests = n

	logger.Info("Garbage collection finished",
		"dry_run", dryRun,
		"expired_sessions", report.ExpiredSessions,
		"reachable", report.ReachableDigests,
		"deleted_blobs", report.DeletedBlobs,
		"deleted_manifests", report.DeletedManifests,
		"freed_bytes", report.FreedBytes)
	return report, nil
}

// mark returns every digest reachable from a tag: the tagged manifests,
// everything they reference, and so on through nested indexes.
func (c *Collector) mark(ctx context.Context) (map[string]bool, error) {
	roots, err := queries.TaggedManifestDigests(c.database)
	if err != nil {
		return nil, err
	}

	reachable := make(map[string]bool)
	queue := append([]string{}, roots...)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := queue[0]
		queue = queue[1:]
		if reachable[d] {
			continue
		}
		reachable[d] = true

		refs, err := queries.ManifestRefs(c.database, d)
		if err != nil {
			return nil, err
		}
		queue = append(queue, refs...)
	}
	return reachable, nil
}

// pruneManifestRows removes index rows for manifests that are no longer
// reachable and are older than the horizon, keeping the index and the
// disk in agreement.
func (c *Collector) pruneManifestRows(reachable map[string]bool, cutoff time.Time, dryRun bool) (int, error) {
	all, err := queries.AllManifestDigests(c.database)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, d := range all {
		if reachable[d] {
			continue
		}
		row, err := queries.GetManifest(c.database, d)
		if err != nil {
			if errors.Is(err, queries.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		created, err := db.ParseTime(row.CreatedAt)
		if err == nil && !created.Before(cutoff) {
			continue
		}
		deleted++
		if dryRun {
			logger.Info("Would delete manifest row", "digest", d)
			continue
		}
		if err := queries.DeleteManifest(c.database, d); err != nil && !errors.Is(err, queries.ErrNotFound) {
			return deleted, err
		}
	}
	return deleted, nil
}

// Reachable exposes the mark phase for tests and tooling.
func (c *Collector) Reachable(ctx context.Context) (map[digest.Digest]bool, error) {
	m, err := c.mark(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[digest.Digest]bool, len(m))
	for d := range m {
		out[digest.Digest(d)] = true
	}
	return out, nil
}
