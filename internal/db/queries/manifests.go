package queries

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/bnema/wharf/internal/db"
)

// ManifestRow is the auxiliary index row for a manifest blob.
type ManifestRow struct {
	Digest    string
	MediaType string
	Repo      string
	CreatedAt string
}

// UpsertManifest records digest as a manifest. The repo column keeps the
// first repository that stored it, so INSERT OR IGNORE.
func UpsertManifest(q Querier, dgst, mediaType, repo string) error {
	_, err := q.Exec(
		"INSERT OR IGNORE INTO manifests (digest, media_type, repo, created_at) VALUES (?, ?, ?, ?)",
		dgst, mediaType, repo, db.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert manifest: %w", err)
	}
	return nil
}

// GetManifest returns the index row for digest.
func GetManifest(q Querier, dgst string) (*ManifestRow, error) {
	row := &ManifestRow{}
	err := q.QueryRow(
		"SELECT digest, media_type, repo, created_at FROM manifests WHERE digest = ?", dgst,
	).Scan(&row.Digest, &row.MediaType, &row.Repo, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get manifest: %w", err)
	}
	return row, nil
}

// ManifestExists reports whether digest is recorded as a manifest.
func ManifestExists(q Querier, dgst string) (bool, error) {
	var count int
	if err := q.QueryRow("SELECT count(*) FROM manifests WHERE digest = ?", dgst).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check manifest: %w", err)
	}
	return count > 0, nil
}

// DeleteManifest removes the manifest row and its outgoing references.
func DeleteManifest(q Querier, dgst string) error {
	if _, err := q.Exec("DELETE FROM manifest_refs WHERE manifest_digest = ?", dgst); err != nil {
		return fmt.Errorf("failed to delete manifest refs: %w", err)
	}
	res, err := q.Exec("DELETE FROM manifests WHERE digest = ?", dgst)
	if err != nil {
		return fmt.Errorf("failed to delete manifest: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetManifestRefs records the blob digests referenced by a manifest.
func SetManifestRefs(q Querier, dgst string, refs []string) error {
	for _, ref := range refs {
		_, err := q.Exec(
			"INSERT OR IGNORE INTO manifest_refs (manifest_digest, referenced_digest) VALUES (?, ?)",
			dgst, ref,
		)
		if err != nil {
			return fmt.Errorf("failed to insert manifest ref: %w", err)
		}
	}
	return nil
}

// ManifestRefs returns the digests referenced by a manifest.
func ManifestRefs(q Querier, dgst string) ([]string, error) {
	rows, err := q.Query(
		"SELECT referenced_digest FROM manifest_refs WHERE manifest_digest = ? ORDER BY referenced_digest", dgst,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifest refs: %w", err)
	}
	defer rows.Close()

	refs := []string{}
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan manifest ref: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// AllManifestDigests returns every recorded manifest digest.
func AllManifestDigests(q Querier) ([]string, error) {
	rows, err := q.Query("SELECT digest FROM manifests")
	if err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}
	defer rows.Close()

	digests := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan manifest digest: %w", err)
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}
