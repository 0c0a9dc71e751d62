package queries

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/bnema/wharf/internal/db"
)

// SetTag points (repo, tag) at a manifest digest, overwriting any
// previous target. The manifest row must already exist; callers run this
// inside the same transaction that verified it.
func SetTag(q Querier, repo, tag, manifestDigest string) error {
	var count int
	err := q.QueryRow("SELECT count(*) FROM manifests WHERE digest = ?", manifestDigest).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check manifest for tag: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("manifest %s: %w", manifestDigest, ErrNotFound)
	}
	_, err = q.Exec(
		"INSERT OR REPLACE INTO tags (repo, name, manifest_digest, updated_at) VALUES (?, ?, ?, ?)",
		repo, tag, manifestDigest, db.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to set tag: %w", err)
	}
	return nil
}

// GetTag resolves (repo, tag) to its manifest digest.
func GetTag(q Querier, repo, tag string) (string, error) {
	var d string
	err := q.QueryRow("SELECT manifest_digest FROM tags WHERE repo = ? AND name = ?", repo, tag).Scan(&d)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get tag: %w", err)
	}
	return d, nil
}

// ListTags returns tag names for repo in keyset-pagination order.
// last is exclusive; n <= 0 means no limit.
func ListTags(q Querier, repo string, n int, last string) ([]string, error) {
	query := "SELECT name FROM tags WHERE repo = ? AND name > ? ORDER BY name"
	args := []interface{}{repo, last}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// DeleteTagsForManifest removes every tag in repo that points at digest.
// Returns the number of tags removed.
func DeleteTagsForManifest(q Querier, repo, manifestDigest string) (int64, error) {
	res, err := q.Exec("DELETE FROM tags WHERE repo = ? AND manifest_digest = ?", repo, manifestDigest)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tags for manifest: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TaggedManifestDigests returns the distinct manifest digests referenced
// by any tag. These are the garbage collector's roots.
func TaggedManifestDigests(q Querier) ([]string, error) {
	rows, err := q.Query("SELECT DISTINCT manifest_digest FROM tags")
	if err != nil {
		return nil, fmt.Errorf("failed to list tagged manifests: %w", err)
	}
	defer rows.Close()

	digests := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan tagged manifest: %w", err)
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}
