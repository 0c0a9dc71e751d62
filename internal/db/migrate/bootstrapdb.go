// Package migrate creates the index schema.
package migrate

import (
	"database/sql"
	"fmt"
)

// Bootstrap creates all tables if they do not exist yet.
func Bootstrap(db *sql.DB) error {
	for name, stmt := range map[string]string{
		"repositories":    createRepositoriesTable,
		"tags":            createTagsTable,
		"manifests":       createManifestsTable,
		"manifest_refs":   createManifestRefsTable,
		"upload_sessions": createUploadSessionsTable,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create %s table: %w", name, err)
		}
	}
	return nil
}

const createRepositoriesTable = `
CREATE TABLE IF NOT EXISTS repositories (
    name TEXT PRIMARY KEY,
    created_at TEXT NOT NULL
);`

const createTagsTable = `
CREATE TABLE IF NOT EXISTS tags (
    repo TEXT NOT NULL,
    name TEXT NOT NULL,
    manifest_digest TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (repo, name)
);`

// repo tracks the first repository that stored the manifest, for listing.
const createManifestsTable = `
CREATE TABLE IF NOT EXISTS manifests (
    digest TEXT PRIMARY KEY,
    media_type TEXT NOT NULL,
    repo TEXT NOT NULL,
    created_at TEXT NOT NULL
);`

const createManifestRefsTable = `
CREATE TABLE IF NOT EXISTS manifest_refs (
    manifest_digest TEXT NOT NULL,
    referenced_digest TEXT NOT NULL,
    PRIMARY KEY (manifest_digest, referenced_digest)
);`

const createUploadSessionsTable = `
CREATE TABLE IF NOT EXISTS upload_sessions (
    id TEXT PRIMARY KEY,
    repo TEXT NOT NULL,
    length INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    last_activity_at TEXT NOT NULL,
    staging_path TEXT NOT NULL
);`
