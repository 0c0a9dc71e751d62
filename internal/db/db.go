// Package db owns the SQLite metadata index: repositories, tags,
// manifests, manifest references, and upload sessions.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/bnema/wharf/internal/db/migrate"
	"github.com/bnema/wharf/pkg/logger"
)

const DBFilename = "index.db"

// Open opens (creating and bootstrapping if needed) the index database
// under dataDir.
func Open(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFilename)

	logger.Debug("Opening index database", "path", dbPath)
	sqldb, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// A single writer at a time; WAL keeps readers unblocked.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := sqldb.Exec(pragma); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to ping index database: %w", err)
	}

	if err := migrate.Bootstrap(sqldb); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to bootstrap index database: %w", err)
	}

	return sqldb, nil
}
