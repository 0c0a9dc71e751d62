package uploads

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/wharf/internal/db/queries"
	"github.com/bnema/wharf/pkg/logger"
)

// ExpireBefore cancels every session whose last activity predates cutoff
// and reaps orphaned staging files (left by crashes) older than cutoff.
// Returns the number of sessions canceled.
func (m *Manager) ExpireBefore(cutoff time.Time) (int, error) {
	rows, err := queries.ExpiredUploadSessions(m.database, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, row := range rows {
		if err := m.Cancel(row.ID); err != nil {
			// No live session: the process restarted since the row was
			// written. Remove the staging file and the row directly.
			if err := os.Remove(row.StagingPath); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove stale staging file", "path", row.StagingPath, "error", err)
			}
			if err := queries.DeleteUploadSession(m.database, row.ID); err != nil {
				logger.Warn("Failed to delete stale upload session row", "id", row.ID, "error", err)
				continue
			}
		}
		expired++
		logger.Info("Upload session expired", "id", row.ID, "repo", row.Repo)
	}

	m.sweepOrphanedStaging(cutoff)
	return expired, nil
}

// sweepOrphanedStaging removes staging files that have neither a live
// session nor a database row and are older than cutoff.
func (m *Manager) sweepOrphanedStaging(cutoff time.Time) {
	entries, err := os.ReadDir(m.store.StagingDir())
	if err != nil {
		logger.Warn("Failed to read staging directory", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := m.Get(e.Name()); err == nil {
			continue
		}
		if _, err := queries.GetUploadSession(m.database, e.Name()); err == nil {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(m.store.StagingDir(), e.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("Failed to remove orphaned staging file", "path", path, "error", err)
		} else {
			logger.Debug("Removed orphaned staging file", "path", path)
		}
	}
}

// StartJanitor runs the expiry sweep at interval until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := m.ExpireBefore(time.Now().Add(-m.ttl)); err != nil {
				logger.Error("Upload session expiry sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("Expired upload sessions", "count", n)
			}
		}
	}
}
