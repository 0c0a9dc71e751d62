package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/wharf/pkg/logger"
)

const (
	maxRetries     = 10
	baseRetryDelay = 200 * time.Millisecond
)

func isLocked(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLITE_BUSY")
}

// BeginWithRetry starts a transaction with retry logic for a locked database.
func BeginWithRetry(db *sql.DB) (*sql.Tx, error) {
	var tx *sql.Tx
	var err error
	retryDelay := baseRetryDelay

	for attempt := 1; attempt <= maxRetries; attempt++ {
		tx, err = db.Begin()
		if err == nil {
			return tx, nil
		}
		if !isLocked(err) {
			return nil, err
		}
		logger.Debug("Database locked, retrying transaction start",
			"attempt", attempt, "max_retries", maxRetries)
		time.Sleep(retryDelay)
		retryDelay *= 2
	}
	return nil, fmt.Errorf("max retries exceeded: %w", err)
}

// Now formats the current time the way every table stores timestamps.
// RFC3339 in UTC is fixed-width, so string comparison orders correctly.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ParseTime parses a timestamp stored by Now.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
