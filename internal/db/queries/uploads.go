package queries

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/wharf/internal/db"
)

// UploadSessionRow mirrors one row of upload_sessions.
type UploadSessionRow struct {
	ID             string
	Repo           string
	Length         int64
	CreatedAt      string
	LastActivityAt string
	StagingPath    string
}

// CreateUploadSession inserts a new session row.
func CreateUploadSession(q Querier, id, repo, stagingPath string) error {
	now := db.Now()
	_, err := q.Exec(
		"INSERT INTO upload_sessions (id, repo, length, created_at, last_activity_at, staging_path) VALUES (?, ?, 0, ?, ?, ?)",
		id, repo, now, now, stagingPath,
	)
	if err != nil {
		return fmt.Errorf("failed to create upload session: %w", err)
	}
	return nil
}

// GetUploadSession returns the session row for id.
func GetUploadSession(q Querier, id string) (*UploadSessionRow, error) {
	row := &UploadSessionRow{}
	err := q.QueryRow(
		"SELECT id, repo, length, created_at, last_activity_at, staging_path FROM upload_sessions WHERE id = ?", id,
	).Scan(&row.ID, &row.Repo, &row.Length, &row.CreatedAt, &row.LastActivityAt, &row.StagingPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	return row, nil
}

// UpdateUploadSessionLength records the new total length and bumps the
// activity timestamp.
func UpdateUploadSessionLength(q Querier, id string, length int64) error {
	_, err := q.Exec(
		"UPDATE upload_sessions SET length = ?, last_activity_at = ? WHERE id = ?",
		length, db.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update upload session: %w", err)
	}
	return nil
}

// TouchUploadSession bumps the activity timestamp.
func TouchUploadSession(q Querier, id string) error {
	_, err := q.Exec("UPDATE upload_sessions SET last_activity_at = ? WHERE id = ?", db.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch upload session: %w", err)
	}
	return nil
}

// DeleteUploadSession removes the session row.
func DeleteUploadSession(q Querier, id string) error {
	res, err := q.Exec("DELETE FROM upload_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete upload session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpiredUploadSessions returns sessions with no activity since before.
func ExpiredUploadSessions(q Querier, before time.Time) ([]UploadSessionRow, error) {
	rows, err := q.Query(
		"SELECT id, repo, length, created_at, last_activity_at, staging_path FROM upload_sessions WHERE last_activity_at < ?",
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired upload sessions: %w", err)
	}
	defer rows.Close()

	sessions := []UploadSessionRow{}
	for rows.Next() {
		var row UploadSessionRow
		if err := rows.Scan(&row.ID, &row.Repo, &row.Length, &row.CreatedAt, &row.LastActivityAt, &row.StagingPath); err != nil {
			return nil, fmt.Errorf("failed to scan upload session: %w", err)
		}
		sessions = append(sessions, row)
	}
	return sessions, rows.Err()
}

// CountUploadSessions returns the number of in-flight sessions.
func CountUploadSessions(q Querier) (int, error) {
	var count int
	if err := q.QueryRow("SELECT count(*) FROM upload_sessions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count upload sessions: %w", err)
	}
	return count, nil
}
