package queries

import (
	"fmt"

	"github.com/bnema/wharf/internal/db"
)

// EnsureRepository creates the repository row if it does not exist.
// Repositories come into being on first successful write.
func EnsureRepository(q Querier, name string) error {
	_, err := q.Exec(
		"INSERT OR IGNORE INTO repositories (name, created_at) VALUES (?, ?)",
		name, db.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure repository: %w", err)
	}
	return nil
}

// RepositoryExists reports whether a repository row exists.
func RepositoryExists(q Querier, name string) (bool, error) {
	var count int
	err := q.QueryRow("SELECT count(*) FROM repositories WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check repository: %w", err)
	}
	return count > 0, nil
}

// ListRepositories returns repository names in keyset-pagination order.
// last is exclusive; n <= 0 means no limit.
func ListRepositories(q Querier, n int, last string) ([]string, error) {
	query := "SELECT name FROM repositories WHERE name > ? ORDER BY name"
	args := []interface{}{last}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteRepository removes the repository row and all its tags. Manifest
// rows and blobs are left for the garbage collector.
func DeleteRepository(q Querier, name string) error {
	if _, err := q.Exec("DELETE FROM tags WHERE repo = ?", name); err != nil {
		return fmt.Errorf("failed to delete repository tags: %w", err)
	}
	res, err := q.Exec("DELETE FROM repositories WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
