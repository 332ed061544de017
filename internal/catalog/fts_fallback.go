//go:build !sqlite_fts5

package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE over apps.name/description/tags.
	return nil
}

func ftsUpsert(_ *sql.Tx, _ int64, _, _ string, _ []string) error {
	return nil
}

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
// Unsupported apps are excluded.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT b.bundle_id, a.name, substr(a.description, 1, 200)
		FROM apps a
		JOIN app_bundle_ids b ON b.app_id = a.id AND b.position = 0
		WHERE a.unsupported = 0 AND (a.name LIKE ? OR a.description LIKE ? OR a.tags LIKE ?)
		ORDER BY a.name COLLATE NOCASE
		LIMIT ?
	`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.BundleID, &r.Name, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
