//go:build sqlite_fts5

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS apps_fts USING fts5(
			app_id UNINDEXED,
			name,
			description,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id int64, name, description string, tags []string) error {
	_, _ = tx.Exec(`DELETE FROM apps_fts WHERE app_id = ?`, id)
	_, err := tx.Exec(`INSERT INTO apps_fts (app_id, name, description, tags) VALUES (?, ?, ?, ?)`,
		id, name, description, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("catalog: upsert fts: %w", err)
	}
	return nil
}

// Search performs an FTS5 full-text search and returns matching apps with snippets.
// Unsupported apps are excluded.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT b.bundle_id,
		       a.name,
		       snippet(apps_fts, 2, '<b>', '</b>', '...', 64)
		FROM apps_fts
		JOIN apps a ON a.id = apps_fts.app_id
		JOIN app_bundle_ids b ON b.app_id = a.id AND b.position = 0
		WHERE apps_fts MATCH ? AND a.unsupported = 0
		ORDER BY rank
		LIMIT ?
	`, query, limit)
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
