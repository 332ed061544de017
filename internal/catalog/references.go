package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/models"
)

// UpsertCategory inserts or replaces a category.
func (db *DB) UpsertCategory(ctx context.Context, c models.Category) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO categories (id, name, parent_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, parent_id = excluded.parent_id
	`, c.ID, c.Name, nullString(c.ParentID))
	if err != nil {
		return fmt.Errorf("catalog: upsert category: %w", err)
	}
	return nil
}

// CategoryByID returns the category or apperr.ErrNotFound.
func (db *DB) CategoryByID(ctx context.Context, id string) (*models.Category, error) {
	var c models.Category
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(parent_id, '') FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: category %q: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: category %q: %w", id, err)
	}
	return &c, nil
}

// UpsertDeveloper inserts or replaces a developer.
func (db *DB) UpsertDeveloper(ctx context.Context, d models.Developer) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO developers (id, name, verified, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, verified = excluded.verified
	`, d.ID, d.Name, d.Verified, db.now())
	if err != nil {
		return fmt.Errorf("catalog: upsert developer: %w", err)
	}
	return nil
}

// DeveloperByID returns the developer or apperr.ErrNotFound.
func (db *DB) DeveloperByID(ctx context.Context, id string) (*models.Developer, error) {
	return db.queryDeveloper(ctx, `SELECT id, name, verified FROM developers WHERE id = ?`, id)
}

// FirstVerifiedDeveloper returns the earliest registered verified developer.
func (db *DB) FirstVerifiedDeveloper(ctx context.Context) (*models.Developer, error) {
	return db.queryDeveloper(ctx,
		`SELECT id, name, verified FROM developers WHERE verified = 1 ORDER BY created_at, id LIMIT 1`)
}

// VerifiedDeveloperByName matches a verified developer by name, ignoring case.
func (db *DB) VerifiedDeveloperByName(ctx context.Context, name string) (*models.Developer, error) {
	return db.queryDeveloper(ctx,
		`SELECT id, name, verified FROM developers WHERE verified = 1 AND name = ? COLLATE NOCASE ORDER BY created_at, id LIMIT 1`,
		name)
}

func (db *DB) queryDeveloper(ctx context.Context, query string, args ...any) (*models.Developer, error) {
	var d models.Developer
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&d.ID, &d.Name, &d.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: developer: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: developer: %w", err)
	}
	return &d, nil
}
