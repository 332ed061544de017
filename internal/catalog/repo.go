package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/models"
)

// NewApp holds everything needed to insert an app on first sync.
type NewApp struct {
	Record      models.SourceRecord
	CategoryID  string
	DeveloperID string // empty stores NULL
}

// ListOptions filters and paginates ListApps.
type ListOptions struct {
	Limit              int
	Offset             int
	CategoryID         string
	IncludeUnsupported bool
}

// SearchResult represents one search hit.
type SearchResult struct {
	BundleID string `json:"bundle_id"`
	Name     string `json:"name"`
	Snippet  string `json:"snippet"`
}

// LoadExisting returns the comparison projection of every stored app,
// ordered by app ID with bundle IDs in position order (primary first).
func (db *DB) LoadExisting(ctx context.Context) ([]models.CatalogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT a.id, a.version, COALESCE(a.category_id, ''), COALESCE(a.developer_id, ''),
		       a.unsupported, a.updated_at, COALESCE(b.bundle_id, '')
		FROM apps a
		LEFT JOIN app_bundle_ids b ON b.app_id = a.id
		ORDER BY a.id, b.position
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: catalog: load existing: %v", apperr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []models.CatalogEntry
	for rows.Next() {
		var (
			e        models.CatalogEntry
			bundleID string
		)
		if err := rows.Scan(&e.ID, &e.Version, &e.CategoryID, &e.DeveloperID, &e.Unsupported, &e.UpdatedAt, &bundleID); err != nil {
			return nil, fmt.Errorf("%w: catalog: scan entry: %v", apperr.ErrStoreUnavailable, err)
		}
		if n := len(out); n > 0 && out[n-1].ID == e.ID {
			if bundleID != "" {
				out[n-1].BundleIDs = append(out[n-1].BundleIDs, bundleID)
			}
			continue
		}
		if bundleID != "" {
			e.BundleIDs = []string{bundleID}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: catalog: load existing: %v", apperr.ErrStoreUnavailable, err)
	}
	return out, nil
}

// CreateApp inserts an app and its primary bundle ID within a transaction.
// A bundle ID already claimed by another app yields apperr.ErrAlreadyExists.
func (db *DB) CreateApp(ctx context.Context, a NewApp) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	r := a.Record
	now := db.now()
	tags, _ := json.Marshal(nonNil(r.Tags))
	shots, _ := json.Marshal(nonNil(r.Screenshots))

	var price float64
	if r.Price != nil {
		price = *r.Price
	}
	var size int64
	if r.FileSize != nil {
		size = *r.FileSize
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO apps (name, description, version, category_id, developer_id, tags, screenshots,
		                  price, vendor, file_size, released_at, scanned_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Name, r.Description, r.Version, nullString(a.CategoryID), nullString(a.DeveloperID),
		string(tags), string(shots), price, r.Vendor, size,
		nullTime(r.ReleasedAt), nullTime(r.ScannedAt), now, now)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert app %s: %w", r.BundleID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("catalog: insert app %s: %w", r.BundleID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO app_bundle_ids (bundle_id, app_id, position) VALUES (?, ?, 0)`,
		r.BundleID, id); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("catalog: bundle id %s: %w", r.BundleID, apperr.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("catalog: insert bundle id %s: %w", r.BundleID, err)
	}

	if err := ftsUpsert(tx, id, r.Name, r.Description, r.Tags); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("catalog: commit: %w", err)
	}
	return id, nil
}

// AddBundleID attaches an additional bundle identifier to an existing app.
func (db *DB) AddBundleID(ctx context.Context, appID int64, bundleID string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO app_bundle_ids (bundle_id, app_id, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM app_bundle_ids WHERE app_id = ?))
	`, bundleID, appID, appID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("catalog: bundle id %s: %w", bundleID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("catalog: add bundle id: %w", err)
	}
	return nil
}

// UpdateFromSource applies the fields present on rec to app id. Absent
// fields keep their stored values. updated_at is always bumped; restore
// clears the unsupported flag.
func (db *DB) UpdateFromSource(ctx context.Context, id int64, rec models.SourceRecord, restore bool) error {
	sets := []string{"version = ?", "updated_at = ?"}
	args := []any{rec.Version, db.now()}

	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if rec.Name != "" {
		add("name", rec.Name)
	}
	if rec.Description != "" {
		add("description", rec.Description)
	}
	if rec.CategoryID != "" {
		add("category_id", rec.CategoryID)
	}
	if rec.Tags != nil {
		b, _ := json.Marshal(rec.Tags)
		add("tags", string(b))
	}
	if rec.Screenshots != nil {
		b, _ := json.Marshal(rec.Screenshots)
		add("screenshots", string(b))
	}
	if rec.Price != nil {
		add("price", *rec.Price)
	}
	if rec.Vendor != "" {
		add("vendor", rec.Vendor)
	}
	if rec.FileSize != nil {
		add("file_size", *rec.FileSize)
	}
	if rec.ReleasedAt != nil {
		add("released_at", rec.ReleasedAt.UTC())
	}
	if rec.ScannedAt != nil {
		add("scanned_at", rec.ScannedAt.UTC())
	}
	if restore {
		add("unsupported", false)
	}
	args = append(args, id)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE apps SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("catalog: update app %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog: update app %d: %w", id, apperr.ErrNotFound)
	}

	var (
		name, desc string
		tagsJSON   string
	)
	if err := tx.QueryRowContext(ctx, `SELECT name, description, tags FROM apps WHERE id = ?`, id).
		Scan(&name, &desc, &tagsJSON); err != nil {
		return fmt.Errorf("catalog: reload app %d: %w", id, err)
	}
	if err := ftsUpsert(tx, id, name, desc, decodeStrings(tagsJSON)); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkUnsupported flags an app as no longer offered by the source. The row
// is kept so ratings, downloads and favorites still resolve.
func (db *DB) MarkUnsupported(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE apps SET unsupported = 1, updated_at = ? WHERE id = ?`, db.now(), id)
	if err != nil {
		return fmt.Errorf("catalog: mark unsupported %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog: mark unsupported %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

const appColumns = `a.id, a.name, a.description, a.version, COALESCE(a.category_id, ''),
	COALESCE(a.developer_id, ''), a.tags, a.screenshots, a.price, a.vendor, a.file_size,
	a.unsupported, a.released_at, a.scanned_at, a.created_at, a.updated_at`

// GetApp returns the app claiming bundleID (primary or secondary).
func (db *DB) GetApp(ctx context.Context, bundleID string) (*models.App, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+appColumns+`
		FROM apps a
		JOIN app_bundle_ids b ON b.app_id = a.id
		WHERE b.bundle_id = ?
	`, bundleID)
	app, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get app: %w", err)
	}
	ids, err := db.bundleIDs(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	app.BundleIDs = ids
	return app, nil
}

// ListApps returns a page of apps ordered by name plus the total match count.
func (db *DB) ListApps(ctx context.Context, opts ListOptions) ([]models.App, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var (
		where []string
		args  []any
	)
	if !opts.IncludeUnsupported {
		where = append(where, "a.unsupported = 0")
	}
	if opts.CategoryID != "" {
		where = append(where, "a.category_id = ?")
		args = append(args, opts.CategoryID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM apps a`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count apps: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT `+appColumns+` FROM apps a`+clause+
		` ORDER BY a.name COLLATE NOCASE, a.id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list apps: %w", err)
	}
	defer rows.Close()

	var out []models.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("catalog: scan app: %w", err)
		}
		out = append(out, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range out {
		ids, err := db.bundleIDs(ctx, out[i].ID)
		if err != nil {
			return nil, 0, err
		}
		out[i].BundleIDs = ids
	}
	return out, total, nil
}

func (db *DB) bundleIDs(ctx context.Context, appID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT bundle_id FROM app_bundle_ids WHERE app_id = ? ORDER BY position`, appID)
	if err != nil {
		return nil, fmt.Errorf("catalog: bundle ids: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApp(s scanner) (*models.App, error) {
	var (
		a                 models.App
		tags, shots       string
		released, scanned sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.Name, &a.Description, &a.Version, &a.CategoryID, &a.DeveloperID,
		&tags, &shots, &a.Price, &a.Vendor, &a.FileSize, &a.Unsupported,
		&released, &scanned, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Tags = decodeStrings(tags)
	a.Screenshots = decodeStrings(shots)
	if released.Valid {
		t := released.Time
		a.ReleasedAt = &t
	}
	if scanned.Valid {
		t := scanned.Time
		a.ScannedAt = &t
	}
	return &a, nil
}

func decodeStrings(raw string) []string {
	out := []string{}
	_ = json.Unmarshal([]byte(raw), &out)
	if out == nil {
		out = []string{}
	}
	return out
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
