package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/models"
)

// BeginRun records a new run in the running state. If another run is still
// running, the single-running index rejects the insert and
// apperr.ErrSyncInProgress is returned.
func (db *DB) BeginRun(ctx context.Context, trigger models.Trigger) (*models.SyncRun, error) {
	run := &models.SyncRun{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Trigger:   trigger,
		Status:    models.SyncRunning,
		StartedAt: db.now(),
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_runs (id, trigger_type, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Trigger), string(run.Status), run.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.ErrSyncInProgress
		}
		return nil, fmt.Errorf("%w: catalog: begin run: %v", apperr.ErrStoreUnavailable, err)
	}
	return run, nil
}

// FinishRun persists the terminal state of run. Only a running row is
// updated, so a run is finalised at most once.
func (db *DB) FinishRun(ctx context.Context, run *models.SyncRun) error {
	if run.Status == models.SyncRunning {
		return fmt.Errorf("catalog: finish run %s: status must be terminal", run.ID)
	}
	if run.FinishedAt == nil {
		t := db.now()
		run.FinishedAt = &t
	}
	s := run.Stats
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = ?, finished_at = ?, added = ?, updated = ?, unchanged = ?, removed = ?,
		    errors = ?, error = ?, source_digest = ?
		WHERE id = ? AND status = 'running'
	`, string(run.Status), *run.FinishedAt, s.Added, s.Updated, s.Unchanged, s.Removed,
		s.Errors, run.Error, run.SourceDigest, run.ID)
	if err != nil {
		return fmt.Errorf("catalog: finish run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog: finish run %s: %w", run.ID, apperr.ErrConflict)
	}
	return nil
}

// FailStaleRuns marks runs that have been running for longer than olderThan
// as failed. A run cannot legally outlive the engine timeout, so such a row
// was left behind by a process that died. Younger running rows may belong to
// a live process in another binary and are kept.
func (db *DB) FailStaleRuns(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	now := db.now()
	cutoff := now.Add(-olderThan)

	rows, err := db.conn.QueryContext(ctx, `SELECT id, started_at FROM sync_runs WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("catalog: fail stale runs: %w", err)
	}
	var stale []string
	for rows.Next() {
		var (
			id      string
			started time.Time
		)
		if err := rows.Scan(&id, &started); err != nil {
			rows.Close()
			return 0, fmt.Errorf("catalog: fail stale runs: %w", err)
		}
		if started.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("catalog: fail stale runs: %w", err)
	}

	var n int64
	for _, id := range stale {
		res, err := db.conn.ExecContext(ctx,
			`UPDATE sync_runs SET status = 'failed', finished_at = ?, error = ? WHERE id = ? AND status = 'running'`,
			now, reason, id)
		if err != nil {
			return n, fmt.Errorf("catalog: fail stale run %s: %w", id, err)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, nil
}

const runColumns = `id, trigger_type, status, started_at, finished_at, added, updated, unchanged,
	removed, errors, error, source_digest`

// GetRun returns a run by ID or apperr.ErrNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (*models.SyncRun, error) {
	run, err := scanRun(db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: list runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanRun(s scanner) (*models.SyncRun, error) {
	var (
		run             models.SyncRun
		trigger, status string
		finished        sql.NullTime
	)
	if err := s.Scan(&run.ID, &trigger, &status, &run.StartedAt, &finished,
		&run.Stats.Added, &run.Stats.Updated, &run.Stats.Unchanged, &run.Stats.Removed,
		&run.Stats.Errors, &run.Error, &run.SourceDigest); err != nil {
		return nil, err
	}
	run.Trigger = models.Trigger(trigger)
	run.Status = models.SyncStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
