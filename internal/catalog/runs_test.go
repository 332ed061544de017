package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/models"
)

func TestRunLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	run, err := db.BeginRun(ctx, models.TriggerManual)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if run.Status != models.SyncRunning || run.ID == "" {
		t.Fatalf("unexpected run: %+v", run)
	}

	if _, err := db.BeginRun(ctx, models.TriggerSchedule); !errors.Is(err, apperr.ErrSyncInProgress) {
		t.Fatalf("second BeginRun err = %v, want ErrSyncInProgress", err)
	}

	run.Status = models.SyncCompleted
	run.Stats = models.SyncStats{Added: 2, Updated: 1, Unchanged: 3, Removed: 1, Errors: 1}
	run.SourceDigest = "abc"
	if err := db.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := db.FinishRun(ctx, run); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second FinishRun err = %v, want ErrConflict", err)
	}

	got, err := db.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != models.SyncCompleted || got.Stats != run.Stats || got.FinishedAt == nil || got.SourceDigest != "abc" {
		t.Errorf("persisted run = %+v", got)
	}

	if _, err := db.BeginRun(ctx, models.TriggerSchedule); err != nil {
		t.Fatalf("BeginRun after completion: %v", err)
	}
	runs, err := db.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Trigger != models.TriggerSchedule {
		t.Errorf("runs = %+v", runs)
	}
}

func TestFinishRun_RejectsRunningStatus(t *testing.T) {
	db := testDB(t)
	run, _ := db.BeginRun(context.Background(), models.TriggerCLI)
	if err := db.FinishRun(context.Background(), run); err == nil {
		t.Fatal("finishing with running status should fail")
	}
}

func TestFailStaleRuns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return now })
	run, _ := db.BeginRun(ctx, models.TriggerCLI)

	now = now.Add(time.Hour)
	n, err := db.FailStaleRuns(ctx, 10*time.Minute, "interrupted")
	if err != nil || n != 1 {
		t.Fatalf("FailStaleRuns = %d, %v", n, err)
	}
	got, _ := db.GetRun(ctx, run.ID)
	if got.Status != models.SyncFailed || got.Error != "interrupted" {
		t.Errorf("stale run = %+v", got)
	}
}

func TestFailStaleRuns_KeepsFreshRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return now })
	run, err := db.BeginRun(ctx, models.TriggerCLI)
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(30 * time.Second)
	n, err := db.FailStaleRuns(ctx, 10*time.Minute, "interrupted")
	if err != nil || n != 0 {
		t.Fatalf("FailStaleRuns = %d, %v, want 0", n, err)
	}
	if _, err := db.BeginRun(ctx, models.TriggerSchedule); !errors.Is(err, apperr.ErrSyncInProgress) {
		t.Fatalf("fresh run must keep blocking, BeginRun err = %v", err)
	}

	run.Status = models.SyncCompleted
	if err := db.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun of the live run: %v", err)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetRun(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
