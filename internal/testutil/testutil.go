// Package testutil provides shared test helpers for catalog databases.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/starford/appcatalog/internal/catalog"
	"github.com/starford/appcatalog/internal/models"
)

// TestDB creates a temporary SQLite catalog that is automatically cleaned up.
func TestDB(t *testing.T) *catalog.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "appcatalog-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := catalog.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeededDB returns a TestDB holding the "productivity" category and the
// verified developer "dev-1" (Acme).
func SeededDB(t *testing.T) *catalog.DB {
	t.Helper()
	db := TestDB(t)
	ctx := context.Background()
	if err := db.UpsertCategory(ctx, models.Category{ID: "productivity", Name: "Productivity"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertDeveloper(ctx, models.Developer{ID: "dev-1", Name: "Acme", Verified: true}); err != nil {
		t.Fatal(err)
	}
	return db
}

// CreateApp stores a minimal app in the seeded category and returns its ID.
func CreateApp(t *testing.T, db *catalog.DB, bundleID, name, version string) int64 {
	t.Helper()
	id, err := db.CreateApp(context.Background(), catalog.NewApp{
		Record:      models.SourceRecord{BundleID: bundleID, Name: name, Version: version},
		CategoryID:  "productivity",
		DeveloperID: "dev-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}
