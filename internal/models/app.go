// Package models defines the domain types for the app catalog.
package models

import "time"

// SourceRecord is one app as reported by an external catalog source.
// Empty strings and nil pointers/slices mean the source did not provide
// the field; updates never overwrite stored values with absent fields.
type SourceRecord struct {
	BundleID    string     `json:"bundle_id" yaml:"bundle_id"`
	Name        string     `json:"name,omitempty" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Version     string     `json:"version" yaml:"version"`
	CategoryID  string     `json:"category,omitempty" yaml:"category"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags"`
	Screenshots []string   `json:"screenshots,omitempty" yaml:"screenshots"`
	Price       *float64   `json:"price,omitempty" yaml:"price"`
	Vendor      string     `json:"vendor,omitempty" yaml:"vendor"`
	FileSize    *int64     `json:"file_size,omitempty" yaml:"file_size"`
	ReleasedAt  *time.Time `json:"released_at,omitempty" yaml:"released_at"`
	ScannedAt   *time.Time `json:"scanned_at,omitempty" yaml:"scanned_at"`
}

// CatalogEntry is the comparison projection of a stored app.
// BundleIDs[0] is the primary identifier.
type CatalogEntry struct {
	ID          int64     `json:"id"`
	BundleIDs   []string  `json:"bundle_ids"`
	Version     string    `json:"version"`
	CategoryID  string    `json:"category_id,omitempty"`
	DeveloperID string    `json:"developer_id,omitempty"`
	Unsupported bool      `json:"unsupported"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PrimaryBundleID returns the first bundle identifier, or "" if none.
func (e CatalogEntry) PrimaryBundleID() string {
	if len(e.BundleIDs) == 0 {
		return ""
	}
	return e.BundleIDs[0]
}

// App is the full stored representation of a catalog app.
type App struct {
	ID          int64      `json:"id"`
	BundleIDs   []string   `json:"bundle_ids"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	CategoryID  string     `json:"category_id,omitempty"`
	DeveloperID string     `json:"developer_id,omitempty"`
	Tags        []string   `json:"tags"`
	Screenshots []string   `json:"screenshots"`
	Price       float64    `json:"price"`
	Vendor      string     `json:"vendor,omitempty"`
	FileSize    int64      `json:"file_size"`
	Unsupported bool       `json:"unsupported"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	ScannedAt   *time.Time `json:"scanned_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Category groups apps in the catalog.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// Developer owns apps in the catalog.
type Developer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// Classification is the reconciliation verdict for one record.
type Classification string

const (
	Added     Classification = "added"
	Updated   Classification = "updated"
	Unchanged Classification = "unchanged"
	Removed   Classification = "removed"
)

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// Trigger names what started a sync run.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
	TriggerWatch    Trigger = "watch"
	TriggerCLI      Trigger = "cli"
)

// SyncStats holds the per-classification counters of a run.
type SyncStats struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
	Errors    int `json:"errors"`
}

// Total returns the number of records that received a classification.
func (s SyncStats) Total() int {
	return s.Added + s.Updated + s.Unchanged + s.Removed
}

// SyncRun records one execution of the fetch, reconcile, apply pipeline.
type SyncRun struct {
	ID           string     `json:"id"`
	Trigger      Trigger    `json:"trigger"`
	Status       SyncStatus `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Stats        SyncStats  `json:"stats"`
	Error        string     `json:"error,omitempty"`
	SourceDigest string     `json:"source_digest,omitempty"`
}
