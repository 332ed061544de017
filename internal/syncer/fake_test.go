package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/catalog"
	"github.com/starford/appcatalog/internal/models"
	"github.com/starford/appcatalog/internal/source"
)

// fakeStore is an in-memory catalog covering every interface the syncer
// consumes.
type fakeStore struct {
	mu sync.Mutex

	entries    []models.CatalogEntry
	categories map[string]models.Category
	developers []models.Developer
	loadErr    error
	failCreate map[string]error

	created  []catalog.NewApp
	updated  map[int64]bool // id -> restore
	flagged  []int64
	runs     map[string]*models.SyncRun
	finished []models.SyncRun
	running  bool
	nextID   int64
	lookups  int
	onCreate func()
	// blockWrites makes MarkUnsupported wait for its context.
	blockWrites bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		categories: map[string]models.Category{"productivity": {ID: "productivity", Name: "Productivity"}},
		developers: []models.Developer{{ID: "dev-1", Name: "Acme", Verified: true}},
		failCreate: map[string]error{},
		updated:    map[int64]bool{},
		runs:       map[string]*models.SyncRun{},
		nextID:     100,
	}
}

func (f *fakeStore) LoadExisting(ctx context.Context) ([]models.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make([]models.CatalogEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeStore) CreateApp(_ context.Context, a catalog.NewApp) (int64, error) {
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCreate[a.Record.BundleID]; err != nil {
		return 0, err
	}
	f.nextID++
	f.created = append(f.created, a)
	return f.nextID, nil
}

func (f *fakeStore) UpdateFromSource(_ context.Context, id int64, _ models.SourceRecord, restore bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[id] = restore
	return nil
}

func (f *fakeStore) MarkUnsupported(ctx context.Context, id int64) error {
	if f.blockWrites {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged = append(f.flagged, id)
	return nil
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created) + len(f.updated) + len(f.flagged)
}

func (f *fakeStore) CategoryByID(_ context.Context, id string) (*models.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	c, ok := f.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %s: %w", id, apperr.ErrNotFound)
	}
	return &c, nil
}

func (f *fakeStore) DeveloperByID(_ context.Context, id string) (*models.Developer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	for _, d := range f.developers {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("developer %s: %w", id, apperr.ErrNotFound)
}

func (f *fakeStore) FirstVerifiedDeveloper(context.Context) (*models.Developer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	for _, d := range f.developers {
		if d.Verified {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("verified developer: %w", apperr.ErrNotFound)
}

func (f *fakeStore) VerifiedDeveloperByName(_ context.Context, name string) (*models.Developer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	for _, d := range f.developers {
		if d.Verified && strings.EqualFold(d.Name, name) {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("developer %s: %w", name, apperr.ErrNotFound)
}

func (f *fakeStore) BeginRun(_ context.Context, trigger models.Trigger) (*models.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil, fmt.Errorf("begin run: %w", apperr.ErrSyncInProgress)
	}
	f.running = true
	run := &models.SyncRun{
		ID:        fmt.Sprintf("run-%d", len(f.runs)+1),
		Trigger:   trigger,
		Status:    models.SyncRunning,
		StartedAt: time.Now(),
	}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeStore) FinishRun(ctx context.Context, run *models.SyncRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.finished = append(f.finished, *run)
	return nil
}

// blockingSource blocks Fetch until release is closed or ctx is done.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	records []models.SourceRecord
}

func newBlockingSource() *blockingSource {
	return &blockingSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingSource) Fetch(ctx context.Context) (*source.Batch, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return &source.Batch{Records: b.records}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingSource) Name() string { return "blocking" }

type recordingNotifier struct {
	mu       sync.Mutex
	started  []string
	finished []models.SyncStatus
	results  []Result
}

func (n *recordingNotifier) SyncStarted(run *models.SyncRun) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, run.ID)
}

func (n *recordingNotifier) SyncFinished(run *models.SyncRun, results []Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, run.Status)
	n.results = append(n.results, results...)
}

func rec(id, version string) models.SourceRecord {
	return models.SourceRecord{BundleID: id, Name: id, Version: version, CategoryID: "productivity"}
}
