package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/catalog"
	"github.com/starford/appcatalog/internal/catalogservice"
	"github.com/starford/appcatalog/internal/models"
	"github.com/starford/appcatalog/internal/source"
	"github.com/starford/appcatalog/internal/syncer"
	"github.com/starford/appcatalog/internal/testutil"
)

type testEnvironment struct {
	svc    *catalogservice.Service
	db     *catalog.DB
	src    *source.Static
	router http.Handler
}

// testEnv sets up a seeded SQLite catalog, a static source, the service
// and the router. A non-empty authToken enables token auth.
func testEnv(t *testing.T, authToken string) *testEnvironment {
	t.Helper()
	return testEnvFull(t, authToken != "", authToken, nil)
}

func testEnvFull(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler) *testEnvironment {
	t.Helper()

	db := testutil.SeededDB(t)
	src := &source.Static{Records: []models.SourceRecord{
		{BundleID: "com.acme.notes", Name: "Notes", Description: "Take notes", Version: "1.0", CategoryID: "productivity"},
		{BundleID: "com.acme.mail", Name: "Mail", Version: "2.0", CategoryID: "productivity"},
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := syncer.NewResolver(db, nil, syncer.OwnerFirstVerified, "", log)
	engine := syncer.NewEngine(src, db, db, syncer.NewApplier(db, resolver, 2, log), syncer.WithLogger(log))
	svc := catalogservice.NewService(db, engine)

	return &testEnvironment{
		svc:    svc,
		db:     db,
		src:    src,
		router: NewRouter(svc, authEnabled, authToken, sseHandler),
	}
}

func (e *testEnvironment) do(method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestSyncThenListApps(t *testing.T) {
	env := testEnv(t, "")

	w := env.do(http.MethodPost, "/sync")
	if w.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body = %s", w.Code, w.Body.String())
	}
	run := decode[SyncRun](t, w)
	if run.Status != models.SyncCompleted || run.Stats.Added != 2 {
		t.Fatalf("run = %+v", run)
	}
	if run.Trigger != models.TriggerManual {
		t.Errorf("trigger = %q", run.Trigger)
	}

	w = env.do(http.MethodGet, "/apps?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	page := decode[AppListResponse](t, w)
	if page.Total != 2 || len(page.Apps) != 1 || page.Limit != 1 {
		t.Errorf("page = %+v", page)
	}
	if page.Apps[0].Name != "Mail" {
		t.Errorf("first app = %q, want Mail", page.Apps[0].Name)
	}
}

func TestListApps_Empty(t *testing.T) {
	env := testEnv(t, "")

	w := env.do(http.MethodGet, "/apps")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	page := decode[AppListResponse](t, w)
	if page.Total != 0 || page.Apps == nil {
		t.Errorf("page = %+v, want empty non-nil list", page)
	}
}

func TestListApps_IncludeUnsupported(t *testing.T) {
	env := testEnv(t, "")
	if w := env.do(http.MethodPost, "/sync"); w.Code != http.StatusOK {
		t.Fatalf("first sync = %d", w.Code)
	}
	env.src.Records = env.src.Records[:1]
	if w := env.do(http.MethodPost, "/sync"); w.Code != http.StatusOK {
		t.Fatalf("second sync = %d", w.Code)
	}

	page := decode[AppListResponse](t, env.do(http.MethodGet, "/apps"))
	if page.Total != 1 {
		t.Errorf("visible = %d, want 1", page.Total)
	}
	page = decode[AppListResponse](t, env.do(http.MethodGet, "/apps?include_unsupported=true"))
	if page.Total != 2 {
		t.Errorf("all = %d, want 2", page.Total)
	}
}

func TestGetApp_BySecondaryBundleID(t *testing.T) {
	env := testEnv(t, "")
	id := testutil.CreateApp(t, env.db, "com.acme.editor", "Editor", "1.0")
	if err := env.db.AddBundleID(context.Background(), id, "com.acme.editor-legacy"); err != nil {
		t.Fatal(err)
	}

	w := env.do(http.MethodGet, "/apps/com.acme.editor-legacy")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	app := decode[App](t, w)
	if app.ID != id || len(app.BundleIDs) != 2 || app.BundleIDs[0] != "com.acme.editor" {
		t.Errorf("app = %+v", app)
	}
}

func TestGetApp_NotFound(t *testing.T) {
	env := testEnv(t, "")
	if w := env.do(http.MethodGet, "/apps/com.none"); w.Code != http.StatusNotFound {
		t.Errorf("missing app = %d, want 404", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := testEnv(t, "")
	if w := env.do(http.MethodPost, "/sync"); w.Code != http.StatusOK {
		t.Fatalf("sync = %d", w.Code)
	}

	w := env.do(http.MethodGet, "/search?q=notes")
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	resp := decode[SearchResponse](t, w)
	if len(resp.Results) != 1 || resp.Results[0].BundleID != "com.acme.notes" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	env := testEnv(t, "")
	if w := env.do(http.MethodGet, "/search"); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestSync_SourceFailure(t *testing.T) {
	env := testEnv(t, "")
	env.src.Err = apperr.ErrSourceUnavailable

	w := env.do(http.MethodPost, "/sync")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	resp := decode[SyncFailedResponse](t, w)
	if resp.Run == nil || resp.Run.Status != models.SyncFailed || resp.Error == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSync_AlreadyRunning(t *testing.T) {
	env := testEnv(t, "")
	if _, err := env.db.BeginRun(context.Background(), models.TriggerSchedule); err != nil {
		t.Fatal(err)
	}

	if w := env.do(http.MethodPost, "/sync"); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestPreviewSync(t *testing.T) {
	env := testEnv(t, "")
	testutil.CreateApp(t, env.db, "com.acme.notes", "Notes", "0.9")

	w := env.do(http.MethodPost, "/sync/preview")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	p := decode[PreviewResponse](t, w)
	want := models.SyncStats{Added: 1, Updated: 1}
	if p.Stats != want {
		t.Errorf("stats = %+v, want %+v", p.Stats, want)
	}

	page := decode[AppListResponse](t, env.do(http.MethodGet, "/apps"))
	if page.Total != 1 {
		t.Errorf("preview must not write: %d apps", page.Total)
	}
}

func TestPreviewSync_SourceFailure(t *testing.T) {
	env := testEnv(t, "")
	env.src.Err = apperr.ErrSourceFormat
	if w := env.do(http.MethodPost, "/sync/preview"); w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestPreviewSync_StoreFailureHidesDetail(t *testing.T) {
	env := testEnv(t, "")
	env.db.Close()

	w := env.do(http.MethodPost, "/sync/preview")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := decode[errResponse](t, w)
	if body.Error != "catalog unavailable" {
		t.Errorf("error = %q, want generic message", body.Error)
	}
}

func TestRunLogEndpoints(t *testing.T) {
	env := testEnv(t, "")
	run := decode[SyncRun](t, env.do(http.MethodPost, "/sync"))

	w := env.do(http.MethodGet, "/sync/runs")
	if w.Code != http.StatusOK {
		t.Fatalf("list runs = %d", w.Code)
	}
	list := decode[SyncRunListResponse](t, w)
	if len(list.Runs) != 1 || list.Runs[0].ID != run.ID {
		t.Errorf("runs = %+v", list.Runs)
	}

	w = env.do(http.MethodGet, "/sync/runs/"+run.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("get run = %d", w.Code)
	}
	got := decode[SyncRun](t, w)
	if got.Stats != run.Stats || got.FinishedAt == nil {
		t.Errorf("run = %+v", got)
	}

	if w := env.do(http.MethodGet, "/sync/runs/nope"); w.Code != http.StatusNotFound {
		t.Errorf("missing run = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	env := testEnv(t, "secret123")
	if w := env.do(http.MethodGet, "/apps", "Authorization", "Bearer secret123"); w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := testEnv(t, "secret123")
	if w := env.do(http.MethodPost, "/sync"); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	env := testEnv(t, "secret123")
	if w := env.do(http.MethodGet, "/apps", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	env := testEnv(t, "")
	if w := env.do(http.MethodGet, "/apps"); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	env := testEnv(t, "secret123")
	if w := env.do(http.MethodGet, "/apps?access_token=secret123"); w.Code != http.StatusOK {
		t.Errorf("query token on GET = %d, want 200", w.Code)
	}
	w := env.do(http.MethodPost, "/sync?access_token=secret123")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on POST = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 should carry WWW-Authenticate")
	}
}

// SSE endpoint auth tests.

func blockingSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	env := testEnvFull(t, true, "secret", blockingSSE())
	if w := env.do(http.MethodGet, "/events"); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	env := testEnvFull(t, true, "tok", blockingSSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}

func TestHealthRouter(t *testing.T) {
	env := testEnv(t, "")
	health := NewHealthRouter(env.svc)

	for _, path := range []string{"/live", "/ready"} {
		w := httptest.NewRecorder()
		health.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, w.Code)
		}
	}

	env.db.Close()
	w := httptest.NewRecorder()
	health.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready after close = %d, want 503", w.Code)
	}
}
