package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gridhost/internal/host"
	"github.com/nerrad567/gridhost/internal/infrastructure/config"
	"github.com/nerrad567/gridhost/internal/infrastructure/database"
	"github.com/nerrad567/gridhost/internal/infrastructure/logging"
	"github.com/nerrad567/gridhost/internal/realtime"
	"github.com/nerrad567/gridhost/migrations"
)

// recordingHandle is a listener that keeps every event it is sent.
type recordingHandle struct {
	id     string
	mu     sync.Mutex
	events []realtime.Event
}

func (h *recordingHandle) ID() string   { return h.id }
func (h *recordingHandle) IsOpen() bool { return true }
func (h *recordingHandle) Ping() error  { return nil }
func (h *recordingHandle) Send(msg []byte) error {
	var ev realtime.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		return err
	}
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandle) received() []realtime.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]realtime.Event(nil), h.events...)
}

// testEnv bundles a server with the pieces tests inspect.
type testEnv struct {
	srv      *Server
	repo     *host.SQLiteRepository
	registry *realtime.Registry
	listener *recordingHandle
	gatherer *prometheus.Registry
}

// testServer creates a Server over an in-memory store with one recording listener.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := realtime.NewMetrics(reg, EventNames()...)
	registry := realtime.NewRegistry(metrics)
	broadcaster := realtime.NewBroadcaster(registry, realtime.WithMetrics(metrics))
	prober := realtime.NewProber(registry, 50*time.Millisecond, realtime.WithMetrics(metrics))
	lifecycle := realtime.NewLifecycle(registry, prober)

	repo := host.NewSQLiteRepository(setupTestDB(t))

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws/host",
			MaxMessageSize: 64 * 1024,
			PingInterval:   1,
			PongTimeout:    5,
			SendBuffer:     16,
		},
		Metrics:     config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:      logging.Discard(),
		Repo:        repo,
		Registry:    registry,
		Broadcaster: broadcaster,
		Prober:      prober,
		Lifecycle:   lifecycle,
		Gatherer:    reg,
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	listener := &recordingHandle{id: "recorder"}
	registry.Register(listener)

	return &testEnv{srv: srv, repo: repo, registry: registry, listener: listener, gatherer: reg}
}

// setupTestDB creates an in-memory SQLite database with the hosts and grids schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	ms, err := database.LoadMigrations(migrations.FS)
	if err != nil {
		t.Fatalf("loading migrations: %v", err)
	}
	for _, m := range ms {
		if _, err := db.Exec(m.UpSQL); err != nil {
			t.Fatalf("failed to create test schema: %v", err)
		}
	}
	return db
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) createHost(t *testing.T, name string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/hosts", `{"name":"`+name+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/hosts status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[map[string]string](t, rec)["hostId"]
}

func (e *testEnv) createGrid(t *testing.T, owner string) string {
	t.Helper()
	body := `{"owner":"` + owner + `","grid":[[{"value":"A","editable":true},{"value":"","editable":false}]]}`
	rec := e.do(t, http.MethodPost, "/api/grids", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/grids status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[map[string]string](t, rec)["gridId"]
}

// ─── Health and metrics ─────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gridhost_listeners 1") {
		t.Errorf("metrics output missing listener gauge:\n%s", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/hosts", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:4200" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

// ─── Hosts ──────────────────────────────────────────────────────────

func TestGetHost(t *testing.T) {
	env := testServer(t)
	id := env.createHost(t, "Ada")

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantMsg    string
	}{
		{"found", "/api/hosts/" + id, http.StatusOK, ""},
		{"illegal id", "/api/hosts/not-an-id", http.StatusBadRequest, "The requested host id wasn't a legal ID."},
		{"missing", "/api/hosts/" + host.NewID(), http.StatusNotFound, "The requested host was not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantMsg != "" {
				e := decode[Error](t, rec)
				if e.Message != tt.wantMsg || e.Status != tt.wantStatus {
					t.Errorf("error = %+v, want message %q", e, tt.wantMsg)
				}
				return
			}
			h := decode[host.Host](t, rec)
			if h.ID != id || h.Name != "Ada" {
				t.Errorf("host = %+v", h)
			}
		})
	}
}

func TestCreateHost_PublishesEvent(t *testing.T) {
	env := testServer(t)
	id := env.createHost(t, "Grace")

	events := env.listener.received()
	if len(events) != 1 || events[0].Name != "hostCreated" {
		t.Fatalf("events = %+v, want one hostCreated", events)
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(events[0].Data), &data); err != nil {
		t.Fatalf("event data %q: %v", events[0].Data, err)
	}
	if data["hostId"] != id {
		t.Errorf("event hostId = %q, want %q", data["hostId"], id)
	}
}

func TestCreateHost_Rejected(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"name":`, ErrCodeBadRequest},
		{"missing name", `{}`, ErrCodeValidation},
		{"name too long", `{"name":"` + strings.Repeat("n", 101) + `"}`, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/hosts", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if e := decode[Error](t, rec); e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
		})
	}
	if n := len(env.listener.received()); n != 0 {
		t.Errorf("rejected requests published %d events", n)
	}
}

// ─── Grids ──────────────────────────────────────────────────────────

func TestCreateGrid_PublishesEvent(t *testing.T) {
	env := testServer(t)
	owner := host.NewID()
	id := env.createGrid(t, owner)

	events := env.listener.received()
	if len(events) != 1 || events[0].Name != "gridCreated" {
		t.Fatalf("events = %+v, want one gridCreated", events)
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(events[0].Data), &data); err != nil {
		t.Fatalf("event data: %v", err)
	}
	if data["gridId"] != id || data["owner"] != owner {
		t.Errorf("event data = %v", data)
	}
}

func TestCreateGrid_Rejected(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing owner", `{"grid":[[{"value":"A"}]]}`},
		{"missing grid", `{"owner":"` + host.NewID() + `"}`},
		{"empty grid", `{"owner":"` + host.NewID() + `","grid":[]}`},
		{"illegal _id", `{"_id":"nope","owner":"` + host.NewID() + `","grid":[[{"value":"A"}]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/grids", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestListGrids(t *testing.T) {
	env := testServer(t)
	hostA, hostB := host.NewID(), host.NewID()
	env.createGrid(t, hostA)
	env.createGrid(t, hostB)
	env.createGrid(t, hostA)

	type listing struct {
		Grids []host.Grid `json:"grids"`
		Count int         `json:"count"`
	}

	tests := []struct {
		name      string
		path      string
		wantCount int
	}{
		{"all", "/api/grids", 3},
		{"query filter", "/api/grids?hostId=" + hostA, 2},
		{"path filter", "/api/grids/" + hostB, 1},
		{"unknown host", "/api/grids/" + host.NewID(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			got := decode[listing](t, rec)
			if got.Count != tt.wantCount || len(got.Grids) != tt.wantCount {
				t.Errorf("count = %d (len %d), want %d", got.Count, len(got.Grids), tt.wantCount)
			}
		})
	}

	if rec := env.do(t, http.MethodGet, "/api/grids?hostId=bad", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("illegal hostId status = %d, want 400", rec.Code)
	}
}

func TestGetGrid(t *testing.T) {
	env := testServer(t)
	owner := host.NewID()
	id := env.createGrid(t, owner)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"owner", "/api/grid/" + owner + "/" + id, http.StatusOK},
		{"other host", "/api/grid/" + host.NewID() + "/" + id, http.StatusNotFound},
		{"missing grid", "/api/grid/" + owner + "/" + host.NewID(), http.StatusNotFound},
		{"illegal grid id", "/api/grid/" + owner + "/zzz", http.StatusBadRequest},
		{"illegal host id", "/api/grid/zzz/" + id, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				g := decode[host.Grid](t, rec)
				if g.ID != id || len(g.Cells) != 1 || g.Cells[0][0].Value != "A" {
					t.Errorf("grid = %+v", g)
				}
			}
		})
	}
}

func TestUpdateGrid_PublishesGridUpdated(t *testing.T) {
	env := testServer(t)
	owner := host.NewID()
	id := env.createGrid(t, owner)

	rec := env.do(t, http.MethodPut, "/api/grid/"+owner+"/"+id, `{"grid":[[{"value":"Z","editable":true}]]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body.String())
	}

	events := env.listener.received()
	if len(events) != 2 || events[1].Name != "gridUpdated" {
		t.Fatalf("events = %+v, want gridCreated then gridUpdated", events)
	}
	var data gridUpdate
	if err := json.Unmarshal([]byte(events[1].Data), &data); err != nil {
		t.Fatalf("event data: %v", err)
	}
	if data.ID != id || data.Owner != owner || data.Grid[0][0].Value != "Z" {
		t.Errorf("gridUpdated data = %+v", data)
	}

	stored, err := env.repo.GetGrid(context.Background(), id)
	if err != nil {
		t.Fatalf("GetGrid() error = %v", err)
	}
	if stored.Cells[0][0].Value != "Z" {
		t.Errorf("stored cells = %+v", stored.Cells)
	}

	if rec := env.do(t, http.MethodPut, "/api/grid/"+host.NewID()+"/"+id, `{"grid":[[{"value":"Y"}]]}`); rec.Code != http.StatusNotFound {
		t.Errorf("PUT by other host status = %d, want 404", rec.Code)
	}
}

func TestSaveGrid_ExistingIDUpdatesInPlace(t *testing.T) {
	env := testServer(t)
	owner := host.NewID()
	id := env.createGrid(t, owner)

	body := `{"_id":"` + id + `","owner":"` + owner + `","grid":[[{"value":"Q"}]]}`
	rec := env.do(t, http.MethodPost, "/api/grids", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	events := env.listener.received()
	if last := events[len(events)-1]; last.Name != "gridUpdated" {
		t.Errorf("last event = %q, want gridUpdated", last.Name)
	}
	grids, err := env.repo.ListGrids(context.Background())
	if err != nil {
		t.Fatalf("ListGrids() error = %v", err)
	}
	if len(grids) != 1 {
		t.Errorf("grids stored = %d, want 1", len(grids))
	}
}

func TestPublish_SurvivesFailingListener(t *testing.T) {
	env := testServer(t)
	broken := &failingHandle{id: "broken"}
	env.registry.Register(broken)

	id := env.createHost(t, "Linus")
	if id == "" {
		t.Fatal("no host id returned")
	}
	if env.registry.Len() != 1 {
		t.Errorf("registry size = %d, want 1 after pruning the failing listener", env.registry.Len())
	}
	if n := len(env.listener.received()); n != 1 {
		t.Errorf("healthy listener received %d events, want 1", n)
	}
}

type failingHandle struct{ id string }

func (h *failingHandle) ID() string          { return h.id }
func (h *failingHandle) IsOpen() bool        { return true }
func (h *failingHandle) Ping() error         { return nil }
func (h *failingHandle) Send(_ []byte) error { return io.ErrClosedPipe }

// ─── Server lifecycle ───────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger expected error")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without repository expected error")
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	env := testServer(t)
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start expected error")
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
}

func TestStartAndClose(t *testing.T) {
	env := testServer(t)
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.Start(context.Background()); err == nil {
		t.Error("second Start() expected error")
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	resp.Body.Close() //nolint:errcheck // test
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	ws := dialWS(t, "ws://"+env.srv.Addr()+"/ws/host")
	waitFor(t, func() bool { return env.registry.Len() == 2 })

	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() after Close = %v, want going-away close frame", err)
	}
}

func TestBodyLimit(t *testing.T) {
	env := testServer(t)
	big := `{"name":"` + string(bytes.Repeat([]byte("x"), maxRequestBodySize)) + `"}`
	rec := env.do(t, http.MethodPost, "/api/hosts", big)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
