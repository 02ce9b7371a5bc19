package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/health"
	"github.com/tutu-network/pregen/internal/infra/materialize"
	"github.com/tutu-network/pregen/internal/infra/scheduler"
	"github.com/tutu-network/pregen/internal/infra/sqlite"
	"github.com/tutu-network/pregen/internal/infra/watchdog"
)

type testEnv struct {
	srv      *Server
	sched    *scheduler.Scheduler
	db       *sqlite.DB
	wd       *watchdog.Watchdog
	readings domain.Readings
	handler  http.Handler
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{db: db, wd: watchdog.New(nil)}
	env.readings = domain.NewReadings(nil, time.Time{})
	cfg := scheduler.DefaultConfig()
	cfg.BatchSize = 100
	cfg.Quiet = true
	env.sched = scheduler.New(cfg, scheduler.Deps{
		Store:        db,
		Materializer: materialize.NewSynthetic(1, 0),
		Watchdog:     env.wd,
		Readings:     func() domain.Readings { return env.readings },
	})
	env.srv = NewServer(env.sched, db, env.wd, func() domain.Readings { return env.readings })
	env.handler = env.srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) tick() {
	e.sched.Tick(context.Background())
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// ─── Health & Status ────────────────────────────────────────────────────────

func TestAPI_Health(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]interface{}
	decode(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestAPI_HealthDegraded(t *testing.T) {
	env := newTestServer(t)
	c := health.NewChecker(0, health.SignalsCheck(func() bool { return false }))
	c.RunOnce(context.Background())
	env.srv.SetHealth(c)
	env.handler = env.srv.Handler()

	w := env.do(t, "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestAPI_Status(t *testing.T) {
	env := newTestServer(t)
	env.srv.SetVersion("1.2.3")
	env.handler = env.srv.Handler()

	w := env.do(t, "GET", "/api/status", "")
	var body struct {
		Version   string          `json:"version"`
		Scheduler scheduler.Stats `json:"scheduler"`
	}
	decode(t, w, &body)
	if body.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", body.Version)
	}
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func TestAPI_StartAndProgress(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, "POST", "/api/tasks", `{"world":"overworld","shape":"circle","radius":3,"pattern":"spiral"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body: %s", w.Code, w.Body.String())
	}

	// Not visible until the scheduler applied the command.
	if w := env.do(t, "GET", "/api/tasks/overworld", ""); w.Code != http.StatusNotFound {
		t.Errorf("before tick status = %d, want 404", w.Code)
	}

	env.tick()
	w = env.do(t, "GET", "/api/tasks/overworld", "")
	if w.Code != http.StatusOK {
		t.Fatalf("progress status = %d, body: %s", w.Code, w.Body.String())
	}
	var p domain.Progress
	decode(t, w, &p)
	if p.World != "overworld" || p.Shape == "" || p.Pattern != "spiral" {
		t.Errorf("progress = %+v", p)
	}
	if p.Status != domain.TaskActive {
		t.Errorf("status = %s, want ACTIVE", p.Status)
	}

	w = env.do(t, "GET", "/api/tasks", "")
	var list struct {
		Tasks   []domain.Progress `json:"tasks"`
		Holding bool              `json:"holding"`
	}
	decode(t, w, &list)
	if len(list.Tasks) != 1 {
		t.Errorf("tasks = %d, want 1", len(list.Tasks))
	}
}

func TestAPI_StartErrors(t *testing.T) {
	env := newTestServer(t)
	env.do(t, "POST", "/api/tasks", `{"world":"overworld","radius":2}`)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"duplicate world", `{"world":"overworld","radius":2}`, http.StatusConflict},
		{"empty world", `{"world":"","radius":2}`, http.StatusBadRequest},
		{"zero radius", `{"world":"nether","radius":0}`, http.StatusBadRequest},
		{"unknown shape", `{"world":"nether","shape":"blob","radius":2}`, http.StatusBadRequest},
		{"unknown pattern", `{"world":"nether","radius":2,"pattern":"zigzag"}`, http.StatusBadRequest},
		{"bad json", `{"world":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/tasks", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAPI_PauseContinueCancel(t *testing.T) {
	env := newTestServer(t)
	env.do(t, "POST", "/api/tasks", `{"world":"overworld","radius":20}`)
	env.tick()

	w := env.do(t, "POST", "/api/tasks/overworld/pause", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("pause status = %d", w.Code)
	}
	var acc TaskAccepted
	decode(t, w, &acc)
	if acc.Action != "pause" || acc.World != "overworld" {
		t.Errorf("accepted = %+v", acc)
	}
	env.tick()
	p, _ := env.sched.Progress("overworld")
	if p.Status != domain.TaskPaused {
		t.Errorf("after pause = %s, want PAUSED", p.Status)
	}

	env.do(t, "POST", "/api/tasks/overworld/continue", "")
	env.tick()
	p, _ = env.sched.Progress("overworld")
	if p.Status != domain.TaskActive {
		t.Errorf("after continue = %s, want ACTIVE", p.Status)
	}

	env.do(t, "POST", "/api/tasks/overworld/cancel", "")
	env.tick()
	if _, err := env.sched.Progress("overworld"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("cancelled task still live: %v", err)
	}
	rec, err := env.db.Load("overworld")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !rec.Cancelled {
		t.Error("record should be cancelled")
	}
}

func TestAPI_CommandUnknownWorld(t *testing.T) {
	env := newTestServer(t)
	for _, action := range []string{"pause", "continue", "cancel"} {
		w := env.do(t, "POST", "/api/tasks/nowhere/"+action, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", action, w.Code)
		}
	}
}

// ─── Watchdogs ──────────────────────────────────────────────────────────────

func TestAPI_Watchdogs(t *testing.T) {
	env := newTestServer(t)
	env.wd.Reload(watchdog.Config{domain.SignalTPS: {Enabled: true, Threshold: 18}})
	env.readings = domain.NewReadings(map[string]float64{domain.SignalTPS: 12}, time.Now())
	env.wd.Evaluate(env.readings)

	w := env.do(t, "GET", "/api/watchdogs", "")
	var body struct {
		Holding   bool              `json:"holding"`
		Watchdogs []watchdog.Status `json:"watchdogs"`
	}
	decode(t, w, &body)
	if !body.Holding {
		t.Error("holding = false, want true")
	}
	found := false
	for _, st := range body.Watchdogs {
		if st.Key == domain.SignalTPS {
			found = true
			if !st.Holding || st.Value == nil || *st.Value != 12 {
				t.Errorf("tps status = %+v", st)
			}
		}
	}
	if !found {
		t.Error("tps watchdog missing")
	}
}

func TestAPI_ReloadWatchdogs(t *testing.T) {
	env := newTestServer(t)
	if w := env.do(t, "POST", "/api/watchdogs/reload", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("without reloader status = %d, want 501", w.Code)
	}

	calls := 0
	env.srv.SetReloader(func() error {
		calls++
		env.wd.Reload(watchdog.Config{domain.SignalPlayers: {Enabled: true, Threshold: 0}})
		return nil
	})
	env.handler = env.srv.Handler()
	if w := env.do(t, "POST", "/api/watchdogs/reload", ""); w.Code != http.StatusOK {
		t.Errorf("reload status = %d", w.Code)
	}
	if calls != 1 {
		t.Errorf("reloader calls = %d, want 1", calls)
	}
	if !env.wd.Config()[domain.SignalPlayers].Enabled {
		t.Error("reloaded config not applied")
	}

	env.srv.SetReloader(func() error { return errors.New("bad toml") })
	env.handler = env.srv.Handler()
	if w := env.do(t, "POST", "/api/watchdogs/reload", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("failing reload status = %d, want 500", w.Code)
	}
}

// ─── Records ────────────────────────────────────────────────────────────────

func TestAPI_Records(t *testing.T) {
	env := newTestServer(t)
	env.db.Save(domain.TaskRecord{World: "old", ShapeKind: "square", RadiusX: 4, Pattern: "loop", CellsCompleted: 81, Completed: true})

	w := env.do(t, "GET", "/api/records", "")
	var body struct {
		Records []domain.TaskRecord `json:"records"`
	}
	decode(t, w, &body)
	if len(body.Records) != 1 || !body.Records[0].Completed {
		t.Errorf("records = %+v", body.Records)
	}

	if w := env.do(t, "GET", "/api/records/old", ""); w.Code != http.StatusOK {
		t.Errorf("get record status = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/records/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", w.Code)
	}
}

func TestAPI_Metrics(t *testing.T) {
	env := newTestServer(t)
	if w := env.do(t, "GET", "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("metrics disabled status = %d, want 404", w.Code)
	}
	env.srv.EnableMetrics()
	env.handler = env.srv.Handler()
	w := env.do(t, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pregen_") {
		t.Error("metrics output should contain pregen_ series")
	}
}

func TestAPI_CORS(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, "OPTIONS", "/api/tasks", "")
	if w.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestTaskRequest_Selection(t *testing.T) {
	sel, err := TaskRequest{World: "w", Shape: "rectangle", Radius: 4, RadiusZ: 2}.Selection()
	if err != nil {
		t.Fatalf("Selection() error: %v", err)
	}
	if sel.Shape.RadiusZ != 2 || sel.Pattern != domain.PatternLoop {
		t.Errorf("selection = %+v", sel)
	}
	sel, _ = TaskRequest{World: "w", Radius: 4, RadiusZ: 9}.Selection()
	if sel.Shape.Kind != domain.ShapeSquare || sel.Shape.RadiusZ != 4 {
		t.Errorf("default shape = %+v, want square radius 4", sel.Shape)
	}
}
