package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/infra/sqlite"
)

func newTestConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("PREGEN_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Store.Dir = t.TempDir()
	cfg.Generation.TickInterval = "5ms"
	cfg.Generation.BatchSize = 50
	cfg.Generation.Quiet = true
	cfg.Telemetry.HealthInterval = "1h"
	return cfg
}

func squareSelection(t *testing.T, world string, r int) domain.Selection {
	t.Helper()
	shape, err := domain.NewShape(domain.ShapeSquare, 0, 0, r, r)
	if err != nil {
		t.Fatal(err)
	}
	return domain.Selection{World: world, Shape: shape, Pattern: domain.PatternLoop}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewWithConfig_Wiring(t *testing.T) {
	d, err := NewWithConfig(newTestConfig(t), "test")
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	if d.DB == nil || d.Store == nil {
		t.Fatal("sqlite store not opened")
	}
	if d.Host != nil {
		t.Error("synthetic config should not create a host client")
	}
	if v, err := d.DB.GetNodeInfo("version"); err != nil || v != "test" {
		t.Errorf("node version = %q, %v", v, err)
	}
}

func TestNewWithConfig_HTTPHostIsBreakerWrapped(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Host.Materializer = "http"
	cfg.Host.BaseURL = "http://127.0.0.1:1"
	cfg.Host.BreakerFailures = 2
	d, err := NewWithConfig(cfg, "test")
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	if d.Host == nil || d.Breaker == nil {
		t.Fatal("http config should create a host client behind a breaker")
	}
	if d.Materializer != domain.Materializer(d.Breaker) {
		t.Error("scheduler should materialize through the breaker")
	}
}

func TestNewWithConfig_JSONBackend(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Store.Backend = "json"
	d, err := NewWithConfig(cfg, "test")
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	if d.DB != nil {
		t.Error("json backend should not open sqlite")
	}
	if err := d.Store.Save(domain.TaskRecord{World: "w", ShapeKind: "square", RadiusX: 1, Pattern: "loop"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Store.Dir, "tasks.json")); err != nil {
		t.Errorf("tasks.json not written: %v", err)
	}
}

func TestDaemon_RunsTaskToCompletion(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := NewWithConfig(cfg, "test")
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()

	stop, err := d.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := d.Scheduler.Start(squareSelection(t, "overworld", 3)); err != nil {
		t.Fatalf("Scheduler.Start() error: %v", err)
	}

	waitFor(t, "completed record", func() bool {
		rec, err := d.Store.Load("overworld")
		return err == nil && rec.Completed
	})
	stop()
	d.Scheduler.Shutdown()

	rec, _ := d.Store.Load("overworld")
	if rec.CellsCompleted != 49 {
		t.Errorf("CellsCompleted = %d, want 49", rec.CellsCompleted)
	}
	if len(d.Overlay.Markers()) != 0 {
		t.Error("overlay markers should be cleared after completion")
	}
}

func TestDaemon_RestartRestoresPaused(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Host.SyntheticDelay = "1ms"

	d, err := NewWithConfig(cfg, "test")
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	stop, err := d.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	d.Scheduler.Start(squareSelection(t, "overworld", 200))
	waitFor(t, "some progress", func() bool {
		p, err := d.Scheduler.Progress("overworld")
		return err == nil && p.CellsCompleted > 0
	})
	stop()
	d.Scheduler.Shutdown()
	saved, err := d.Store.Load("overworld")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	d.Close()

	d2, err := NewWithConfig(cfg, "test")
	if err != nil {
		t.Fatalf("NewWithConfig() (restart) error: %v", err)
	}
	defer d2.Close()
	stop2, err := d2.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() (restart) error: %v", err)
	}
	defer stop2()

	p, err := d2.Scheduler.Progress("overworld")
	if err != nil {
		t.Fatalf("restored task missing: %v", err)
	}
	if p.Status != domain.TaskPaused {
		t.Errorf("restored status = %s, want PAUSED", p.Status)
	}
	if p.CellsCompleted != saved.CellsCompleted {
		t.Errorf("restored cells = %d, want %d", p.CellsCompleted, saved.CellsCompleted)
	}
}

func TestDaemon_ReloadWatchdogs(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := NewWithConfig(cfg, "test")
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	defer d.Close()
	d.ConfigPath = filepath.Join(t.TempDir(), "config.toml")

	data := "[watchdogs.players]\nenabled = true\nthreshold = 0\n\n[watchdogs.tps]\nenabled = true\nthreshold = 15\n"
	if err := os.WriteFile(d.ConfigPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.ReloadWatchdogs(); err != nil {
		t.Fatalf("ReloadWatchdogs() error: %v", err)
	}
	got := d.Watchdog.Config()
	if !got[domain.SignalPlayers].Enabled || got[domain.SignalTPS].Threshold != 15 {
		t.Errorf("reloaded config = %+v", got)
	}

	os.WriteFile(d.ConfigPath, []byte("[watchdogs.tps\n"), 0o644)
	if err := d.ReloadWatchdogs(); err == nil {
		t.Error("ReloadWatchdogs() with broken file should fail")
	}
	if d.Watchdog.Config()[domain.SignalTPS].Threshold != 15 {
		t.Error("failed reload must keep the previous config")
	}
}

func TestDaemon_StoreDirIsSQLiteDir(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := NewWithConfig(cfg, "")
	if err != nil {
		t.Fatalf("NewWithConfig() error: %v", err)
	}
	d.Close()

	db, err := sqlite.Open(cfg.Store.Dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	if v, _ := db.GetNodeInfo("last_start"); v == "" {
		t.Error("last_start not recorded")
	}
}
