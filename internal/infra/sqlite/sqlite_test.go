package sqlite

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func squareRecord(world string, count int64) domain.TaskRecord {
	return domain.TaskRecord{
		World:          world,
		ShapeKind:      "square",
		CenterX:        10,
		CenterZ:        -20,
		RadiusX:        8,
		Pattern:        "spiral",
		CellsCompleted: count,
		TotalActiveMs:  1500,
		RunID:          "run-" + world,
		UpdatedAt:      time.UnixMilli(1_700_000_000_000),
	}
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	// Check file exists
	if _, err := os.Stat(filepath.Join(dir, "state.db")); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpen_Ping(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Save(squareRecord("overworld", 42)); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	got, err := db2.Load("overworld")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if got.CellsCompleted != 42 {
		t.Errorf("CellsCompleted = %d, want 42", got.CellsCompleted)
	}
}

// ─── Task CRUD ──────────────────────────────────────────────────────────────

func TestSave_Insert(t *testing.T) {
	db := newTestDB(t)
	want := squareRecord("overworld", 100)

	if err := db.Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := db.Load("overworld")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.ShapeKind != "square" || got.Pattern != "spiral" {
		t.Errorf("shape/pattern = %s/%s", got.ShapeKind, got.Pattern)
	}
	if got.CenterX != 10 || got.CenterZ != -20 || got.RadiusX != 8 {
		t.Errorf("geometry = %d,%d r%d", got.CenterX, got.CenterZ, got.RadiusX)
	}
	if got.RadiusZ != nil {
		t.Errorf("RadiusZ = %v, want nil", *got.RadiusZ)
	}
	if got.CellsCompleted != 100 || got.TotalActiveMs != 1500 {
		t.Errorf("counters = %d, %d", got.CellsCompleted, got.TotalActiveMs)
	}
	if got.RunID != "run-overworld" {
		t.Errorf("RunID = %q", got.RunID)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}
}

func TestSave_UpdateReplaces(t *testing.T) {
	db := newTestDB(t)
	db.Save(squareRecord("overworld", 1))

	rec := squareRecord("overworld", 2)
	rec.ShapeKind = "oval"
	rz := 3
	rec.RadiusZ = &rz
	rec.Paused = true
	if err := db.Save(rec); err != nil {
		t.Fatal(err)
	}

	got, _ := db.Load("overworld")
	if got.CellsCompleted != 2 || got.ShapeKind != "oval" || !got.Paused {
		t.Errorf("got %+v", got)
	}
	if got.RadiusZ == nil || *got.RadiusZ != 3 {
		t.Errorf("RadiusZ = %v, want 3", got.RadiusZ)
	}
	all, _ := db.List()
	if len(all) != 1 {
		t.Errorf("List() len = %d, want 1", len(all))
	}
}

func TestSave_EmptyWorld(t *testing.T) {
	db := newTestDB(t)
	if err := db.Save(squareRecord("", 0)); !errors.Is(err, domain.ErrEmptyWorld) {
		t.Errorf("Save() error = %v, want ErrEmptyWorld", err)
	}
}

func TestLoad_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.Load("nowhere"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("Load() error = %v, want ErrRecordNotFound", err)
	}
}

func TestLoadAll_SkipsTerminalAndMalformed(t *testing.T) {
	db := newTestDB(t)

	active := squareRecord("a", 5)
	cancelled := squareRecord("b", 5)
	cancelled.Cancelled = true
	completed := squareRecord("c", 289)
	completed.Completed = true
	paused := squareRecord("d", 7)
	paused.Paused = true
	broken := squareRecord("e", 0)
	broken.ShapeKind = "dodecahedron"

	for _, r := range []domain.TaskRecord{active, cancelled, completed, paused, broken} {
		if err := db.Save(r); err != nil {
			t.Fatalf("Save(%s): %v", r.World, err)
		}
	}

	got, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	if len(got) != 2 || got[0].World != "a" || got[1].World != "d" {
		t.Fatalf("LoadAll() = %+v, want worlds a and d", got)
	}
	if !got[1].Paused {
		t.Error("paused flag lost")
	}

	all, _ := db.List()
	if len(all) != 5 {
		t.Errorf("List() len = %d, want 5", len(all))
	}
}

func TestLoadAll_UnreadableRowSkipsOnlyThatWorld(t *testing.T) {
	db := newTestDB(t)
	for _, w := range []string{"a", "b", "c"} {
		if err := db.Save(squareRecord(w, 3)); err != nil {
			t.Fatalf("Save(%s): %v", w, err)
		}
	}
	if _, err := db.db.Exec(`UPDATE generation_tasks SET center_x = 'oops' WHERE world = 'b'`); err != nil {
		t.Fatalf("corrupting row: %v", err)
	}

	got, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	if len(got) != 2 || got[0].World != "a" || got[1].World != "c" {
		t.Fatalf("LoadAll() = %+v, want worlds a and c", got)
	}
	if _, err := db.Load("b"); !errors.Is(err, domain.ErrMalformedRecord) {
		t.Errorf("Load(b) = %v, want ErrMalformedRecord", err)
	}

	// The other worlds keep saving normally.
	if err := db.Save(squareRecord("a", 9)); err != nil {
		t.Errorf("Save(a) after corruption: %v", err)
	}
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	db.Save(squareRecord("overworld", 1))

	if err := db.Delete("overworld"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := db.Load("overworld"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("Load after Delete = %v", err)
	}
	if err := db.Delete("overworld"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("second Delete = %v, want ErrRecordNotFound", err)
	}
}

// ─── Node Info ──────────────────────────────────────────────────────────────

func TestNodeInfo(t *testing.T) {
	db := newTestDB(t)

	val, err := db.GetNodeInfo("missing")
	if err != nil || val != "" {
		t.Errorf("GetNodeInfo(missing) = %q, %v", val, err)
	}
	db.SetNodeInfo("last_shutdown", "clean")
	db.SetNodeInfo("last_shutdown", "crash")
	val, _ = db.GetNodeInfo("last_shutdown")
	if val != "crash" {
		t.Errorf("GetNodeInfo = %q, want crash", val)
	}
}
