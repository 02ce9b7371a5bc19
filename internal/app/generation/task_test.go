package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/infra/iterator"
)

// recordingMaterializer remembers every cell it was asked for and fails on
// the cells listed in fail.
type recordingMaterializer struct {
	mu    sync.Mutex
	calls []domain.Coord
	fail  map[domain.Coord]bool
}

func (m *recordingMaterializer) EnsureLoaded(_ context.Context, _ string, x, z int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := domain.Coord{X: x, Z: z}
	m.calls = append(m.calls, c)
	if m.fail[c] {
		return errors.New("engine busy")
	}
	return nil
}

// fakeClock advances by step every time it is read.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func square3(t *testing.T) domain.Selection {
	t.Helper()
	s, err := domain.NewShape(domain.ShapeSquare, 0, 0, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	return domain.Selection{World: "overworld", Shape: s, Pattern: domain.PatternLoop}
}

func TestNew_Validates(t *testing.T) {
	sel := square3(t)
	sel.World = "  "
	if _, err := New(sel, &recordingMaterializer{}); !errors.Is(err, domain.ErrEmptyWorld) {
		t.Errorf("New() error = %v, want ErrEmptyWorld", err)
	}

	task, err := New(square3(t), &recordingMaterializer{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if task.Status() != domain.TaskActive {
		t.Errorf("Status = %s, want ACTIVE", task.Status())
	}
	if task.RunID() == "" {
		t.Error("RunID should be set")
	}
	if !task.Dirty() {
		t.Error("new task should be dirty")
	}
}

func TestStep_CompletesSquare(t *testing.T) {
	mat := &recordingMaterializer{}
	clk := &fakeClock{t: time.Unix(0, 0), step: 5 * time.Millisecond}
	task, _ := New(square3(t), mat, WithClock(clk.now))

	n, err := task.Step(context.Background(), 4)
	if err != nil || n != 4 {
		t.Fatalf("Step(4) = %d, %v", n, err)
	}
	if task.Status() != domain.TaskActive {
		t.Fatalf("Status = %s after 4 of 9", task.Status())
	}
	n, err = task.Step(context.Background(), 100)
	if err != nil || n != 5 {
		t.Fatalf("Step(100) = %d, %v, want 5", n, err)
	}
	if task.Status() != domain.TaskCompleted {
		t.Errorf("Status = %s, want COMPLETED", task.Status())
	}
	if task.CellsCompleted() != 9 {
		t.Errorf("CellsCompleted = %d, want 9", task.CellsCompleted())
	}
	if len(mat.calls) != 9 {
		t.Errorf("materializer called %d times, want 9", len(mat.calls))
	}
	if task.ActiveTime() != 10*time.Millisecond {
		t.Errorf("ActiveTime = %v, want 10ms", task.ActiveTime())
	}
	if _, err := task.Step(context.Background(), 1); !errors.Is(err, domain.ErrTaskNotActive) {
		t.Errorf("Step after completion error = %v, want ErrTaskNotActive", err)
	}
}

func TestStep_FailureStopsAtFailedCell(t *testing.T) {
	mat := &recordingMaterializer{fail: map[domain.Coord]bool{{X: 0, Z: 0}: true}}
	task, _ := New(square3(t), mat)

	// (0,0) is the fifth cell of the row-major walk.
	n, err := task.Step(context.Background(), 9)
	if !errors.Is(err, domain.ErrMaterialize) {
		t.Fatalf("Step error = %v, want ErrMaterialize", err)
	}
	if n != 4 || task.Cursor() != 4 {
		t.Errorf("Step = %d, cursor %d, want 4 and 4", n, task.Cursor())
	}
	if task.Status() != domain.TaskActive {
		t.Errorf("Status = %s, want ACTIVE", task.Status())
	}
	if task.ConsecutiveFailures() != 1 {
		t.Errorf("failures = %d, want 1", task.ConsecutiveFailures())
	}

	// Permanent failure never advances the cursor.
	for i := 0; i < 5; i++ {
		task.Step(context.Background(), 9)
	}
	if task.Cursor() != 4 {
		t.Errorf("cursor = %d after repeated failures, want 4", task.Cursor())
	}

	delete(mat.fail, domain.Coord{X: 0, Z: 0})
	if _, err := task.Step(context.Background(), 9); err != nil {
		t.Fatalf("Step after recovery: %v", err)
	}
	if task.Status() != domain.TaskCompleted || task.ConsecutiveFailures() != 0 {
		t.Errorf("Status = %s failures = %d", task.Status(), task.ConsecutiveFailures())
	}
}

func TestStep_ParallelCountsContiguousPrefix(t *testing.T) {
	// (1,0) is the sixth cell; cells after it may load but must not count.
	mat := &recordingMaterializer{fail: map[domain.Coord]bool{{X: 1, Z: 0}: true}}
	task, _ := New(square3(t), mat, WithParallelism(4))

	n, err := task.Step(context.Background(), 9)
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 5 || task.Cursor() != 5 {
		t.Errorf("Step = %d, cursor %d, want 5", n, task.Cursor())
	}
}

func TestTransitions(t *testing.T) {
	task, _ := New(square3(t), &recordingMaterializer{})

	if err := task.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := task.Pause(); err != nil {
		t.Errorf("second Pause error = %v, want nil", err)
	}
	if _, err := task.Step(context.Background(), 1); !errors.Is(err, domain.ErrTaskNotActive) {
		t.Errorf("Step while paused = %v, want ErrTaskNotActive", err)
	}
	if err := task.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := task.Resume(); err != nil {
		t.Errorf("second Resume error = %v, want nil", err)
	}
	if err := task.Cancel(); err != nil {
		t.Fatal(err)
	}
	if task.Status() != domain.TaskCancelled {
		t.Errorf("Status = %s, want CANCELLED", task.Status())
	}
	for name, fn := range map[string]func() error{
		"Pause": task.Pause, "Resume": task.Resume, "Cancel": task.Cancel,
	} {
		if err := fn(); !errors.Is(err, domain.ErrTaskTerminal) {
			t.Errorf("%s on cancelled task = %v, want ErrTaskTerminal", name, err)
		}
	}
}

func TestRecordRoundTrip(t *testing.T) {
	mat := &recordingMaterializer{}
	shape, _ := domain.NewShape(domain.ShapeOval, 4, -4, 6, 3)
	sel := domain.Selection{World: "nether", Shape: shape, Pattern: domain.PatternSpiral}
	task, _ := New(sel, mat)
	task.Step(context.Background(), 10)
	task.Pause()

	rec := task.Record()
	if rec.ShapeKind != "oval" || rec.Pattern != "spiral" || rec.CellsCompleted != 10 {
		t.Errorf("Record = %+v", rec)
	}
	if rec.RadiusZ == nil || *rec.RadiusZ != 3 {
		t.Errorf("RadiusZ = %v, want 3", rec.RadiusZ)
	}
	if !rec.Paused || rec.Cancelled || rec.Completed {
		t.Errorf("flags = paused %v cancelled %v completed %v", rec.Paused, rec.Cancelled, rec.Completed)
	}

	restored, err := FromRecord(rec, mat)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if restored.Status() != domain.TaskPaused {
		t.Errorf("restored Status = %s, want PAUSED", restored.Status())
	}
	if restored.RunID() != task.RunID() || restored.Cursor() != 10 {
		t.Errorf("restored run %s cursor %d", restored.RunID(), restored.Cursor())
	}
	if restored.Shape() != shape {
		t.Errorf("restored shape %v, want %v", restored.Shape(), shape)
	}
}

func TestFromRecord_RejectsTerminalAndMalformed(t *testing.T) {
	rec := domain.TaskRecord{World: "w", ShapeKind: "square", RadiusX: 2, Pattern: "loop", Cancelled: true}
	if _, err := FromRecord(rec, nil); !errors.Is(err, domain.ErrTaskTerminal) {
		t.Errorf("cancelled record error = %v, want ErrTaskTerminal", err)
	}
	rec = domain.TaskRecord{World: "w", ShapeKind: "blob", RadiusX: 2, Pattern: "loop"}
	if _, err := FromRecord(rec, nil); !errors.Is(err, domain.ErrMalformedRecord) {
		t.Errorf("unknown shape error = %v, want ErrMalformedRecord", err)
	}
}

func TestResumeAfterRestart_MatchesUninterrupted(t *testing.T) {
	shape, _ := domain.NewShape(domain.ShapeCircle, 0, 0, 9, 9)
	sel := domain.Selection{World: "w", Shape: shape, Pattern: domain.PatternConcentric}

	full := &recordingMaterializer{}
	a, _ := New(sel, full)
	for a.Status() == domain.TaskActive {
		a.Step(context.Background(), 7)
	}

	split := &recordingMaterializer{}
	b, _ := New(sel, split)
	b.Step(context.Background(), 7)
	b.Step(context.Background(), 7)
	c, _ := FromRecord(b.Record(), split)
	for c.Status() == domain.TaskActive {
		c.Step(context.Background(), 7)
	}

	if len(full.calls) != len(split.calls) {
		t.Fatalf("calls: %d vs %d", len(full.calls), len(split.calls))
	}
	for i := range full.calls {
		if full.calls[i] != split.calls[i] {
			t.Fatalf("call %d: %v vs %v", i, full.calls[i], split.calls[i])
		}
	}
	if int64(len(full.calls)) != iterator.Count(shape) {
		t.Errorf("generated %d cells, want %d", len(full.calls), iterator.Count(shape))
	}
}

func TestProgress(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0), step: 500 * time.Millisecond}
	task, _ := New(square3(t), &recordingMaterializer{}, WithClock(clk.now))
	task.Step(context.Background(), 3)

	p := task.Progress(true)
	if p.CellsCompleted != 3 || p.TotalCells != 9 {
		t.Errorf("Progress cells %d/%d", p.CellsCompleted, p.TotalCells)
	}
	if p.Percent < 33.3 || p.Percent > 33.4 {
		t.Errorf("Percent = %f", p.Percent)
	}
	if !p.Held {
		t.Error("Held should be reported for an active task")
	}
	if p.Rate != 6 {
		t.Errorf("Rate = %f, want 6 cells/s", p.Rate)
	}
	if p.ETA != time.Second {
		t.Errorf("ETA = %v, want 1s", p.ETA)
	}
}

func TestRateWindow_Rolls(t *testing.T) {
	w := newRateWindow(2)
	w.add(10, time.Second)
	w.add(10, time.Second)
	w.add(40, time.Second)
	if got := w.perSecond(); got != 25 {
		t.Errorf("perSecond = %f, want 25", got)
	}
	empty := newRateWindow(3)
	if empty.perSecond() != 0 {
		t.Error("empty window should report 0")
	}
}
