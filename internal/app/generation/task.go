// Package generation implements the per-world generation task state machine.
//
//	ACTIVE ⇄ PAUSED
//	ACTIVE | PAUSED → CANCELLED
//	ACTIVE → COMPLETED (iterator reached End)
//
// A Task is owned by exactly one goroutine (the scheduler). After every call
// it is in a consistent state that can be persisted as-is.
package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/infra/iterator"
)

// Option configures a Task.
type Option func(*Task)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Task) { t.now = now }
}

// WithParallelism lets Step materialize up to n cells of a batch concurrently.
func WithParallelism(n int) Option {
	return func(t *Task) {
		if n > 0 {
			t.parallelism = n
		}
	}
}

// Task is one world's generation job.
type Task struct {
	world   string
	runID   string
	shape   domain.Shape
	pattern domain.Pattern
	it      *iterator.Iterator
	mat     domain.Materializer

	status     domain.TaskStatus
	cells      int64 // also the iterator cursor
	activeTime time.Duration
	dirty      bool

	failures int
	lastErr  string
	rate     rateWindow

	now         func() time.Time
	parallelism int
}

// New creates an Active task for a validated selection.
func New(sel domain.Selection, mat domain.Materializer, opts ...Option) (*Task, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	t := newTask(sel, mat, opts)
	t.runID = uuid.New().String()
	t.dirty = true
	return t, nil
}

// FromRecord rebuilds a task from its persisted snapshot. The task comes back
// Paused if it was paused when saved, otherwise Active.
func FromRecord(rec domain.TaskRecord, mat domain.Materializer, opts ...Option) (*Task, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if !rec.Resumable() {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskTerminal, rec.World)
	}
	sel, err := rec.Selection()
	if err != nil {
		return nil, err
	}
	t := newTask(sel, mat, opts)
	t.cells = rec.CellsCompleted
	t.activeTime = time.Duration(rec.TotalActiveMs) * time.Millisecond
	t.runID = rec.RunID
	if t.runID == "" {
		t.runID = uuid.New().String()
		t.dirty = true
	}
	if rec.Paused {
		t.status = domain.TaskPaused
	}
	return t, nil
}

func newTask(sel domain.Selection, mat domain.Materializer, opts []Option) *Task {
	t := &Task{
		world:       sel.World,
		shape:       sel.Shape,
		pattern:     sel.Pattern,
		it:          iterator.New(sel.Shape, sel.Pattern),
		mat:         mat,
		status:      domain.TaskActive,
		now:         time.Now,
		parallelism: 1,
		rate:        newRateWindow(defaultRateWindow),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ─── Accessors ──────────────────────────────────────────────────────────────

func (t *Task) World() string             { return t.world }
func (t *Task) RunID() string             { return t.runID }
func (t *Task) Shape() domain.Shape       { return t.shape }
func (t *Task) Pattern() domain.Pattern   { return t.pattern }
func (t *Task) Status() domain.TaskStatus { return t.status }
func (t *Task) Cursor() int64             { return t.cells }
func (t *Task) CellsCompleted() int64     { return t.cells }
func (t *Task) ActiveTime() time.Duration { return t.activeTime }
func (t *Task) ConsecutiveFailures() int  { return t.failures }
func (t *Task) TotalCells() int64         { return t.it.Total() }
func (t *Task) Dirty() bool               { return t.dirty }
func (t *Task) MarkSaved()                { t.dirty = false }
func (t *Task) IsTerminal() bool          { return t.status.IsTerminal() }

// ─── Transitions ────────────────────────────────────────────────────────────

// Pause stops stepping. No-op if already paused.
func (t *Task) Pause() error {
	switch t.status {
	case domain.TaskPaused:
		return nil
	case domain.TaskActive:
		t.status = domain.TaskPaused
		t.dirty = true
		return nil
	default:
		return domain.ErrTaskTerminal
	}
}

// Resume re-activates a paused task. No-op if already active.
func (t *Task) Resume() error {
	switch t.status {
	case domain.TaskActive:
		return nil
	case domain.TaskPaused:
		t.status = domain.TaskActive
		t.dirty = true
		return nil
	default:
		return domain.ErrTaskTerminal
	}
}

// Cancel ends the task for good. Counters are kept so the record stays
// queryable.
func (t *Task) Cancel() error {
	if t.status.IsTerminal() {
		return domain.ErrTaskTerminal
	}
	t.status = domain.TaskCancelled
	t.dirty = true
	return nil
}

// Step materializes up to batch cells starting at the cursor and returns how
// many were completed. Reaching End marks the task Completed. A materializer
// failure stops the batch at the failed cell, which the next Step retries;
// the task stays Active.
func (t *Task) Step(ctx context.Context, batch int) (int, error) {
	if t.status != domain.TaskActive {
		return 0, domain.ErrTaskNotActive
	}
	if batch < 1 {
		batch = 1
	}

	start := t.now()
	coords := make([]domain.Coord, 0, batch)
	for i := 0; i < batch; i++ {
		c, ok := t.it.Nth(t.cells + int64(i))
		if !ok {
			break
		}
		coords = append(coords, c)
	}

	done, failed, err := t.materialize(ctx, coords)
	elapsed := t.now().Sub(start)

	t.cells += int64(done)
	t.activeTime += elapsed
	if done > 0 {
		t.dirty = true
		t.rate.add(done, elapsed)
	}

	if err != nil {
		t.failures++
		t.lastErr = err.Error()
		return done, fmt.Errorf("%w: %s (%d,%d): %v", domain.ErrMaterialize, t.world, failed.X, failed.Z, err)
	}
	t.failures = 0
	t.lastErr = ""

	if _, ok := t.it.Nth(t.cells); !ok {
		t.status = domain.TaskCompleted
		t.dirty = true
	}
	return done, nil
}

// materialize loads coords in order and returns the length of the successful
// prefix. With parallelism > 1 the cells are requested concurrently but only
// the contiguous prefix before the first failure counts.
func (t *Task) materialize(ctx context.Context, coords []domain.Coord) (int, domain.Coord, error) {
	if t.parallelism <= 1 || len(coords) <= 1 {
		for i, c := range coords {
			if err := t.mat.EnsureLoaded(ctx, t.world, c.X, c.Z); err != nil {
				return i, c, err
			}
		}
		return len(coords), domain.Coord{}, nil
	}

	errs := make([]error, len(coords))
	var g errgroup.Group
	g.SetLimit(t.parallelism)
	for i, c := range coords {
		g.Go(func() error {
			errs[i] = t.mat.EnsureLoaded(ctx, t.world, c.X, c.Z)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			return i, coords[i], err
		}
	}
	return len(coords), domain.Coord{}, nil
}

// ─── Snapshots ──────────────────────────────────────────────────────────────

// Record returns the persisted form of the task.
func (t *Task) Record() domain.TaskRecord {
	rec := domain.TaskRecord{
		World:          t.world,
		CellsCompleted: t.cells,
		TotalActiveMs:  t.activeTime.Milliseconds(),
		Cancelled:      t.status == domain.TaskCancelled,
		Paused:         t.status == domain.TaskPaused,
		Completed:      t.status == domain.TaskCompleted,
		RunID:          t.runID,
		UpdatedAt:      t.now(),
	}
	domain.RecordShape(&rec, t.shape, t.pattern)
	return rec
}

// Progress returns a status view. held is the scheduler's watchdog state.
func (t *Task) Progress(held bool) domain.Progress {
	total := t.it.Total()
	p := domain.Progress{
		World:          t.world,
		RunID:          t.runID,
		Shape:          t.shape.String(),
		Pattern:        t.pattern.String(),
		Status:         t.status,
		Held:           held && t.status == domain.TaskActive,
		CellsCompleted: t.cells,
		TotalCells:     total,
		Rate:           t.rate.perSecond(),
		ActiveTime:     t.activeTime,
		Failures:       t.failures,
		LastError:      t.lastErr,
	}
	if total > 0 {
		p.Percent = 100 * float64(t.cells) / float64(total)
	}
	if p.Rate > 0 && total > t.cells {
		p.ETA = time.Duration(float64(total-t.cells) / p.Rate * float64(time.Second))
	}
	return p
}
