// Package scheduler drives every generation task from a single goroutine.
//
// Each tick:
//   - applies queued commands (start, pause, continue, cancel)
//   - re-polls the health readings and evaluates the watchdogs on them
//   - steps every active task unless a watchdog holds or its backoff runs
//   - flushes terminal tasks and only then forgets them
//   - hands the records of changed tasks to the background persister
//   - publishes a read-only snapshot for API readers
//
// API goroutines never touch a task; they enqueue commands and read snapshots.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tutu-network/pregen/internal/app/generation"
	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/infra/metrics"
	"github.com/tutu-network/pregen/internal/infra/watchdog"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the scheduler.
type Config struct {
	TickInterval      time.Duration // default 50ms
	BatchSize         int           // cells per task per tick (default 16)
	Parallelism       int           // concurrent cells within a batch (default 1)
	ContinueOnRestart bool          // restored tasks come back active (default false)
	RetryBaseDelay    time.Duration // first backoff after a failure (default 1s)
	RetryMaxDelay     time.Duration // backoff cap (default 60s)
	ProgressInterval  time.Duration // progress log period per task (default 30s)
	Quiet             bool          // suppress progress logging
}

// DefaultConfig returns production scheduler defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:     50 * time.Millisecond,
		BatchSize:        16,
		Parallelism:      1,
		RetryBaseDelay:   time.Second,
		RetryMaxDelay:    60 * time.Second,
		ProgressInterval: 30 * time.Second,
	}
}

// Deps are the collaborators the scheduler drives.
type Deps struct {
	Store        domain.TaskStore
	Materializer domain.Materializer
	Watchdog     *watchdog.Watchdog
	Readings     func() domain.Readings    // latest published health readings
	Refresh      func(ctx context.Context) // optional, re-polls the readings at the start of every tick
	Overlay      domain.MapOverlay         // optional
	Now          func() time.Time          // optional, for tests
}

// ─── Commands ───────────────────────────────────────────────────────────────

type commandKind int

const (
	cmdStart commandKind = iota
	cmdPause
	cmdResume
	cmdCancel
)

func (k commandKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdPause:
		return "pause"
	case cmdResume:
		return "continue"
	case cmdCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

type command struct {
	kind  commandKind
	world string
	sel   domain.Selection
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Stats holds scheduler statistics.
type Stats struct {
	Tasks          int      `json:"tasks"`
	Active         int      `json:"active"`
	Holding        bool     `json:"holding"`
	Holds          []string `json:"holds"`
	Ticks          int64    `json:"ticks"`
	HeldTicks      int64    `json:"held_ticks"`
	CellsGenerated int64    `json:"cells_generated"`
	Failures       int64    `json:"failures"`
	PendingRetries int      `json:"pending_retries"`
	PendingSaves   int      `json:"pending_saves"`
}

type entry struct {
	task      *generation.Task
	lastLog   time.Time
	lastCells int64
}

// Scheduler owns every live generation task.
type Scheduler struct {
	config    Config
	deps      Deps
	persister *Persister

	// Owned by the scheduling goroutine.
	tasks   map[string]*entry
	retries *retryBook
	holding bool

	// Command queue and the set of worlds with a live or queued task.
	mu       sync.Mutex
	commands []command
	known    map[string]bool

	// Published snapshot.
	snapMu   sync.RWMutex
	snapshot []domain.Progress
	holds    []string

	ticks          atomic.Int64
	heldTicks      atomic.Int64
	cellsGenerated atomic.Int64
	failures       atomic.Int64
}

// New creates a scheduler. Call Restore before Run to pick up saved tasks.
func New(cfg Config, deps Deps) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if deps.Overlay == nil {
		deps.Overlay = domain.NopOverlay{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Watchdog == nil {
		deps.Watchdog = watchdog.New(nil)
	}
	if deps.Readings == nil {
		deps.Readings = func() domain.Readings { return domain.Readings{} }
	}
	return &Scheduler{
		config:    cfg,
		deps:      deps,
		persister: NewPersister(deps.Store),
		tasks:     make(map[string]*entry),
		retries:   newRetryBook(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		known:     make(map[string]bool),
	}
}

// Persister returns the background record writer. The caller runs it.
func (s *Scheduler) Persister() *Persister { return s.persister }

// ─── Public Commands ────────────────────────────────────────────────────────

// Start queues a new task. It fails with ErrTaskExists if the world already
// has a live task.
func (s *Scheduler) Start(sel domain.Selection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known[sel.World] {
		return fmt.Errorf("%w: %s", domain.ErrTaskExists, sel.World)
	}
	s.known[sel.World] = true
	s.commands = append(s.commands, command{kind: cmdStart, world: sel.World, sel: sel})
	return nil
}

// Pause queues a pause. Applied at the next tick.
func (s *Scheduler) Pause(world string) error { return s.enqueue(cmdPause, world) }

// Resume queues a continue. Applied at the next tick.
func (s *Scheduler) Resume(world string) error { return s.enqueue(cmdResume, world) }

// Cancel queues a cancel. The task stops at the next tick boundary.
func (s *Scheduler) Cancel(world string) error { return s.enqueue(cmdCancel, world) }

func (s *Scheduler) enqueue(kind commandKind, world string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known[world] {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, world)
	}
	s.commands = append(s.commands, command{kind: kind, world: world})
	return nil
}

// ─── Restore ────────────────────────────────────────────────────────────────

// Restore rebuilds every resumable task from the store. Unless
// ContinueOnRestart is set, restored tasks come back paused.
func (s *Scheduler) Restore() (int, error) {
	recs, err := s.deps.Store.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("load task records: %w", err)
	}
	restored := 0
	for _, rec := range recs {
		if _, exists := s.tasks[rec.World]; exists {
			continue
		}
		task, err := generation.FromRecord(rec, s.deps.Materializer, s.taskOptions()...)
		if err != nil {
			log.Printf("[scheduler] WARNING: cannot restore %s: %v", rec.World, err)
			continue
		}
		if !s.config.ContinueOnRestart {
			task.Pause()
		}
		s.mu.Lock()
		s.known[rec.World] = true
		s.mu.Unlock()
		s.tasks[rec.World] = &entry{task: task, lastCells: task.CellsCompleted(), lastLog: s.deps.Now()}
		s.deps.Overlay.AddShapeMarker(rec.World, task.Shape())
		log.Printf("[scheduler] restored %s (%s, %s) at %d/%d cells, %s",
			rec.World, task.Shape(), task.Pattern(), task.CellsCompleted(), task.TotalCells(),
			task.Status())
		restored++
	}
	s.publish()
	return restored, nil
}

// ─── Tick Loop ──────────────────────────────────────────────────────────────

// Run ticks until ctx is cancelled. Call in a goroutine, then Shutdown.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling round. Only the scheduling goroutine calls it.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()
	s.ticks.Add(1)

	s.applyCommands()

	if s.deps.Refresh != nil {
		s.deps.Refresh(ctx)
	}
	state := s.deps.Watchdog.Evaluate(s.deps.Readings())
	s.noteHolds(state)

	if !state.Holding() {
		for _, world := range s.worlds() {
			if ctx.Err() != nil {
				break
			}
			s.stepOne(ctx, world)
		}
	} else {
		s.heldTicks.Add(1)
		metrics.HeldTicks.Inc()
	}

	s.finishTerminal()
	s.persistDirty()
	s.publish()
}

// Shutdown saves every live task synchronously and drains the persister.
// Run must have returned.
func (s *Scheduler) Shutdown() {
	s.applyCommands()
	s.finishTerminal()
	for _, world := range s.worlds() {
		e := s.tasks[world]
		if err := s.persister.Flush(e.task.Record()); err != nil {
			log.Printf("[scheduler] WARNING: final save of %s failed: %v", world, err)
			continue
		}
		e.task.MarkSaved()
	}
	s.persister.Drain()
	s.deps.Overlay.RemoveAllShapeMarkers()
	log.Printf("[scheduler] stopped with %d tasks saved", len(s.tasks))
}

func (s *Scheduler) applyCommands() {
	s.mu.Lock()
	cmds := s.commands
	s.commands = nil
	s.mu.Unlock()

	for _, c := range cmds {
		if err := s.apply(c); err != nil {
			log.Printf("[scheduler] %s %s: %v", c.kind, c.world, err)
		}
	}
}

func (s *Scheduler) apply(c command) error {
	if c.kind == cmdStart {
		task, err := generation.New(c.sel, s.deps.Materializer, s.taskOptions()...)
		if err != nil {
			s.forget(c.world)
			return err
		}
		s.tasks[c.world] = &entry{task: task, lastLog: s.deps.Now()}
		s.retries.clear(c.world)
		s.deps.Overlay.AddShapeMarker(c.world, task.Shape())
		log.Printf("[scheduler] started %s: %s, %s, %d cells", c.world, task.Shape(), task.Pattern(), task.TotalCells())
		return nil
	}

	e, ok := s.tasks[c.world]
	if !ok {
		return domain.ErrTaskNotFound
	}
	var err error
	switch c.kind {
	case cmdPause:
		err = e.task.Pause()
	case cmdResume:
		err = e.task.Resume()
		s.retries.clear(c.world)
	case cmdCancel:
		err = e.task.Cancel()
	}
	if err == nil {
		log.Printf("[scheduler] %s %s at %d/%d cells", c.kind, c.world, e.task.CellsCompleted(), e.task.TotalCells())
	}
	return err
}

func (s *Scheduler) stepOne(ctx context.Context, world string) {
	e := s.tasks[world]
	if e.task.Status() != domain.TaskActive {
		return
	}
	now := s.deps.Now()
	if !s.retries.ready(world, now) {
		return
	}

	n, err := s.safeStep(ctx, e.task)
	if n > 0 {
		s.cellsGenerated.Add(int64(n))
		metrics.CellsGenerated.WithLabelValues(world).Add(float64(n))
	}
	if err != nil {
		s.failures.Add(1)
		metrics.MaterializeFailures.WithLabelValues(world).Inc()
		delay := s.retries.fail(world, now, err)
		log.Printf("[scheduler] WARNING: %s: %v (attempt %d, retry in %s)",
			world, err, e.task.ConsecutiveFailures(), delay)
		return
	}
	s.retries.clear(world)
	s.logProgress(world, e, now)
}

// safeStep runs one Step and turns a panic into an error.
func (s *Scheduler) safeStep(ctx context.Context, task *generation.Task) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while stepping: %v", r)
		}
	}()
	return task.Step(ctx, s.config.BatchSize)
}

func (s *Scheduler) logProgress(world string, e *entry, now time.Time) {
	if s.config.Quiet || s.config.ProgressInterval <= 0 {
		return
	}
	if now.Sub(e.lastLog) < s.config.ProgressInterval || e.task.CellsCompleted() == e.lastCells {
		return
	}
	p := e.task.Progress(false)
	log.Printf("[scheduler] %s: %d/%d cells (%.1f%%), %.1f cells/s, ETA %s",
		world, p.CellsCompleted, p.TotalCells, p.Percent, p.Rate, p.ETA.Round(time.Second))
	e.lastLog = now
	e.lastCells = p.CellsCompleted
}

// finishTerminal writes the final record of every completed or cancelled
// task and forgets the task only once that write succeeded.
func (s *Scheduler) finishTerminal() {
	for _, world := range s.worlds() {
		e := s.tasks[world]
		if !e.task.IsTerminal() {
			continue
		}
		if err := s.persister.Flush(e.task.Record()); err != nil {
			log.Printf("[scheduler] WARNING: final save of %s failed, retrying next tick: %v", world, err)
			continue
		}
		status := e.task.Status()
		delete(s.tasks, world)
		s.retries.clear(world)
		s.forget(world)
		s.deps.Overlay.RemoveShapeMarker(world)
		metrics.TaskProgress.DeleteLabelValues(world)

		switch status {
		case domain.TaskCompleted:
			metrics.TasksFinished.WithLabelValues("completed").Inc()
			log.Printf("[scheduler] %s: generation completed, %d cells in %s",
				world, e.task.CellsCompleted(), e.task.ActiveTime().Round(time.Millisecond))
		case domain.TaskCancelled:
			metrics.TasksFinished.WithLabelValues("cancelled").Inc()
			log.Printf("[scheduler] %s: generation cancelled at %d/%d cells",
				world, e.task.CellsCompleted(), e.task.TotalCells())
		}
	}
}

func (s *Scheduler) persistDirty() {
	for _, world := range s.worlds() {
		e := s.tasks[world]
		if e.task.Dirty() {
			s.persister.Enqueue(e.task.Record())
			e.task.MarkSaved()
		}
	}
}

func (s *Scheduler) noteHolds(state watchdog.State) {
	holding := state.Holding()
	if holding != s.holding {
		if holding {
			log.Printf("[scheduler] generation held by watchdog: %v", state.Holds)
		} else {
			log.Printf("[scheduler] watchdog released, generation continues")
		}
		s.holding = holding
	}
	held := make(map[string]bool, len(state.Holds))
	for _, k := range state.Holds {
		held[k] = true
	}
	for key := range s.deps.Watchdog.Config() {
		v := 0.0
		if held[key] {
			v = 1
		}
		metrics.WatchdogHolding.WithLabelValues(key).Set(v)
	}

	s.snapMu.Lock()
	s.holds = append([]string(nil), state.Holds...)
	s.snapMu.Unlock()
}

func (s *Scheduler) publish() {
	snap := make([]domain.Progress, 0, len(s.tasks))
	active := 0
	for _, world := range s.worlds() {
		t := s.tasks[world].task
		p := t.Progress(s.holding)
		snap = append(snap, p)
		if p.Status == domain.TaskActive {
			active++
		}
		if p.TotalCells > 0 {
			metrics.TaskProgress.WithLabelValues(world).Set(float64(p.CellsCompleted) / float64(p.TotalCells))
		}
	}
	metrics.TasksActive.Set(float64(active))

	s.snapMu.Lock()
	s.snapshot = snap
	s.snapMu.Unlock()
}

func (s *Scheduler) taskOptions() []generation.Option {
	return []generation.Option{
		generation.WithClock(s.deps.Now),
		generation.WithParallelism(s.config.Parallelism),
	}
}

func (s *Scheduler) forget(world string) {
	s.mu.Lock()
	delete(s.known, world)
	s.mu.Unlock()
}

// worlds returns the live worlds in a stable order.
func (s *Scheduler) worlds() []string {
	out := make([]string, 0, len(s.tasks))
	for w := range s.tasks {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// ─── Stats & Inspection ─────────────────────────────────────────────────────

// Snapshot returns the progress of every live task as of the last tick.
func (s *Scheduler) Snapshot() []domain.Progress {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return append([]domain.Progress(nil), s.snapshot...)
}

// Progress returns one world's progress as of the last tick.
func (s *Scheduler) Progress(world string) (domain.Progress, error) {
	for _, p := range s.Snapshot() {
		if p.World == world {
			return p, nil
		}
	}
	return domain.Progress{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, world)
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.snapMu.RLock()
	snap := s.snapshot
	holds := append([]string(nil), s.holds...)
	s.snapMu.RUnlock()

	active := 0
	retrying := 0
	for _, p := range snap {
		if p.Status == domain.TaskActive {
			active++
		}
		if p.Failures > 0 {
			retrying++
		}
	}
	return Stats{
		Tasks:          len(snap),
		Active:         active,
		Holding:        len(holds) > 0,
		Holds:          holds,
		Ticks:          s.ticks.Load(),
		HeldTicks:      s.heldTicks.Load(),
		CellsGenerated: s.cellsGenerated.Load(),
		Failures:       s.failures.Load(),
		PendingRetries: retrying,
		PendingSaves:   s.persister.Pending(),
	}
}
