package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/infra/metrics"
)

// persistRetryInterval is how often a failed background save is retried.
const persistRetryInterval = time.Second

// Persister writes task records off the scheduling goroutine. Only the latest
// pending record per world is kept, so a slow store never builds a backlog.
//
// Every store write happens under writeMu. Flush takes the same lock and
// discards the pending record of its world, so a stale queued record can never
// land after a synchronous final save.
type Persister struct {
	store domain.TaskStore

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]domain.TaskRecord
	kick    chan struct{}

	saves    atomic.Int64
	failures atomic.Int64
}

// NewPersister creates a persister for store.
func NewPersister(store domain.TaskStore) *Persister {
	return &Persister{
		store:   store,
		pending: make(map[string]domain.TaskRecord),
		kick:    make(chan struct{}, 1),
	}
}

// Enqueue schedules rec for a background save, replacing any pending record
// of the same world.
func (p *Persister) Enqueue(rec domain.TaskRecord) {
	p.mu.Lock()
	p.pending[rec.World] = rec
	p.mu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Flush saves rec synchronously and drops any older pending record for its
// world.
func (p *Persister) Flush(rec domain.TaskRecord) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	delete(p.pending, rec.World)
	p.mu.Unlock()

	if err := p.save(rec); err != nil {
		return err
	}
	return nil
}

// Pending returns the number of records waiting to be written.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Run writes pending records until ctx is cancelled. Call in a goroutine.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(persistRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
		case <-ticker.C:
		}
		p.writePending()
	}
}

// Drain writes everything still pending. Failures are logged and dropped.
func (p *Persister) Drain() {
	for _, world := range p.pendingWorlds() {
		p.writeOne(world, false)
	}
}

func (p *Persister) writePending() {
	for _, world := range p.pendingWorlds() {
		p.writeOne(world, true)
	}
}

// writeOne saves the pending record of world. With requeue, a failed record
// goes back into the queue unless a newer one arrived meanwhile.
func (p *Persister) writeOne(world string, requeue bool) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	rec, ok := p.pending[world]
	delete(p.pending, world)
	p.mu.Unlock()
	if !ok {
		return
	}

	if err := p.save(rec); err != nil {
		log.Printf("[persist] WARNING: saving %s: %v", world, err)
		if !requeue {
			return
		}
		p.mu.Lock()
		if _, newer := p.pending[world]; !newer {
			p.pending[world] = rec
		}
		p.mu.Unlock()
	}
}

func (p *Persister) save(rec domain.TaskRecord) error {
	start := time.Now()
	err := p.store.Save(rec)
	metrics.SaveLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		p.failures.Add(1)
		metrics.SaveFailures.Inc()
		return err
	}
	p.saves.Add(1)
	return nil
}

func (p *Persister) pendingWorlds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	worlds := make([]string, 0, len(p.pending))
	for w := range p.pending {
		worlds = append(worlds, w)
	}
	sort.Strings(worlds)
	return worlds
}
