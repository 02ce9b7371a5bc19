package materialize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/infra/metrics"
)

// Breaker states:
//   - CLOSED    calls pass through; consecutive failures trip it OPEN
//   - OPEN      calls fail fast until ResetTimeout elapses, then HALF_OPEN
//   - HALF_OPEN trial calls reach the host; enough successes close it, one failure reopens it
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets the state render by name in status JSON.
func (s BreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrHostUnavailable is returned without calling the host while the breaker is open.
var ErrHostUnavailable = errors.New("host unavailable: circuit open")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip (default 5)
	ResetTimeout     time.Duration // time OPEN before trial calls (default 30s)
	HalfOpenSuccess  int           // trial successes needed to close (default 3)
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenSuccess:  3,
	}
}

// BreakerSnapshot is a point-in-time view of a Breaker.
type BreakerSnapshot struct {
	State      BreakerState `json:"state"`
	Failures   int          `json:"failures"`
	TotalTrips int          `json:"total_trips"`
	TrippedAt  time.Time    `json:"tripped_at,omitempty"`
}

// Breaker wraps a materializer so a host that keeps failing is not asked
// for every cell of every task. Rejected calls are ordinary failures to the
// scheduler, which backs the world off as usual.
type Breaker struct {
	next domain.Materializer
	cfg  BreakerConfig

	mu         sync.Mutex
	state      BreakerState
	failures   int
	successes  int
	trippedAt  time.Time
	totalTrips int
	now        func() time.Time
}

var _ domain.Materializer = (*Breaker)(nil)

// NewBreaker wraps next.
func NewBreaker(next domain.Materializer, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenSuccess <= 0 {
		cfg.HalfOpenSuccess = def.HalfOpenSuccess
	}
	metrics.HostBreakerState.Set(float64(BreakerClosed))
	return &Breaker{next: next, cfg: cfg, now: time.Now}
}

// EnsureLoaded forwards to the wrapped materializer unless the circuit is open.
func (b *Breaker) EnsureLoaded(ctx context.Context, world string, x, z int) error {
	if err := b.allow(); err != nil {
		return fmt.Errorf("chunk %d,%d: %w", x, z, err)
	}
	err := b.next.EnsureLoaded(ctx, world, x, z)
	switch {
	case err == nil:
		b.recordSuccess()
	case ctx.Err() != nil:
		// Shutdown or cancellation says nothing about the host.
	default:
		b.recordFailure()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	return b.state
}

// Snapshot returns the current counters.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	return BreakerSnapshot{
		State:      b.state,
		Failures:   b.failures,
		TotalTrips: b.totalTrips,
		TrippedAt:  b.trippedAt,
	}
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(BreakerClosed)
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	if b.state == BreakerOpen {
		return ErrHostUnavailable
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenSuccess {
			log.Printf("[breaker] host recovered, circuit closed")
			b.setLocked(BreakerClosed)
			b.failures = 0
			b.successes = 0
		}
	case BreakerClosed:
		b.failures = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.tripLocked()
		}
	case BreakerHalfOpen:
		b.tripLocked()
	}
}

func (b *Breaker) tripLocked() {
	b.trippedAt = b.now()
	b.totalTrips++
	b.setLocked(BreakerOpen)
	log.Printf("[breaker] WARNING: host failing (%d consecutive), circuit open for %s",
		b.failures, b.cfg.ResetTimeout)
}

func (b *Breaker) expireLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.trippedAt) >= b.cfg.ResetTimeout {
		b.setLocked(BreakerHalfOpen)
		b.successes = 0
	}
}

func (b *Breaker) setLocked(s BreakerState) {
	b.state = s
	metrics.HostBreakerState.Set(float64(s))
}
