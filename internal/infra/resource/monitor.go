// Package resource gathers the health signals the watchdog acts on.
package resource

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
)

// MonitorConfig controls monitor behavior.
type MonitorConfig struct {
	PollTimeout time.Duration // upper bound on one poll, and so on one tick's wait
}

// DefaultMonitorConfig returns safe defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollTimeout: time.Second,
	}
}

// Monitor polls a signal source when asked and publishes the latest readings
// as one value. The scheduler calls Refresh at the start of every tick, so the
// readings a tick evaluates are never older than that tick. Other readers
// (API, health) only copy the last snapshot.
type Monitor struct {
	mu       sync.RWMutex
	source   domain.SignalSource
	config   MonitorConfig
	readings domain.Readings
	failing  bool
}

// NewMonitor creates a monitor for source.
func NewMonitor(source domain.SignalSource, cfg MonitorConfig) *Monitor {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultMonitorConfig().PollTimeout
	}
	return &Monitor{
		source:   source,
		config:   cfg,
		readings: domain.NewReadings(nil, time.Time{}),
	}
}

// Readings returns the latest published snapshot (thread-safe).
func (m *Monitor) Readings() domain.Readings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readings
}

// Healthy reports whether the last poll succeeded.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.failing
}

// Refresh polls the source once and publishes the result. A failed poll
// publishes an empty snapshot so that stale values cannot keep a hold alive.
func (m *Monitor) Refresh(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.config.PollTimeout)
	defer cancel()

	r, err := m.source.Poll(pctx)
	if err != nil {
		r = domain.NewReadings(nil, time.Now())
	}

	m.mu.Lock()
	wasFailing := m.failing
	m.failing = err != nil
	m.readings = r
	m.mu.Unlock()

	switch {
	case err != nil && !wasFailing:
		log.Printf("[monitor] WARNING: health poll failed: %v", err)
	case err == nil && wasFailing:
		log.Printf("[monitor] health poll recovered")
	}
}
