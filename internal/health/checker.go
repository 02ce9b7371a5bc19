// Package health runs named periodic checks for the daemon: store, data
// directory, host reachability and health signal polling.
package health

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tutu-network/pregen/internal/infra/metrics"
)

// DefaultInterval is how often checks run.
const DefaultInterval = 30 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker over the given checks.
func NewChecker(interval time.Duration, checks ...Check) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Checker{interval: interval, checks: checks}
}

// Add registers another check. Not safe once Run has started.
func (c *Checker) Add(check Check) {
	c.checks = append(c.checks, check)
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check and publishes the results.
func (c *Checker) RunOnce(ctx context.Context) {
	prev := c.Statuses()
	wasHealthy := make(map[string]bool, len(prev))
	for _, s := range prev {
		wasHealthy[s.Name] = s.Healthy
	}

	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{Name: check.Name, CheckedAt: time.Now()}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			if was, seen := wasHealthy[check.Name]; !seen || was {
				log.Printf("[health] WARNING: %s: %v", check.Name, err)
			}
			if check.RecoverFn != nil {
				if rerr := check.RecoverFn(ctx); rerr != nil {
					log.Printf("[health] %s recovery failed: %v", check.Name, rerr)
				}
			}
		} else {
			s.Healthy = true
			if was, seen := wasHealthy[check.Name]; seen && !was {
				log.Printf("[health] %s recovered", check.Name)
			}
		}
		v := 0.0
		if s.Healthy {
			v = 1
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(v)
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// StoreCheck pings the task store.
func StoreCheck(ping func() error) Check {
	return Check{
		Name:    "store",
		CheckFn: func(context.Context) error { return ping() },
	}
}

// DataDirCheck verifies the data directory exists and accepts writes. A
// missing directory is recreated.
func DataDirCheck(dir string) Check {
	return Check{
		Name:    "data_dir",
		CheckFn: func(context.Context) error { return checkWritable(dir) },
		RecoverFn: func(context.Context) error {
			return os.MkdirAll(dir, 0o755)
		},
	}
}

// HostCheck calls the host's ping endpoint.
func HostCheck(ping func(ctx context.Context) error) Check {
	return Check{
		Name: "host",
		CheckFn: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return ping(ctx)
		},
	}
}

// SignalsCheck fails while the last health signal poll failed.
func SignalsCheck(healthy func() bool) Check {
	return Check{
		Name: "signals",
		CheckFn: func(context.Context) error {
			if !healthy() {
				return errors.New("last health signal poll failed")
			}
			return nil
		},
	}
}

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	marker := filepath.Join(dir, ".health-check")
	if err := os.WriteFile(marker, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	return os.Remove(marker)
}
