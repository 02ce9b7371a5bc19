// Package watchdog decides from live health readings whether generation
// should hold. A hold is a scheduler-level gate; it never changes task status.
package watchdog

import (
	"log"
	"sort"
	"sync/atomic"

	"github.com/tutu-network/pregen/internal/domain"
)

// Signal is the config of one watchdog.
type Signal struct {
	Enabled   bool    `json:"enabled" toml:"enabled"`
	Threshold float64 `json:"threshold" toml:"threshold"`
}

// Config maps signal keys to their settings.
type Config map[string]Signal

// DefaultConfig returns every known watchdog, disabled.
func DefaultConfig() Config {
	return Config{
		domain.SignalPlayers: {Enabled: false, Threshold: 0},
		domain.SignalTPS:     {Enabled: false, Threshold: 17},
		domain.SignalThermal: {Enabled: false, Threshold: 85},
	}
}

// comparator reports whether a reading asserts a hold at the threshold.
type comparator func(value, threshold float64) bool

var comparators = map[string]comparator{
	// More players online than allowed.
	domain.SignalPlayers: func(v, th float64) bool { return v > th },
	// Server is lagging.
	domain.SignalTPS: func(v, th float64) bool { return v < th },
	// CPU is at or above the limit.
	domain.SignalThermal: func(v, th float64) bool { return v >= th },
}

// Known reports whether key names a watchdog.
func Known(key string) bool {
	_, ok := comparators[key]
	return ok
}

// State is the outcome of one evaluation.
type State struct {
	Holds []string `json:"holds"` // keys asserting a hold, sorted
}

// Holding reports whether any signal asserted a hold.
func (s State) Holding() bool { return len(s.Holds) > 0 }

// Status describes one watchdog for status surfaces.
type Status struct {
	Key       string   `json:"key"`
	Enabled   bool     `json:"enabled"`
	Threshold float64  `json:"threshold"`
	Value     *float64 `json:"value,omitempty"`
	Holding   bool     `json:"holding"`
}

// Watchdog evaluates the configured signals. Config swaps are atomic:
// an evaluation sees the old or the new config as a whole.
type Watchdog struct {
	cfg   atomic.Pointer[Config]
	last  atomic.Pointer[State]
	debug atomic.Bool
}

// New creates a watchdog with cfg. A nil cfg uses DefaultConfig.
func New(cfg Config) *Watchdog {
	w := &Watchdog{}
	w.Reload(cfg)
	w.last.Store(&State{})
	return w
}

// SetDebug toggles logging of signals skipped for lack of a reading.
func (w *Watchdog) SetDebug(on bool) { w.debug.Store(on) }

// Reload replaces the config. Unknown keys are dropped with a warning.
func (w *Watchdog) Reload(cfg Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	next := make(Config, len(cfg))
	for key, sig := range cfg {
		if !Known(key) {
			log.Printf("[watchdog] WARNING: ignoring unknown watchdog %q", key)
			continue
		}
		next[key] = sig
	}
	w.cfg.Store(&next)
}

// Config returns the current config snapshot.
func (w *Watchdog) Config() Config {
	cfg := *w.cfg.Load()
	out := make(Config, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}

// Evaluate computes the hold state from one readings snapshot. A disabled
// signal never holds; an enabled signal without a reading does not hold.
func (w *Watchdog) Evaluate(r domain.Readings) State {
	cfg := *w.cfg.Load()
	var st State
	for key, sig := range cfg {
		if !sig.Enabled {
			continue
		}
		v, ok := r.Get(key)
		if !ok {
			if w.debug.Load() {
				log.Printf("[watchdog] no %s reading, not holding", key)
			}
			continue
		}
		if comparators[key](v, sig.Threshold) {
			st.Holds = append(st.Holds, key)
		}
	}
	sort.Strings(st.Holds)
	w.last.Store(&st)
	return st
}

// Holding reports the outcome of the latest evaluation.
func (w *Watchdog) Holding() bool {
	return w.last.Load().Holding()
}

// Snapshot describes every configured watchdog against the given readings.
func (w *Watchdog) Snapshot(r domain.Readings) []Status {
	cfg := *w.cfg.Load()
	out := make([]Status, 0, len(cfg))
	for key, sig := range cfg {
		s := Status{Key: key, Enabled: sig.Enabled, Threshold: sig.Threshold}
		if v, ok := r.Get(key); ok {
			s.Value = &v
			s.Holding = sig.Enabled && comparators[key](v, sig.Threshold)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
