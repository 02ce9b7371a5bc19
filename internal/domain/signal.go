package domain

import (
	"sort"
	"time"
)

// Signal keys understood by the watchdog.
const (
	SignalPlayers = "players"
	SignalTPS     = "tps"
	SignalThermal = "thermal"
)

// Readings is one consistent set of health measurements.
// It is treated as immutable once published.
type Readings struct {
	Values  map[string]float64 `json:"values"`
	TakenAt time.Time          `json:"taken_at"`
}

// NewReadings copies values into a fresh snapshot.
func NewReadings(values map[string]float64, at time.Time) Readings {
	cp := make(map[string]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Readings{Values: cp, TakenAt: at}
}

// Get returns the reading for a key and whether it was measured.
func (r Readings) Get(key string) (float64, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// Keys returns the measured keys in sorted order.
func (r Readings) Keys() []string {
	keys := make([]string, 0, len(r.Values))
	for k := range r.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a new snapshot with other's values layered on top.
func (r Readings) Merge(other Readings) Readings {
	out := NewReadings(r.Values, r.TakenAt)
	for k, v := range other.Values {
		out.Values[k] = v
	}
	if other.TakenAt.After(out.TakenAt) {
		out.TakenAt = other.TakenAt
	}
	return out
}
