package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
)

func readings(values map[string]float64) domain.Readings {
	return domain.NewReadings(values, time.Now())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		key       string
		threshold float64
	}{
		{domain.SignalPlayers, 0},
		{domain.SignalTPS, 17},
		{domain.SignalThermal, 85},
	}
	for _, tt := range tests {
		sig, ok := cfg[tt.key]
		if !ok {
			t.Errorf("missing default for %s", tt.key)
			continue
		}
		if sig.Enabled {
			t.Errorf("%s enabled by default", tt.key)
		}
		if sig.Threshold != tt.threshold {
			t.Errorf("%s threshold = %v, want %v", tt.key, sig.Threshold, tt.threshold)
		}
	}
}

func TestEvaluate_Comparators(t *testing.T) {
	w := New(Config{
		domain.SignalPlayers: {Enabled: true, Threshold: 0},
		domain.SignalTPS:     {Enabled: true, Threshold: 17},
		domain.SignalThermal: {Enabled: true, Threshold: 85},
	})
	tests := []struct {
		name   string
		values map[string]float64
		holds  []string
	}{
		{"all fine", map[string]float64{"players": 0, "tps": 20, "thermal": 60}, nil},
		{"one player", map[string]float64{"players": 1, "tps": 20}, []string{"players"}},
		{"lag", map[string]float64{"players": 0, "tps": 16.9}, []string{"tps"}},
		{"tps at threshold", map[string]float64{"tps": 17}, nil},
		{"hot at threshold", map[string]float64{"thermal": 85}, []string{"thermal"}},
		{"everything", map[string]float64{"players": 3, "tps": 5, "thermal": 99}, []string{"players", "thermal", "tps"}},
		{"no readings", map[string]float64{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := w.Evaluate(readings(tt.values))
			if len(st.Holds) != len(tt.holds) {
				t.Fatalf("Holds = %v, want %v", st.Holds, tt.holds)
			}
			for i := range st.Holds {
				if st.Holds[i] != tt.holds[i] {
					t.Errorf("Holds = %v, want %v", st.Holds, tt.holds)
				}
			}
			if w.Holding() != (len(tt.holds) > 0) {
				t.Errorf("Holding() = %v", w.Holding())
			}
		})
	}
}

func TestEvaluate_DisabledNeverHolds(t *testing.T) {
	w := New(nil)
	st := w.Evaluate(readings(map[string]float64{"players": 50, "tps": 1, "thermal": 120}))
	if st.Holding() {
		t.Errorf("default config holds: %v", st.Holds)
	}
}

func TestReload_SwapsAndDropsUnknown(t *testing.T) {
	w := New(nil)
	r := readings(map[string]float64{"tps": 10})
	if w.Evaluate(r).Holding() {
		t.Fatal("should not hold before reload")
	}

	w.Reload(Config{
		domain.SignalTPS: {Enabled: true, Threshold: 17},
		"moon_phase":     {Enabled: true, Threshold: 1},
	})
	if !w.Evaluate(r).Holding() {
		t.Error("should hold after enabling tps")
	}
	if _, ok := w.Config()["moon_phase"]; ok {
		t.Error("unknown key should be dropped")
	}

	w.Reload(Config{domain.SignalTPS: {Enabled: false, Threshold: 17}})
	if w.Evaluate(r).Holding() {
		t.Error("should release after disabling tps")
	}
}

func TestReload_ConcurrentWithEvaluate(t *testing.T) {
	w := New(nil)
	r := readings(map[string]float64{"players": 2})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			w.Reload(Config{domain.SignalPlayers: {Enabled: i%2 == 0, Threshold: 0}})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			w.Evaluate(r)
		}
	}()
	wg.Wait()
}

func TestSnapshot(t *testing.T) {
	w := New(Config{
		domain.SignalPlayers: {Enabled: true, Threshold: 0},
		domain.SignalTPS:     {Enabled: false, Threshold: 17},
	})
	got := w.Snapshot(readings(map[string]float64{"players": 4, "tps": 3}))
	if len(got) != 2 {
		t.Fatalf("Snapshot len = %d, want 2", len(got))
	}
	if got[0].Key != "players" || !got[0].Holding || got[0].Value == nil || *got[0].Value != 4 {
		t.Errorf("players status = %+v", got[0])
	}
	if got[1].Key != "tps" || got[1].Holding {
		t.Errorf("disabled tps should not hold: %+v", got[1])
	}
}
