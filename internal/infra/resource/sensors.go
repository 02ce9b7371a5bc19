package resource

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
)

// sensorTimeout bounds one background sensor read. Shelling out to
// powershell or osx-cpu-temp routinely takes over a second on a cold start.
const sensorTimeout = 15 * time.Second

// SensorSource reads the local CPU temperature and publishes it as the
// thermal signal. Platforms without a readable sensor report nothing, which
// the watchdog treats as "no hold".
//
// Where reading the sensor means starting a process, Poll never waits for
// it: a background read refreshes a cached value at most every refresh
// interval and Poll returns the latest one.
type SensorSource struct {
	read    func(ctx context.Context) (float64, bool)
	refresh time.Duration // 0 reads inline on every poll
	now     func() time.Time

	mu       sync.Mutex
	celsius  float64
	ok       bool
	readAt   time.Time
	inflight bool
}

// NewSensorSource creates a source backed by the platform sensor.
func NewSensorSource() *SensorSource {
	return &SensorSource{read: readCPUTemp, refresh: sensorRefresh, now: time.Now}
}

// Poll returns the current CPU temperature in Celsius.
func (s *SensorSource) Poll(ctx context.Context) (domain.Readings, error) {
	if err := ctx.Err(); err != nil {
		return domain.Readings{}, err
	}
	values := map[string]float64{}
	var c float64
	var ok bool
	if s.refresh <= 0 {
		c, ok = s.read(ctx)
	} else {
		c, ok = s.cached()
	}
	if ok && plausibleCelsius(c) {
		values[domain.SignalThermal] = c
	}
	return domain.NewReadings(values, time.Now()), nil
}

// cached returns the last background reading and starts a new read once the
// previous one is older than the refresh interval. A reading older than
// three intervals is dropped.
func (s *SensorSource) cached() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.inflight && now.Sub(s.readAt) >= s.refresh {
		s.inflight = true
		go s.readInBackground()
	}
	if !s.ok || now.Sub(s.readAt) > 3*s.refresh {
		return 0, false
	}
	return s.celsius, true
}

func (s *SensorSource) readInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), sensorTimeout)
	defer cancel()
	c, ok := s.read(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok && s.ok {
		log.Printf("[sensors] WARNING: CPU temperature unavailable")
	}
	s.celsius, s.ok = c, ok
	s.readAt = s.now()
	s.inflight = false
}

// plausibleCelsius filters sensor garbage such as unpopulated zones.
func plausibleCelsius(c float64) bool {
	return c > 0 && c < 150
}
