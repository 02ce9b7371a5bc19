package resource

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
)

// StaticSource returns fixed values that can be changed at runtime.
// Used for dry runs and tests.
type StaticSource struct {
	mu     sync.RWMutex
	values map[string]float64
	err    error
}

// NewStaticSource creates a source that always reports values.
func NewStaticSource(values map[string]float64) *StaticSource {
	s := &StaticSource{}
	s.Set(values)
	return s
}

// Set replaces the reported values.
func (s *StaticSource) Set(values map[string]float64) {
	cp := make(map[string]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	s.mu.Lock()
	s.values = cp
	s.mu.Unlock()
}

// Fail makes the next polls return err. A nil err clears it.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Poll returns the configured values.
func (s *StaticSource) Poll(context.Context) (domain.Readings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return domain.Readings{}, s.err
	}
	return domain.NewReadings(s.values, time.Now()), nil
}

// MultiSource merges several sources into one snapshot. Later sources win on
// key collisions. A failing source contributes nothing; Poll fails only when
// every source failed.
type MultiSource struct {
	sources []domain.SignalSource
}

// NewMultiSource combines sources.
func NewMultiSource(sources ...domain.SignalSource) *MultiSource {
	return &MultiSource{sources: sources}
}

// Poll polls every source in order.
func (m *MultiSource) Poll(ctx context.Context) (domain.Readings, error) {
	out := domain.NewReadings(nil, time.Time{})
	var errs []error
	for _, src := range m.sources {
		r, err := src.Poll(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = out.Merge(r)
	}
	if len(m.sources) > 0 && len(errs) == len(m.sources) {
		return domain.Readings{}, errors.Join(append([]error{domain.ErrNoReadings}, errs...)...)
	}
	if out.TakenAt.IsZero() {
		out.TakenAt = time.Now()
	}
	return out, nil
}
