// Package materialize provides the world materializers the scheduler drives:
// an HTTP client for a live host and an in-process synthetic generator.
package materialize

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
)

// ChunkSize is the edge length of one generated cell in blocks.
const ChunkSize = 16

// Biome is the dominant biome of a synthetic chunk.
type Biome string

const (
	BiomePlains Biome = "PLAINS"
	BiomeForest Biome = "FOREST"
	BiomeDesert Biome = "DESERT"
)

// Chunk is the summary the synthetic generator keeps per cell.
type Chunk struct {
	X, Z      int
	Biome     Biome
	MinHeight int
	MaxHeight int
	Checksum  uint64
}

// ErrInjected is returned for cells the synthetic generator was told to fail.
var ErrInjected = errors.New("synthetic failure")

// Synthetic materializes cells with a deterministic hash-based terrain fill.
// It is used for dry runs and tests; failures and per-cell delay can be
// injected.
type Synthetic struct {
	seed       int64
	regionSize int
	delay      time.Duration

	mu      sync.Mutex
	worlds  map[string]map[domain.Coord]Chunk
	failing bool
	failAt  map[domain.Coord]bool
	calls   int64
}

// NewSynthetic creates a generator. delay simulates per-cell work.
func NewSynthetic(seed int64, delay time.Duration) *Synthetic {
	return &Synthetic{
		seed:       seed,
		regionSize: 64,
		delay:      delay,
		worlds:     make(map[string]map[domain.Coord]Chunk),
		failAt:     make(map[domain.Coord]bool),
	}
}

// SetFailing makes every call fail until cleared.
func (s *Synthetic) SetFailing(on bool) {
	s.mu.Lock()
	s.failing = on
	s.mu.Unlock()
}

// FailAt makes calls for one cell fail until called again with fail=false.
func (s *Synthetic) FailAt(x, z int, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := domain.Coord{X: x, Z: z}
	if fail {
		s.failAt[c] = true
	} else {
		delete(s.failAt, c)
	}
}

// EnsureLoaded generates the cell if it does not exist yet.
func (s *Synthetic) EnsureLoaded(ctx context.Context, world string, x, z int) error {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	c := domain.Coord{X: x, Z: z}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing || s.failAt[c] {
		return ErrInjected
	}
	chunks, ok := s.worlds[world]
	if !ok {
		chunks = make(map[domain.Coord]Chunk)
		s.worlds[world] = chunks
	}
	if _, done := chunks[c]; !done {
		chunks[c] = s.generate(x, z)
	}
	return nil
}

// Chunk returns the generated summary of a cell.
func (s *Synthetic) Chunk(world string, x, z int) (Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.worlds[world][domain.Coord{X: x, Z: z}]
	return ch, ok
}

// Generated returns how many distinct cells exist in world.
func (s *Synthetic) Generated(world string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.worlds[world])
}

// Calls returns the number of EnsureLoaded calls, failed ones included.
func (s *Synthetic) Calls() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Synthetic) generate(cx, cz int) Chunk {
	ch := Chunk{X: cx, Z: cz, MinHeight: 1 << 30, MaxHeight: -1 << 30}
	ch.Biome = biomeFrom(hash2(s.seed, floorDiv(cx*ChunkSize, s.regionSize), floorDiv(cz*ChunkSize, s.regionSize)))

	var sum uint64
	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			wx := cx*ChunkSize + x
			wz := cz*ChunkSize + z
			h := heightAt(s.seed, wx, wz, ch.Biome)
			if h < ch.MinHeight {
				ch.MinHeight = h
			}
			if h > ch.MaxHeight {
				ch.MaxHeight = h
			}
			sum = mix64(sum ^ uint64(h))
		}
	}
	ch.Checksum = sum
	return ch
}

// heightAt is a coarse value-noise height: a per-biome base plus jitter
// sampled on an 8-block lattice.
func heightAt(seed int64, x, z int, biome Biome) int {
	base := 64
	switch biome {
	case BiomeForest:
		base = 70
	case BiomeDesert:
		base = 62
	}
	gx, gz := floorDiv(x, 8), floorDiv(z, 8)
	j := hash2(seed+7, gx, gz) % 9
	fine := hash2(seed+11, x, z) % 3
	return base + int(j) + int(fine) - 5
}

func biomeFrom(noise uint64) Biome {
	switch noise % 3 {
	case 0:
		return BiomePlains
	case 1:
		return BiomeForest
	default:
		return BiomeDesert
	}
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
