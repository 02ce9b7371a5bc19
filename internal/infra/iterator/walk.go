// Package iterator enumerates the cells of a Shape in a deterministic order.
//
// Every pattern is a closed-form "raw walk": a function from an index k to a
// coordinate over a finite superset of the shape's bounding box. The emitted
// sequence is the raw walk filtered by Shape.Contains, so the n-th emitted cell
// is a pure function of (shape, pattern, n). A persisted cursor is therefore
// enough to resume exactly where a crashed process stopped.
package iterator

import (
	"math"

	"github.com/tutu-network/pregen/internal/domain"
)

// RegionSize is the edge length of one region block for PatternRegion.
const RegionSize = 32

// walk is the unfiltered enumeration behind a pattern.
type walk interface {
	size() int64
	at(k int64) domain.Coord
}

// newWalk selects the raw walk for a pattern. Adding a pattern means adding a
// case here; the default branch is unreachable for validated patterns.
func newWalk(shape domain.Shape, pattern domain.Pattern) walk {
	box := shape.BoundingBox()
	switch pattern {
	case domain.PatternLoop:
		return loopWalk{box: box}
	case domain.PatternConcentric:
		return ringWalk{cx: shape.CenterX, cz: shape.CenterZ, r: maxInt(shape.RadiusX, shape.RadiusZ)}
	case domain.PatternSpiral:
		return ringWalk{cx: shape.CenterX, cz: shape.CenterZ, r: maxInt(shape.RadiusX, shape.RadiusZ), spiral: true}
	case domain.PatternRegion:
		return newRegionWalk(box)
	default:
		return loopWalk{box: box}
	}
}

// ─── Row-major ──────────────────────────────────────────────────────────────

type loopWalk struct {
	box domain.Box
}

func (w loopWalk) size() int64 {
	return int64(w.box.Width()) * int64(w.box.Height())
}

func (w loopWalk) at(k int64) domain.Coord {
	width := int64(w.box.Width())
	return domain.Coord{
		X: w.box.MinX + int(k%width),
		Z: w.box.MinZ + int(k/width),
	}
}

// ─── Rings ──────────────────────────────────────────────────────────────────

// ringWalk covers the square [c-r, c+r]^2 ring by ring. Ring m has 8m cells
// and starts at index (2m-1)^2.
//
// Concentric rings start at the north-west corner and run clockwise: east
// along the north edge, south along the east edge, west along the south edge,
// north along the west edge.
//
// The spiral is the continuous clockwise spiral with legs E1 S1 W2 N2 E3 ...
// Its ring m starts one step east of where ring m-1 ended, at (m, -(m-1)).
type ringWalk struct {
	cx, cz int
	r      int
	spiral bool
}

func (w ringWalk) size() int64 {
	side := int64(2*w.r + 1)
	return side * side
}

func (w ringWalk) at(k int64) domain.Coord {
	if k == 0 {
		return domain.Coord{X: w.cx, Z: w.cz}
	}
	m := (isqrt(k) + 1) / 2
	inner := 2*m - 1
	t := k - inner*inner
	leg := 2 * m
	seg, i := t/leg, t%leg

	r := int(m)
	d := int(i)
	var dx, dz int
	if w.spiral {
		switch seg {
		case 0:
			dx, dz = r, -(r-1)+d
		case 1:
			dx, dz = r-1-d, r
		case 2:
			dx, dz = -r, r-1-d
		default:
			dx, dz = -r+1+d, -r
		}
	} else {
		switch seg {
		case 0:
			dx, dz = -r+d, -r
		case 1:
			dx, dz = r, -r+d
		case 2:
			dx, dz = r-d, r
		default:
			dx, dz = -r, r-d
		}
	}
	return domain.Coord{X: w.cx + dx, Z: w.cz + dz}
}

// ─── Region blocks ──────────────────────────────────────────────────────────

type regionWalk struct {
	rx0, rz0 int
	nx, nz   int
}

func newRegionWalk(box domain.Box) regionWalk {
	rx0 := floorDiv(box.MinX, RegionSize)
	rz0 := floorDiv(box.MinZ, RegionSize)
	return regionWalk{
		rx0: rx0,
		rz0: rz0,
		nx:  floorDiv(box.MaxX, RegionSize) - rx0 + 1,
		nz:  floorDiv(box.MaxZ, RegionSize) - rz0 + 1,
	}
}

func (w regionWalk) size() int64 {
	return int64(w.nx) * int64(w.nz) * RegionSize * RegionSize
}

func (w regionWalk) at(k int64) domain.Coord {
	const cells = RegionSize * RegionSize
	reg, within := k/cells, k%cells
	regX := w.rx0 + int(reg%int64(w.nx))
	regZ := w.rz0 + int(reg/int64(w.nx))
	return domain.Coord{
		X: regX*RegionSize + int(within%RegionSize),
		Z: regZ*RegionSize + int(within/RegionSize),
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// isqrt returns floor(sqrt(n)) for n >= 0.
func isqrt(n int64) int64 {
	if n < 2 {
		return n
	}
	x := int64(math.Sqrt(float64(n)))
	for x*x > n {
		x--
	}
	for (x+1)*(x+1) <= n {
		x++
	}
	return x
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
