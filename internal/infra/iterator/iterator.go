package iterator

import (
	"math"
	"sort"

	"github.com/tutu-network/pregen/internal/domain"
)

// checkpointStride is the number of in-shape cells between two memoized raw
// positions. Random access costs at most one stride of scanning.
const checkpointStride = 1024

// NthCoordinate returns the n-th (0-based) in-shape cell of the pattern's
// traversal, or false once n reaches the number of in-shape cells.
// It keeps no state between calls.
func NthCoordinate(shape domain.Shape, pattern domain.Pattern, n int64) (domain.Coord, bool) {
	return New(shape, pattern).Nth(n)
}

// Iterator answers Nth queries for one (shape, pattern) pair. It memoizes a
// sparse index of raw positions and the last answer so that sequential access
// is amortized O(1). The memo never changes the answers.
//
// An Iterator is not safe for concurrent use; each generation task owns one.
type Iterator struct {
	shape   domain.Shape
	pattern domain.Pattern
	walk    walk
	size    int64
	dense   bool // every raw cell is in the shape

	checkpoints []int64 // raw index of in-shape ordinal i*checkpointStride
	scannedRaw  int64   // raw cells examined while building checkpoints
	scannedHits int64   // in-shape cells among them

	lastN   int64
	lastRaw int64

	total int64 // -1 until computed
}

// New creates an iterator for a shape and pattern.
func New(shape domain.Shape, pattern domain.Pattern) *Iterator {
	w := newWalk(shape, pattern)
	return &Iterator{
		shape:   shape,
		pattern: pattern,
		walk:    w,
		size:    w.size(),
		dense:   isDense(shape, w),
		lastN:   -1,
		total:   -1,
	}
}

// Shape returns the iterator's shape.
func (it *Iterator) Shape() domain.Shape { return it.shape }

// Pattern returns the iterator's pattern.
func (it *Iterator) Pattern() domain.Pattern { return it.pattern }

// Nth returns the n-th in-shape coordinate, or false at End.
func (it *Iterator) Nth(n int64) (domain.Coord, bool) {
	if n < 0 {
		return domain.Coord{}, false
	}
	if it.dense {
		if n >= it.size {
			return domain.Coord{}, false
		}
		return it.walk.at(n), true
	}

	switch {
	case it.lastN >= 0 && n == it.lastN:
		return it.walk.at(it.lastRaw), true
	case it.lastN >= 0 && n == it.lastN+1:
		k, ok := it.nextHit(it.lastRaw + 1)
		if !ok {
			it.noteTotal(n)
			return domain.Coord{}, false
		}
		it.lastN, it.lastRaw = n, k
		return it.walk.at(k), true
	}

	it.indexTo(n)
	if it.scannedHits <= n {
		return domain.Coord{}, false
	}
	cp := n / checkpointStride
	k := it.checkpoints[cp]
	for hits := cp * checkpointStride; ; k++ {
		if it.containsRaw(k) {
			if hits == n {
				break
			}
			hits++
		}
	}
	it.lastN, it.lastRaw = n, k
	return it.walk.at(k), true
}

// Total returns the number of in-shape cells.
func (it *Iterator) Total() int64 {
	if it.total < 0 {
		it.total = Count(it.shape)
	}
	return it.total
}

// nextHit scans forward from raw index k for the next in-shape cell.
func (it *Iterator) nextHit(k int64) (int64, bool) {
	for ; k < it.size; k++ {
		if it.containsRaw(k) {
			return k, true
		}
	}
	return 0, false
}

// indexTo extends the checkpoint index until ordinal n is covered or the walk
// is exhausted.
func (it *Iterator) indexTo(n int64) {
	for it.scannedHits <= n && it.scannedRaw < it.size {
		k := it.scannedRaw
		if it.containsRaw(k) {
			if it.scannedHits%checkpointStride == 0 {
				it.checkpoints = append(it.checkpoints, k)
			}
			it.scannedHits++
		}
		it.scannedRaw++
	}
	if it.scannedRaw >= it.size {
		it.total = it.scannedHits
	}
}

// noteTotal records the count learned when a sequential scan ran off the end.
func (it *Iterator) noteTotal(n int64) {
	if it.total < 0 {
		it.total = n
	}
}

func (it *Iterator) containsRaw(k int64) bool {
	c := it.walk.at(k)
	return it.shape.Contains(c.X, c.Z)
}

// isDense reports whether the raw walk visits only in-shape cells, letting Nth
// skip filtering entirely.
func isDense(shape domain.Shape, w walk) bool {
	switch shape.Kind {
	case domain.ShapeSquare, domain.ShapeRectangle:
	default:
		return false
	}
	switch w.(type) {
	case loopWalk:
		return true
	case ringWalk:
		return shape.RadiusX == shape.RadiusZ
	default:
		return false
	}
}

// Count returns the number of cells for which shape.Contains holds.
func Count(shape domain.Shape) int64 {
	box := shape.BoundingBox()
	switch shape.Kind {
	case domain.ShapeSquare, domain.ShapeRectangle:
		return int64(box.Width()) * int64(box.Height())
	case domain.ShapeCircle, domain.ShapeOval:
		// Elliptical rows are contiguous and symmetric about the center column.
		var total int64
		for z := box.MinZ; z <= box.MaxZ; z++ {
			if !shape.Contains(shape.CenterX, z) {
				continue
			}
			lo, hi := 0, shape.RadiusX
			for lo < hi {
				mid := (lo + hi + 1) / 2
				if shape.Contains(shape.CenterX+mid, z) {
					lo = mid
				} else {
					hi = mid - 1
				}
			}
			total += int64(2*lo + 1)
		}
		return total
	default:
		outline := shape.Outline()
		var total int64
		for z := box.MinZ; z <= box.MaxZ; z++ {
			total += polygonRow(shape, outline, box, z)
		}
		return total
	}
}

// crossingSlack returns how far around an edge crossing cells are tested one
// by one. Contains treats points within a unit-scale epsilon of an edge as on
// it, which in cells grows with the radius.
func crossingSlack(shape domain.Shape) float64 {
	return 1e-6 * (1 + float64(maxInt(shape.RadiusX, shape.RadiusZ))/100)
}

// polygonRow counts the members of row z. Membership can only change where
// the row crosses an edge, so cells near a crossing are tested individually
// and each run of cells between two crossings is settled by one test.
func polygonRow(shape domain.Shape, outline [][2]float64, box domain.Box, z int) int64 {
	fz := float64(z)
	slack := crossingSlack(shape)
	var near []int
	addNear := func(x float64) {
		lo := int(math.Floor(x - slack))
		hi := int(math.Ceil(x + slack))
		for i := lo; i <= hi; i++ {
			if i >= box.MinX && i <= box.MaxX {
				near = append(near, i)
			}
		}
	}
	for i, j := 0, len(outline)-1; i < len(outline); j, i = i, i+1 {
		a, b := outline[i], outline[j]
		if math.Abs(a[1]-b[1]) <= slack {
			if math.Abs(fz-a[1]) <= slack {
				addNear(a[0])
				addNear(b[0])
			}
			continue
		}
		if fz < math.Min(a[1], b[1])-slack || fz > math.Max(a[1], b[1])+slack {
			continue
		}
		addNear(a[0] + (fz-a[1])*(b[0]-a[0])/(b[1]-a[1]))
	}
	sort.Ints(near)

	var total int64
	prev := box.MinX - 1
	for _, x := range append(near, box.MaxX+1) {
		if x <= prev {
			continue
		}
		if x-prev > 1 && shape.Contains(prev+1, z) {
			total += int64(x - prev - 1)
		}
		if x <= box.MaxX && shape.Contains(x, z) {
			total++
		}
		prev = x
	}
	return total
}
