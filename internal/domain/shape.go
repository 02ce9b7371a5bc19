// Package domain — region geometry.
// A Shape bounds a generation task. It is pure: membership and bounding box
// depend only on the kind, the center and the two radii.
package domain

import (
	"fmt"
	"math"
	"strings"
)

// ShapeKind is the closed set of supported region shapes.
type ShapeKind int

const (
	ShapeSquare ShapeKind = iota
	ShapeCircle
	ShapeRectangle
	ShapeOval
	ShapeTriangle
	ShapePentagon
	ShapeHexagon
	ShapeStar
)

// ShapeKinds lists every kind in declaration order.
var ShapeKinds = []ShapeKind{
	ShapeSquare, ShapeCircle, ShapeRectangle, ShapeOval,
	ShapeTriangle, ShapePentagon, ShapeHexagon, ShapeStar,
}

// String returns the persisted name of the kind.
func (k ShapeKind) String() string {
	switch k {
	case ShapeSquare:
		return "square"
	case ShapeCircle:
		return "circle"
	case ShapeRectangle:
		return "rectangle"
	case ShapeOval:
		return "oval"
	case ShapeTriangle:
		return "triangle"
	case ShapePentagon:
		return "pentagon"
	case ShapeHexagon:
		return "hexagon"
	case ShapeStar:
		return "star"
	default:
		return "unknown"
	}
}

// Symmetric reports whether the kind uses a single radius. For these kinds
// radiusZ always equals radiusX.
func (k ShapeKind) Symmetric() bool {
	switch k {
	case ShapeRectangle, ShapeOval:
		return false
	default:
		return true
	}
}

// ParseShapeKind maps a persisted or user-supplied name to a kind.
func ParseShapeKind(s string) (ShapeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "square":
		return ShapeSquare, nil
	case "circle":
		return ShapeCircle, nil
	case "rectangle":
		return ShapeRectangle, nil
	case "oval", "ellipse":
		return ShapeOval, nil
	case "triangle":
		return ShapeTriangle, nil
	case "pentagon":
		return ShapePentagon, nil
	case "hexagon":
		return ShapeHexagon, nil
	case "star":
		return ShapeStar, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownShape, s)
	}
}

// Coord is a cell position on the grid.
type Coord struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Box is an inclusive axis-aligned rectangle of cells.
type Box struct {
	MinX int `json:"min_x"`
	MinZ int `json:"min_z"`
	MaxX int `json:"max_x"`
	MaxZ int `json:"max_z"`
}

// Width returns the number of columns in the box.
func (b Box) Width() int { return b.MaxX - b.MinX + 1 }

// Height returns the number of rows in the box.
func (b Box) Height() int { return b.MaxZ - b.MinZ + 1 }

// Shape is an immutable region definition.
type Shape struct {
	Kind    ShapeKind `json:"kind"`
	CenterX int       `json:"center_x"`
	CenterZ int       `json:"center_z"`
	RadiusX int       `json:"radius_x"`
	RadiusZ int       `json:"radius_z"`
}

// NewShape builds a shape and validates it. For symmetric kinds radiusZ is
// forced to radiusX; a radiusZ of 0 on the other kinds also defaults to radiusX.
func NewShape(kind ShapeKind, centerX, centerZ, radiusX, radiusZ int) (Shape, error) {
	if kind.Symmetric() || radiusZ == 0 {
		radiusZ = radiusX
	}
	s := Shape{Kind: kind, CenterX: centerX, CenterZ: centerZ, RadiusX: radiusX, RadiusZ: radiusZ}
	if err := s.Validate(); err != nil {
		return Shape{}, err
	}
	return s, nil
}

// Validate rejects non-positive radii and unknown kinds.
func (s Shape) Validate() error {
	if s.Kind < ShapeSquare || s.Kind > ShapeStar {
		return fmt.Errorf("%w: kind %d", ErrUnknownShape, int(s.Kind))
	}
	if s.RadiusX < 1 || s.RadiusZ < 1 {
		return fmt.Errorf("%w: radii must be >= 1 (got %d, %d)", ErrInvalidShape, s.RadiusX, s.RadiusZ)
	}
	if s.Kind.Symmetric() && s.RadiusX != s.RadiusZ {
		return fmt.Errorf("%w: %s takes a single radius", ErrInvalidShape, s.Kind)
	}
	return nil
}

// BoundingBox returns the box every variant is a subset of.
func (s Shape) BoundingBox() Box {
	return Box{
		MinX: s.CenterX - s.RadiusX,
		MinZ: s.CenterZ - s.RadiusZ,
		MaxX: s.CenterX + s.RadiusX,
		MaxZ: s.CenterZ + s.RadiusZ,
	}
}

// Center returns the center cell.
func (s Shape) Center() Coord {
	return Coord{X: s.CenterX, Z: s.CenterZ}
}

// Contains reports whether the cell (x, z) belongs to the region.
func (s Shape) Contains(x, z int) bool {
	dx := int64(x - s.CenterX)
	dz := int64(z - s.CenterZ)
	rx := int64(s.RadiusX)
	rz := int64(s.RadiusZ)
	if abs64(dx) > rx || abs64(dz) > rz {
		return false
	}

	switch s.Kind {
	case ShapeSquare, ShapeRectangle:
		return true
	case ShapeCircle, ShapeOval:
		if rx == 0 || rz == 0 {
			return true // degenerate: the box test above already pinned the axis
		}
		return dx*dx*rz*rz+dz*dz*rx*rx <= rx*rx*rz*rz
	case ShapeTriangle, ShapePentagon, ShapeHexagon, ShapeStar:
		u, v := 0.0, 0.0
		if rx > 0 {
			u = float64(dx) / float64(rx)
		}
		if rz > 0 {
			v = float64(dz) / float64(rz)
		}
		return insidePolygon(polygonVertices(s.Kind), u, v)
	default:
		return false
	}
}

// Outline returns the polygon vertices in cell coordinates for the polygon
// kinds, and nil for the box and ellipse kinds.
func (s Shape) Outline() [][2]float64 {
	verts := polygonVertices(s.Kind)
	if verts == nil {
		return nil
	}
	out := make([][2]float64, len(verts))
	for i, v := range verts {
		out[i] = [2]float64{
			float64(s.CenterX) + v.x*float64(s.RadiusX),
			float64(s.CenterZ) + v.z*float64(s.RadiusZ),
		}
	}
	return out
}

// String renders the shape for logs.
func (s Shape) String() string {
	if s.Kind.Symmetric() {
		return fmt.Sprintf("%s center=(%d,%d) radius=%d", s.Kind, s.CenterX, s.CenterZ, s.RadiusX)
	}
	return fmt.Sprintf("%s center=(%d,%d) radius=%dx%d", s.Kind, s.CenterX, s.CenterZ, s.RadiusX, s.RadiusZ)
}

// ─── Polygons ───────────────────────────────────────────────────────────────

type point struct{ x, z float64 }

const polygonEpsilon = 1e-9

var (
	triangleVertices = regularPolygon(3)
	pentagonVertices = regularPolygon(5)
	hexagonVertices  = regularPolygon(6)
	starVertices     = starPolygon(5, 0.5)
)

func polygonVertices(k ShapeKind) []point {
	switch k {
	case ShapeTriangle:
		return triangleVertices
	case ShapePentagon:
		return pentagonVertices
	case ShapeHexagon:
		return hexagonVertices
	case ShapeStar:
		return starVertices
	default:
		return nil
	}
}

// regularPolygon returns n unit-circle vertices, the first one due north (-z),
// proceeding clockwise.
func regularPolygon(n int) []point {
	pts := make([]point, n)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = point{x: round9(math.Sin(a)), z: round9(-math.Cos(a))}
	}
	return pts
}

// starPolygon alternates outer points on the unit circle with inner points at
// the given ratio.
func starPolygon(points int, inner float64) []point {
	n := points * 2
	pts := make([]point, n)
	for i := 0; i < n; i++ {
		r := 1.0
		if i%2 == 1 {
			r = inner
		}
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = point{x: round9(r * math.Sin(a)), z: round9(-r * math.Cos(a))}
	}
	return pts
}

// round9 snaps trigonometric noise so symmetric vertices stay symmetric.
func round9(f float64) float64 {
	return math.Round(f*1e9) / 1e9
}

// insidePolygon is a crossing-number test that counts points on an edge as inside.
func insidePolygon(poly []point, x, z float64) bool {
	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if onSegment(a, b, x, z) {
			return true
		}
		if (a.z > z) != (b.z > z) {
			xCross := a.x + (z-a.z)*(b.x-a.x)/(b.z-a.z)
			if x < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b point, x, z float64) bool {
	cross := (b.x-a.x)*(z-a.z) - (b.z-a.z)*(x-a.x)
	if math.Abs(cross) > polygonEpsilon {
		return false
	}
	return x >= math.Min(a.x, b.x)-polygonEpsilon && x <= math.Max(a.x, b.x)+polygonEpsilon &&
		z >= math.Min(a.z, b.z)-polygonEpsilon && z <= math.Max(a.z, b.z)+polygonEpsilon
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// MarshalText encodes the kind by name.
func (k ShapeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *ShapeKind) UnmarshalText(b []byte) error {
	v, err := ParseShapeKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
